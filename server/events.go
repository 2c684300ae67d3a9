package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

const (
	TopicSessionJoined = "session.joined"
	TopicSessionLeft   = "session.left"
)

// eventQueue bounds how many lifecycle events may wait for publication.
const eventQueue = 1024

// SessionEvent is the payload of both lifecycle topics.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	Remote    string    `json:"remote"`
	At        time.Time `json:"at"`
}

// EventHandler processes one lifecycle event.
type EventHandler func(ctx context.Context, topic string, ev SessionEvent) error

type pending struct {
	topic string
	ev    SessionEvent
}

// EventBus publishes session lifecycle events on an in-process watermill
// GoChannel. Emit never blocks the caller: events are queued and published
// in order by a single goroutine, and publishing waits for subscribers to
// ack so a joined event is always handled before the matching left.
type EventBus struct {
	pubsub *gochannel.GoChannel
	logger logrus.FieldLogger

	queue     chan pending
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewEventBus(logger logrus.FieldLogger) *EventBus {
	logger = logger.WithField("component", "events")
	b := &EventBus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{BlockPublishUntilSubscriberAck: true},
			newWatermillLogger(logger),
		),
		logger: logger,
		queue:  make(chan pending, eventQueue),
	}

	b.wg.Add(1)
	go b.publishLoop()
	return b
}

// Emit queues an event. When the queue is full the event is dropped with a warning.
func (b *EventBus) Emit(topic string, ev SessionEvent) {
	select {
	case b.queue <- pending{topic: topic, ev: ev}:
	default:
		b.logger.WithFields(logrus.Fields{"topic": topic, "session": ev.SessionID}).Warn("event queue full, dropping event")
	}
}

func (b *EventBus) publishLoop() {
	defer b.wg.Done()

	for p := range b.queue {
		payload, err := json.Marshal(p.ev)
		if err != nil {
			b.logger.WithError(err).Error("encoding event")
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := b.pubsub.Publish(p.topic, msg); err != nil {
			b.logger.WithError(err).WithField("topic", p.topic).Error("publishing event")
		}
	}
}

// Subscribe runs handler for every event on topic until ctx is done or the
// bus is closed. It returns once the subscription is active.
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) error {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			var ev SessionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.WithError(err).WithField("msg_id", msg.UUID).Error("decoding event")
			} else if err := handler(msg.Context(), topic, ev); err != nil {
				b.logger.WithError(err).WithFields(logrus.Fields{"topic": topic, "msg_id": msg.UUID}).Error("handling event")
			}
			// a nack would make the GoChannel redeliver forever
			msg.Ack()
		}
	}()
	return nil
}

// Close flushes queued events and shuts the GoChannel down.
func (b *EventBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.queue)
		b.wg.Wait()
		err = b.pubsub.Close()
	})
	return err
}

// watermillLogger routes watermill's logging into logrus one level quieter,
// since the GoChannel logs every subscription at info.
type watermillLogger struct {
	entry *logrus.Entry
}

func newWatermillLogger(logger logrus.FieldLogger) watermill.LoggerAdapter {
	return watermillLogger{entry: logger.WithField("lib", "watermill")}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}
