package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whiteboard/commons"
)

const reasonSlow = "slow consumer"

// ErrHubClosed is returned by hub operations after Run has returned.
var ErrHubClosed = errors.New("hub closed")

type requestKind int

const (
	addRequest requestKind = iota
	deleteRequest
	messageRequest
	relayRequest
	readRequest
)

// request is everything the hub goroutine acts on. A single queue keeps a
// session's own add, message and delete requests in the order it sent them.
type request struct {
	kind    requestKind
	session *Session
	cmd     commons.Command
	line    string
	resp    chan []*Session
}

// Emitter receives session lifecycle events. Emit must not block.
type Emitter interface {
	Emit(topic string, ev SessionEvent)
}

// Hub owns the set of live sessions and fans lines out to them. All
// membership changes and relays happen on the Run goroutine, so a relay
// never sees a half-registered session.
type Hub struct {
	requests chan request
	list     map[uuid.UUID]*Session
	events   Emitter
	logger   logrus.FieldLogger

	done chan struct{}
}

func NewHub(events Emitter, logger logrus.FieldLogger) *Hub {
	return &Hub{
		requests: make(chan request),
		list:     make(map[uuid.UUID]*Session),
		events:   events,
		logger:   logger.WithField("component", "hub"),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case req := <-h.requests:
			switch req.kind {
			case addRequest:
				h.add(req.session)
			case deleteRequest:
				h.remove(req.session, "disconnected")
			case messageRequest:
				h.handle(req.session, req.cmd, req.line)
			case relayRequest:
				h.relay(req.line, req.session)
			case readRequest:
				out := make([]*Session, 0, len(h.list))
				for _, s := range h.list {
					out = append(out, s)
				}
				req.resp <- out
			}
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) submit(req request) error {
	select {
	case h.requests <- req:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Register adds s to the relay set. Registering twice is a no-op.
func (h *Hub) Register(s *Session) error {
	return h.submit(request{kind: addRequest, session: s})
}

// Unregister removes s, announcing an implicit LEFT if the others were told
// it joined and never heard it leave. Unknown sessions are ignored.
func (h *Hub) Unregister(s *Session) error {
	return h.submit(request{kind: deleteRequest, session: s})
}

// Relay sends line to every session except exclude, which may be nil.
func (h *Hub) Relay(line string, exclude *Session) error {
	return h.submit(request{kind: relayRequest, session: exclude, line: line})
}

// Sessions returns a snapshot of the registered sessions.
func (h *Hub) Sessions() ([]*Session, error) {
	resp := make(chan []*Session, 1)
	if err := h.submit(request{kind: readRequest, resp: resp}); err != nil {
		return nil, err
	}
	return <-resp, nil
}

func (h *Hub) deliver(s *Session, cmd commons.Command, line string) error {
	return h.submit(request{kind: messageRequest, session: s, cmd: cmd, line: line})
}

func (h *Hub) add(s *Session) {
	if _, ok := h.list[s.ID]; ok {
		return
	}
	h.list[s.ID] = s
	h.logger.WithFields(logrus.Fields{
		"session":  s.ID.String(),
		"remote":   s.RemoteAddr(),
		"sessions": len(h.list),
	}).Info("session registered")
}

func (h *Hub) handle(s *Session, cmd commons.Command, line string) {
	if _, ok := h.list[s.ID]; !ok {
		h.logger.WithField("session", s.ID.String()).Debug("message from unregistered session dropped")
		return
	}

	switch c := cmd.(type) {
	case commons.Join:
		previous := s.Username()
		s.setUsername(c.Username)
		s.setState(StateIdentified)
		h.relay(commons.Encode(c), s)
		s.setState(StateActive)

		entry := h.logger.WithFields(logrus.Fields{"session": s.ID.String(), "username": c.Username})
		if previous != "" && previous != c.Username {
			entry.WithField("previous", previous).Info("participant renamed")
		} else {
			entry.Info("participant joined")
		}
		h.emit(TopicSessionJoined, s)

	case commons.Left:
		if c.Username != "" {
			s.setUsername(c.Username)
		}
		if s.Username() != "" {
			h.relay(commons.Encode(commons.Left{Username: s.Username()}), s)
		}
		s.leftAnnounced = true
		h.remove(s, "left")

	default:
		h.relay(line, s)
	}
}

// relay enqueues line for everyone but exclude. Sessions whose queue is full
// are dropped after the fan-out so the map is not mutated mid-iteration.
func (h *Hub) relay(line string, exclude *Session) {
	var slow []*Session
	for id, s := range h.list {
		if exclude != nil && id == exclude.ID {
			continue
		}
		if !s.enqueue(line) {
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.remove(s, reasonSlow)
	}
}

func (h *Hub) remove(s *Session, reason string) {
	if _, ok := h.list[s.ID]; !ok {
		return
	}
	delete(h.list, s.ID)
	s.setState(StateClosing)
	close(s.send)

	name := s.Username()
	entry := h.logger.WithFields(logrus.Fields{
		"session":  s.ID.String(),
		"username": name,
		"reason":   reason,
		"sessions": len(h.list),
	})
	if reason == reasonSlow {
		// the writer may be stuck on the peer, release it now
		s.Close()
		entry.Warn("session dropped")
	} else {
		entry.Info("session removed")
	}

	if name == "" {
		return
	}
	if !s.leftAnnounced {
		s.leftAnnounced = true
		h.relay(commons.Encode(commons.Left{Username: name}), s)
	}
	h.emit(TopicSessionLeft, s)
}

func (h *Hub) closeAll() {
	for id, s := range h.list {
		delete(h.list, id)
		s.setState(StateClosing)
		close(s.send)
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) emit(topic string, s *Session) {
	if h.events == nil {
		return
	}
	h.events.Emit(topic, SessionEvent{
		SessionID: s.ID.String(),
		Username:  s.Username(),
		Remote:    s.RemoteAddr(),
		At:        time.Now().UTC(),
	})
}
