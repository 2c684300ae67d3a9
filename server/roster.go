package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Participant is one identified session as seen by the roster.
type Participant struct {
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	Remote    string    `json:"remote"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Roster is a read model of who is on the board, fed by lifecycle events.
type Roster struct {
	mu   sync.RWMutex
	byID map[string]Participant

	logger logrus.FieldLogger
}

func NewRoster(logger logrus.FieldLogger) *Roster {
	return &Roster{
		byID:   make(map[string]Participant),
		logger: logger.WithField("component", "roster"),
	}
}

// Attach subscribes the roster to both lifecycle topics.
func (r *Roster) Attach(ctx context.Context, bus *EventBus) error {
	if err := bus.Subscribe(ctx, TopicSessionJoined, r.handle); err != nil {
		return err
	}
	return bus.Subscribe(ctx, TopicSessionLeft, r.handle)
}

func (r *Roster) handle(_ context.Context, topic string, ev SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch topic {
	case TopicSessionJoined:
		p, ok := r.byID[ev.SessionID]
		if !ok {
			p = Participant{SessionID: ev.SessionID, Remote: ev.Remote, JoinedAt: ev.At}
		}
		p.Username = ev.Username
		r.byID[ev.SessionID] = p
	case TopicSessionLeft:
		delete(r.byID, ev.SessionID)
	}
	r.logger.WithFields(logrus.Fields{"topic": topic, "username": ev.Username, "size": len(r.byID)}).Debug("roster updated")
	return nil
}

// List returns the participants ordered by join time.
func (r *Roster) List() []Participant {
	r.mu.RLock()
	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
