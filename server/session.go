package server

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whiteboard/commons"
	"whiteboard/transport"
)

// State is where a session is in its lifecycle.
type State int32

const (
	StateConnecting State = iota // accepted, identity unknown
	StateIdentified              // JOIN seen, name stored
	StateActive                  // JOIN relayed to the others
	StateClosing                 // reading stopped or dropped by the hub
	StateClosed                  // transport released
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one connected participant.
type Session struct {
	ID uuid.UUID

	conn   transport.Conn
	hub    *Hub
	send   chan string
	logger logrus.FieldLogger

	mu       sync.RWMutex
	username string
	state    atomic.Int32

	// leftAnnounced is only touched from the hub goroutine.
	leftAnnounced bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn transport.Conn, hub *Hub, sendBuffer int, logger logrus.FieldLogger) *Session {
	id := uuid.New()
	return &Session{
		ID:   id,
		conn: conn,
		hub:  hub,
		send: make(chan string, sendBuffer),
		logger: logger.WithFields(logrus.Fields{
			"session": id.String(),
			"remote":  conn.RemoteAddr(),
		}),
		done: make(chan struct{}),
	}
}

// Username is empty until the first JOIN.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Done is closed once the transport has been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue hands a line to the writer without blocking. Only the hub
// goroutine calls it, and only the hub closes send, so the two never race.
func (s *Session) enqueue(line string) bool {
	select {
	case s.send <- line:
		return true
	default:
		return false
	}
}

// Close releases the transport. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !transport.IsClosed(err) {
			s.logger.WithError(err).Debug("closing transport")
		}
	})
}

// start launches the reader and writer. The session must already be registered.
func (s *Session) start() {
	go s.writePump()
	go s.readPump()
}

// readPump decodes lines from the peer and hands them to the hub in order.
func (s *Session) readPump() {
	defer func() {
		if s.State() < StateClosing {
			s.setState(StateClosing)
		}
		if err := s.hub.Unregister(s); err != nil {
			s.logger.WithError(err).Debug("unregister after hub shutdown")
		}
		s.Close()
	}()

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if transport.IsClosed(err) {
				s.logger.WithField("username", s.Username()).Info("peer disconnected")
			} else {
				s.logger.WithError(err).WithField("username", s.Username()).Warn("read failed, closing session")
			}
			return
		}

		cmd, err := commons.Decode(line)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed line")
			continue
		}

		if err := s.hub.deliver(s, cmd, line); err != nil {
			return
		}
		if cmd.Kind() == commons.LeftKind {
			return
		}
	}
}

// writePump flushes queued lines to the peer until the hub closes the queue.
func (s *Session) writePump() {
	defer func() {
		s.Close()
		s.setState(StateClosed)
		close(s.done)
	}()

	for line := range s.send {
		if err := s.conn.WriteLine(line); err != nil {
			s.logger.WithError(err).Warn("write failed, closing session")
			return
		}
	}
}
