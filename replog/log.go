// Package replog keeps a participant's ordered record of applied strokes.
//
// Replaying the log from a blank surface reproduces the canvas, which is
// how undo works: drop the newest stroke, reset, replay the rest. Undo is
// purely local and is never sent to other participants, so canvases can
// diverge after an undo.
//
// The log has no size bound. It grows for the lifetime of a session until a
// Clear.
package replog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"whiteboard/commons"
)

// ErrInvalidStroke is returned for strokes that fail commons.Validate.
var ErrInvalidStroke = errors.New("invalid stroke")

// Surface is the rendering collaborator the log drives.
type Surface interface {
	// DrawSegment renders one stroke segment. Out-of-range coordinates are the surface's problem.
	DrawSegment(d commons.Draw)
	// Reset blanks the surface.
	Reset()
}

type Log struct {
	mu      sync.Mutex
	entries []commons.Draw
	surface Surface
	logger  logrus.FieldLogger
}

func New(surface Surface, logger logrus.FieldLogger) *Log {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Log{surface: surface, logger: logger}
}

// Apply renders d and, when record is set, appends it to the log. An
// invalid stroke is dropped with a warning.
func (l *Log) Apply(d commons.Draw, record bool) error {
	if err := commons.Validate(d); err != nil {
		l.logger.WithError(err).Warn("dropping invalid stroke")
		return fmt.Errorf("%w: %w", ErrInvalidStroke, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.surface.DrawSegment(d)
	if record {
		l.entries = append(l.entries, d)
	}
	return nil
}

// ApplyRemote records a relayed stroke exactly like a local one, so undo
// removes the most recently applied stroke whoever drew it.
func (l *Log) ApplyRemote(d commons.Draw) error {
	return l.Apply(d, true)
}

// Clear empties the log and blanks the surface. Sending CLEAR outward is the caller's job.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.surface.Reset()
}

// Undo drops the newest stroke and redraws the rest in order. It reports
// false, and touches nothing, when the log is empty.
func (l *Log) Undo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return false
	}

	l.entries = l.entries[:len(l.entries)-1]
	l.surface.Reset()
	for _, d := range l.entries {
		l.surface.DrawSegment(d)
	}

	l.logger.WithField("remaining", len(l.entries)).Debug("undo")
	return true
}

// Replay draws the whole log onto another surface, starting from a reset.
func (l *Log) Replay(s Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.Reset()
	for _, d := range l.entries {
		s.DrawSegment(d)
	}
}

// Entries returns a copy of the log in application order.
func (l *Log) Entries() []commons.Draw {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]commons.Draw, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
