// Package client is the participant side of the whiteboard: it turns local
// gestures into commands, applies relayed commands to the local log, and
// reports chat and presence to whatever front end is attached.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"whiteboard/commons"
	"whiteboard/replog"
	"whiteboard/transport"
)

// ErrClosed is returned when sending after Close.
var ErrClosed = errors.New("client closed")

// Color is an RGB stroke colour, each channel 0-255.
type Color struct {
	R, G, B int
}

type NoticeKind int

const (
	NoticeChat NoticeKind = iota
	NoticeSystem
	NoticeServer
	NoticeDisconnected
)

// Notice is a line of text for the chat/status area, already formatted.
// Username is the participant it is about, if any.
type Notice struct {
	Kind     NoticeKind
	Username string
	Text     string
}

// Notifier receives notices. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type Engine struct {
	conn     transport.Conn
	username string
	log      *replog.Log
	notifier Notifier
	logger   logrus.FieldLogger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewEngine wires a connection to a rendering surface. username must be a
// valid JOIN name.
func NewEngine(conn transport.Conn, username string, surface replog.Surface, notifier Notifier, logger logrus.FieldLogger) (*Engine, error) {
	if err := commons.Validate(commons.Join{Username: username}); err != nil {
		return nil, fmt.Errorf("username %q: %w", username, err)
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	logger = logger.WithField("username", username)
	return &Engine{
		conn:     conn,
		username: username,
		log:      replog.New(surface, logger),
		notifier: notifier,
		logger:   logger,
	}, nil
}

func (e *Engine) Username() string {
	return e.username
}

func (e *Engine) Log() *replog.Log {
	return e.log
}

// Join announces the participant. Call it once, right after connecting.
func (e *Engine) Join() error {
	return e.send(commons.Join{Username: e.username})
}

// OnLocalStroke draws and records a segment, then shares it.
func (e *Engine) OnLocalStroke(x1, y1, x2, y2 int, color Color, width int) error {
	d := commons.Draw{
		Username: e.username,
		X1:       x1, Y1: y1, X2: x2, Y2: y2,
		Red: color.R, Green: color.G, Blue: color.B,
		StrokeWidth: width,
	}
	if err := e.log.Apply(d, true); err != nil {
		return err
	}
	return e.send(d)
}

// OnLocalClear wipes the local canvas and tells everyone else to do the same.
func (e *Engine) OnLocalClear() error {
	e.log.Clear()
	return e.send(commons.Clear{Username: e.username})
}

// OnLocalUndo removes the newest applied stroke from this participant's
// canvas only. It reports false when there was nothing to undo.
func (e *Engine) OnLocalUndo() bool {
	return e.log.Undo()
}

// SendChat shares a chat message. Line breaks become spaces.
func (e *Engine) SendChat(text string) error {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	return e.send(commons.Chat{Username: e.username, Text: text})
}

// OnIncomingLine applies one relayed line.
func (e *Engine) OnIncomingLine(line string) {
	cmd, err := commons.Decode(line)
	if err != nil {
		e.logger.WithError(err).Debug("undecodable line from server")
		e.notifier.Notify(Notice{Kind: NoticeServer, Text: "[Server] " + line})
		return
	}

	switch c := cmd.(type) {
	case commons.Draw:
		_ = e.log.ApplyRemote(c)
	case commons.Clear:
		e.log.Clear()
	case commons.Chat:
		e.notifier.Notify(Notice{Kind: NoticeChat, Username: c.Username, Text: c.Username + ": " + c.Text})
	case commons.Join:
		e.notifier.Notify(Notice{Kind: NoticeSystem, Username: c.Username, Text: "[System] " + c.Username + " joined."})
	case commons.Left:
		e.notifier.Notify(Notice{Kind: NoticeSystem, Username: c.Username, Text: "[System] " + c.Username + " left."})
	}
}

// Run reads relayed lines until the connection ends or ctx is cancelled.
// A connection lost without Close is reported to the notifier and returned.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = e.conn.Close() })
	defer stop()

	for {
		line, err := e.conn.ReadLine()
		if err != nil {
			if e.closed.Load() || ctx.Err() != nil {
				return nil
			}
			e.logger.WithError(err).Warn("connection lost")
			e.notifier.Notify(Notice{Kind: NoticeDisconnected, Text: "Connection lost to server."})
			return fmt.Errorf("read from server: %w", err)
		}
		e.OnIncomingLine(line)
	}
}

// Close says goodbye and releases the connection.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		// closed before LEFT: a hangup in reply to it is a clean exit for Run
		e.closed.Store(true)
		if sendErr := e.write(commons.Left{Username: e.username}); sendErr != nil {
			e.logger.WithError(sendErr).Debug("could not send LEFT")
		}
		err = e.conn.Close()
		if transport.IsClosed(err) {
			err = nil
		}
	})
	return err
}

func (e *Engine) send(cmd commons.Command) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.write(cmd)
}

func (e *Engine) write(cmd commons.Command) error {
	if err := commons.Validate(cmd); err != nil {
		return err
	}
	line := commons.Encode(cmd)
	if err := e.conn.WriteLine(line); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Kind(), err)
	}
	e.logger.WithField("kind", cmd.Kind()).Trace("sent")
	return nil
}
