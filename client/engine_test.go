package client_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard/client"
	"whiteboard/commons"
	"whiteboard/replog"
)

// memConn feeds queued lines to ReadLine and records writes.
type memConn struct {
	incoming chan string

	mu      sync.Mutex
	written []string

	closeOnce sync.Once
	closed    chan struct{}

	// onWrite, if set, runs after each successful write.
	onWrite func(line string)
}

func newMemConn() *memConn {
	return &memConn{incoming: make(chan string, 16), closed: make(chan struct{})}
}

func (c *memConn) ReadLine() (string, error) {
	select {
	case line, ok := <-c.incoming:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-c.closed:
		return "", io.ErrClosedPipe
	}
}

func (c *memConn) WriteLine(line string) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, line)
	c.mu.Unlock()
	if c.onWrite != nil {
		c.onWrite(line)
	}
	return nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) RemoteAddr() string { return "mem" }

func (c *memConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type notices struct {
	mu  sync.Mutex
	got []client.Notice
}

func (n *notices) Notify(x client.Notice) {
	n.mu.Lock()
	n.got = append(n.got, x)
	n.mu.Unlock()
}

func (n *notices) all() []client.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]client.Notice(nil), n.got...)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T) (*client.Engine, *memConn, *replog.Recorder, *notices) {
	t.Helper()
	conn := newMemConn()
	rec := &replog.Recorder{}
	seen := &notices{}
	e, err := client.NewEngine(conn, "alice", rec, seen, quietLogger())
	require.NoError(t, err)
	return e, conn, rec, seen
}

var red = client.Color{R: 255}

func TestNewEngine_RejectsBadUsername(t *testing.T) {
	for _, name := range []string{"", "a:b", "two\nlines"} {
		_, err := client.NewEngine(newMemConn(), name, &replog.Recorder{}, nil, quietLogger())
		assert.ErrorIs(t, err, commons.ErrMalformed, name)
	}
}

func TestEngine_LocalActions(t *testing.T) {
	e, conn, rec, _ := newEngine(t)

	require.NoError(t, e.Join())
	require.NoError(t, e.OnLocalStroke(1, 2, 3, 4, red, 5))
	require.NoError(t, e.SendChat("multi\nline\r\nchat"))
	require.NoError(t, e.OnLocalClear())

	want := []string{
		"JOIN:alice",
		"DRAW:alice:1,2,3,4,255,0,0,5",
		"CHAT:alice:multi line chat",
		"CLEAR:alice",
	}
	if diff := cmp.Diff(want, conn.sent()); diff != "" {
		t.Errorf("sent lines (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, e.Log().Len())
	assert.Empty(t, rec.Canvas())
}

func TestEngine_LocalStrokeAppliedBeforeSend(t *testing.T) {
	e, conn, rec, _ := newEngine(t)

	require.NoError(t, e.OnLocalStroke(0, 0, 10, 10, red, 2))
	assert.Equal(t, 1, e.Log().Len())
	assert.Len(t, rec.Canvas(), 1)
	assert.Len(t, conn.sent(), 1)

	err := e.OnLocalStroke(0, 0, 1, 1, client.Color{G: 300}, 2)
	assert.ErrorIs(t, err, replog.ErrInvalidStroke)
	assert.Equal(t, 1, e.Log().Len())
	assert.Len(t, conn.sent(), 1, "invalid strokes are not sent")
}

func TestEngine_UndoStaysLocal(t *testing.T) {
	e, conn, rec, _ := newEngine(t)
	require.NoError(t, e.OnLocalStroke(0, 0, 10, 10, red, 2))
	e.OnIncomingLine("DRAW:bob:5,5,6,6,0,0,255,1")

	require.True(t, e.OnLocalUndo())
	assert.Equal(t, []commons.Draw{{Username: "alice", X2: 10, Y2: 10, Red: 255, StrokeWidth: 2}}, rec.Canvas())
	assert.Len(t, conn.sent(), 1, "undo sends nothing")
}

func TestEngine_OnIncomingLine(t *testing.T) {
	e, conn, rec, seen := newEngine(t)

	e.OnIncomingLine("JOIN:bob")
	e.OnIncomingLine("DRAW:bob:1,1,2,2,0,128,0,4")
	e.OnIncomingLine("CHAT:bob:hi: all")
	assert.Equal(t, 1, e.Log().Len())
	assert.Len(t, rec.Canvas(), 1)

	e.OnIncomingLine("CLEAR:bob")
	assert.Equal(t, 0, e.Log().Len())
	assert.Empty(t, rec.Canvas())

	e.OnIncomingLine("LEFT:bob")
	e.OnIncomingLine("welcome to the board")

	want := []client.Notice{
		{Kind: client.NoticeSystem, Username: "bob", Text: "[System] bob joined."},
		{Kind: client.NoticeChat, Username: "bob", Text: "bob: hi: all"},
		{Kind: client.NoticeSystem, Username: "bob", Text: "[System] bob left."},
		{Kind: client.NoticeServer, Text: "[Server] welcome to the board"},
	}
	if diff := cmp.Diff(want, seen.all()); diff != "" {
		t.Errorf("notices (-want +got):\n%s", diff)
	}
	assert.Empty(t, conn.sent(), "incoming lines are never echoed")
}

func TestEngine_RunReportsLostConnection(t *testing.T) {
	e, conn, rec, seen := newEngine(t)

	conn.incoming <- "DRAW:bob:1,1,2,2,0,0,0,1"
	close(conn.incoming)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, rec.Canvas(), 1)
	assert.Contains(t, seen.all(), client.Notice{Kind: client.NoticeDisconnected, Text: "Connection lost to server."})
}

func TestEngine_CloseSendsLeft(t *testing.T) {
	e, conn, _, seen := newEngine(t)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, []string{"LEFT:alice"}, conn.sent())
	assert.Empty(t, seen.all())
	assert.ErrorIs(t, e.SendChat("late"), client.ErrClosed)
}

func TestEngine_HangupAfterLeftIsNotReported(t *testing.T) {
	e, conn, _, seen := newEngine(t)
	done := make(chan error, 1)

	// the relay hangs up as soon as it reads LEFT, before Close has returned
	var runErr error
	returned := false
	conn.onWrite = func(line string) {
		if line != "LEFT:alice" {
			return
		}
		close(conn.incoming)
		select {
		case runErr = <-done:
			returned = true
		case <-time.After(2 * time.Second):
		}
	}

	go func() { done <- e.Run(context.Background()) }()
	require.NoError(t, e.Close())

	require.True(t, returned, "Run did not return when the relay hung up")
	assert.NoError(t, runErr)
	assert.Empty(t, seen.all())
	assert.Equal(t, []string{"LEFT:alice"}, conn.sent())
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, _, _, seen := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, seen.all())
}

func TestHeadless(t *testing.T) {
	color.NoColor = true
	e, conn, _, _ := newEngine(t)
	var out bytes.Buffer
	fs := afero.NewMemMapFs()
	h := &client.Headless{Engine: e, Console: client.NewConsole(&out), Fs: fs}

	input := strings.Join([]string{
		"hello there",
		"/undo",
		"",
		"/export",
		"/export board.pdf",
		"/clear",
		"/dance",
		"/quit",
		"never sent",
	}, "\n")
	require.NoError(t, h.Run(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{"CHAT:alice:hello there", "CLEAR:alice"}, conn.sent())
	exists, err := afero.Exists(fs, "board.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	printed := out.String()
	for _, want := range []string{"nothing to undo", "usage: /export", "exported 0 strokes to board.pdf", "board cleared", "unknown command /dance"} {
		assert.Contains(t, printed, want)
	}
}

func TestConsoleFormatsNotices(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	c := client.NewConsole(&out)

	c.Notify(client.Notice{Kind: client.NoticeChat, Text: "bob: hi"})
	c.Notify(client.Notice{Kind: client.NoticeSystem, Text: "[System] bob joined."})

	assert.Equal(t, "bob: hi\n[System] bob joined.\n", out.String())
}
