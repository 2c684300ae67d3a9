package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard/server"
	"whiteboard/transport"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := server.New(server.Config{
		ListenAddr:   "127.0.0.1:0",
		HTTPAddr:     "127.0.0.1:0",
		SendBuffer:   64,
		MaxLineBytes: 1024,
		WriteTimeout: time.Second,
	}, logger)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	return srv
}

type peer struct {
	conn  transport.Conn
	lines chan string
}

func connect(t *testing.T, srv *server.Server, websocket bool) *peer {
	t.Helper()
	addr := srv.Addr().String()
	if websocket {
		addr = srv.HTTPAddr().String()
	}

	before := sessionCount(t, srv)
	conn, err := transport.Dial(context.Background(), transport.DialOptions{Addr: addr, Websocket: websocket})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &peer{conn: conn, lines: make(chan string, 64)}
	go func() {
		defer close(p.lines)
		for {
			line, err := conn.ReadLine()
			if err != nil {
				return
			}
			p.lines <- line
		}
	}()

	// the relay registers asynchronously; wait so no relayed line is missed
	require.Eventually(t, func() bool { return sessionCount(t, srv) == before+1 }, 2*time.Second, 10*time.Millisecond)
	return p
}

func sessionCount(t *testing.T, srv *server.Server) int {
	t.Helper()
	sessions, err := srv.Hub().Sessions()
	require.NoError(t, err)
	return len(sessions)
}

func (p *peer) send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, p.conn.WriteLine(line))
}

func (p *peer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-p.lines:
		require.True(t, ok, "connection closed while waiting for %q", want)
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (p *peer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got, ok := <-p.lines:
		if ok {
			t.Fatalf("unexpected line %q", got)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func (p *peer) expectClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection was not closed")
		}
	}
}

func TestAliceAndBob(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")

	bob.send(t, "JOIN:Bob")
	alice.expect(t, "JOIN:Bob")

	alice.send(t, "DRAW:Alice:10,10,50,50,255,0,0,3")
	bob.expect(t, "DRAW:Alice:10,10,50,50,255,0,0,3")

	bob.send(t, "CHAT:Bob:hi: there")
	alice.expect(t, "CHAT:Bob:hi: there")

	alice.send(t, "CLEAR:Alice")
	bob.expect(t, "CLEAR:Alice")

	alice.expectNothing(t)
	bob.expectNothing(t)
}

func TestPerSenderOrderPreserved(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	for i := 0; i < 20; i++ {
		alice.send(t, fmt.Sprintf("DRAW:Alice:%d,0,%d,1,0,0,0,1", i, i+1))
	}

	bob.expect(t, "JOIN:Alice")
	for i := 0; i < 20; i++ {
		bob.expect(t, fmt.Sprintf("DRAW:Alice:%d,0,%d,1,0,0,0,1", i, i+1))
	}
}

func TestAbruptDisconnectAnnouncesLeft(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")

	require.NoError(t, alice.conn.Close())
	bob.expect(t, "LEFT:Alice")
	bob.expectNothing(t)
	require.Eventually(t, func() bool { return sessionCount(t, srv) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestExplicitLeftClosesSession(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")
	alice.send(t, "LEFT:Alice")

	bob.expect(t, "LEFT:Alice")
	alice.expectClosed(t)
	bob.expectNothing(t)
}

func TestMalformedLinesAreNotRelayed(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")

	for _, line := range []string{"HELLO", "WAVE:Alice", "DRAW:Alice:1,2,3", "DRAW:Alice:a,b,c,d,e,f,g,h", "JOIN:", ""} {
		alice.send(t, line)
	}
	alice.send(t, "CHAT:Alice:still here")

	bob.expect(t, "CHAT:Alice:still here")
	bob.expectNothing(t)
}

func TestOverlongLineEndsSession(t *testing.T) {
	srv := startServer(t)
	alice := connect(t, srv, false)
	bob := connect(t, srv, false)

	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}
	alice.send(t, "CHAT:Alice:"+string(long))

	bob.expect(t, "LEFT:Alice")
	alice.expectClosed(t)
}

func TestWebsocketParticipant(t *testing.T) {
	srv := startServer(t)
	tcp := connect(t, srv, false)
	ws := connect(t, srv, true)

	ws.send(t, "JOIN:Web")
	tcp.expect(t, "JOIN:Web")

	tcp.send(t, "JOIN:Term")
	ws.expect(t, "JOIN:Term")

	require.NoError(t, ws.conn.Close())
	tcp.expect(t, "LEFT:Web")
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestAdminEndpoints(t *testing.T) {
	srv := startServer(t)
	base := "http://" + srv.HTTPAddr().String()

	alice := connect(t, srv, false)
	bob := connect(t, srv, false)
	alice.send(t, "JOIN:Alice")
	bob.expect(t, "JOIN:Alice")

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["sessions"])

	require.Eventually(t, func() bool {
		var list []server.Participant
		getJSON(t, base+"/participants", &list)
		return len(list) == 1 && list[0].Username == "Alice"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.conn.Close())
	bob.expect(t, "LEFT:Alice")

	require.Eventually(t, func() bool {
		var list []server.Participant
		getJSON(t, base+"/participants", &list)
		return len(list) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownClosesSessions(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := server.New(server.Config{ListenAddr: "127.0.0.1:0", WriteTimeout: time.Second}, logger)
	require.NoError(t, srv.Start())
	assert.Nil(t, srv.HTTPAddr())

	alice := connect(t, srv, false)
	alice.send(t, "JOIN:Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))

	alice.expectClosed(t)
	_, err := srv.Hub().Sessions()
	assert.ErrorIs(t, err, server.ErrHubClosed)
}
