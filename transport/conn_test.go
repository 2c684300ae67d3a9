package transport_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard/transport"
)

func TestLineConn_ReadWrite(t *testing.T) {
	a, b := net.Pipe()
	left := transport.NewLineConn(a, transport.Options{})
	right := transport.NewLineConn(b, transport.Options{})
	defer left.Close()
	defer right.Close()

	go func() {
		_ = left.WriteLine("JOIN:Alice")
		_ = left.WriteLine("CHAT:Alice:a:b:c")
	}()

	line, err := right.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "JOIN:Alice", line)

	line, err = right.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "CHAT:Alice:a:b:c", line)
}

func TestLineConn_StripsCRLF(t *testing.T) {
	a, b := net.Pipe()
	conn := transport.NewLineConn(b, transport.Options{})
	defer conn.Close()

	go func() {
		_, _ = a.Write([]byte("CLEAR:Bob\r\n"))
		a.Close()
	}()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "CLEAR:Bob", line)

	_, err = conn.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, transport.IsClosed(err))
}

func TestLineConn_LineTooLong(t *testing.T) {
	a, b := net.Pipe()
	conn := transport.NewLineConn(b, transport.Options{MaxLineBytes: 16})
	defer conn.Close()

	go func() {
		_, _ = a.Write([]byte(strings.Repeat("x", 64) + "\n"))
		a.Close()
	}()

	_, err := conn.ReadLine()
	assert.ErrorIs(t, err, transport.ErrLineTooLong)
}

func TestLineConn_WriteTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := transport.NewLineConn(a, transport.Options{WriteTimeout: 20 * time.Millisecond})
	defer conn.Close()

	// nobody reads from b, so the write must give up
	err := conn.WriteLine("DRAW:a:1,1,2,2,0,0,0,1")
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestDial_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- transport.NewLineConn(c, transport.Options{})
		}
	}()

	client, err := transport.Dial(context.Background(), transport.DialOptions{Addr: ln.Addr().String()})
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.WriteLine("JOIN:Alice"))
	line, err := server.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "JOIN:Alice", line)
}

func TestDial_Websocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, transport.WebsocketPath, r.URL.Path)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := transport.NewWebsocketConn(ws, transport.Options{})
		defer conn.Close()

		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		received <- line
		_ = conn.WriteLine("JOIN:Bob")
		_, _ = conn.ReadLine()
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	client, err := transport.Dial(context.Background(), transport.DialOptions{Addr: addr, Websocket: true})
	require.NoError(t, err)

	require.NoError(t, client.WriteLine("JOIN:Alice\n"))
	select {
	case line := <-received:
		assert.Equal(t, "JOIN:Alice", line)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the line")
	}

	line, err := client.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "JOIN:Bob", line)
	require.NoError(t, client.Close())
}
