package transport

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketPath is where the relay accepts websocket participants.
const WebsocketPath = "/ws"

type wsConn struct {
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex
}

// NewWebsocketConn wraps a websocket connection. Each text message carries exactly one line.
func NewWebsocketConn(conn *websocket.Conn, opts Options) Conn {
	opts = opts.withDefaults()
	conn.SetReadLimit(int64(opts.MaxLineBytes))
	return &wsConn{conn: conn, opts: opts}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", io.EOF
			}
			if err == websocket.ErrReadLimit {
				return "", fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, c.opts.MaxLineBytes)
			}
			return "", err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		line := strings.TrimSuffix(string(data), "\n")
		return strings.TrimSuffix(line, "\r"), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	// WriteControl may run concurrently with WriteMessage, so no lock here.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
