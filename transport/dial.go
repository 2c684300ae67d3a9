package transport

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// DialOptions selects how a participant reaches the relay.
type DialOptions struct {
	Addr      string
	Websocket bool
	// Secure switches websocket dials to wss://.
	Secure  bool
	Timeout time.Duration
	Options
}

// Dial connects to the relay over raw TCP, or over a websocket when requested.
func Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	if !opts.Websocket {
		d := net.Dialer{Timeout: opts.Timeout}
		conn, err := d.DialContext(ctx, "tcp", opts.Addr)
		if err != nil {
			return nil, err
		}
		return NewLineConn(conn, opts.Options), nil
	}

	u := url.URL{Scheme: "ws", Host: opts.Addr, Path: WebsocketPath}
	if opts.Secure {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return NewWebsocketConn(conn, opts.Options), nil
}
