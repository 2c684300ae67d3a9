// Package transport carries newline-delimited text lines over a duplex byte
// stream. Both raw TCP connections and websocket connections are exposed
// through the same Conn so the session and client code never look at the
// underlying socket.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	DefaultMaxLineBytes = 64 * 1024
	DefaultWriteTimeout = 10 * time.Second
)

// ErrLineTooLong is returned by ReadLine when the peer sends a line above the configured limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Conn is a line-oriented duplex connection. ReadLine must only be called
// from one goroutine; WriteLine is safe for concurrent use and writes whole
// lines atomically.
type Conn interface {
	// ReadLine returns the next line without its terminator. It returns io.EOF
	// when the peer closes the stream cleanly.
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// Options tunes a Conn. Zero values fall back to the defaults.
type Options struct {
	MaxLineBytes int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	opts    Options

	writeMu sync.Mutex
	w       *bufio.Writer
}

// NewLineConn wraps a stream connection such as a TCP socket.
func NewLineConn(conn net.Conn, opts Options) Conn {
	opts = opts.withDefaults()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), opts.MaxLineBytes)
	return &lineConn{
		conn:    conn,
		scanner: scanner,
		opts:    opts,
		w:       bufio.NewWriter(conn),
	}
}

func (c *lineConn) ReadLine() (string, error) {
	if c.scanner.Scan() {
		return c.scanner.Text(), nil
	}
	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, c.opts.MaxLineBytes)
		}
		return "", err
	}
	return "", io.EOF
}

func (c *lineConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}

func (c *lineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// IsClosed reports whether err is the ordinary end of a connection rather than a fault worth logging loudly.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
