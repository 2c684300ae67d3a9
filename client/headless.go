package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"whiteboard/client/pdfexport"
)

// Console prints notices to a writer, coloured by kind.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	system *color.Color
	server *color.Color
	lost   *color.Color
	info   *color.Color
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:    out,
		system: color.New(color.FgGreen),
		server: color.New(color.FgMagenta),
		lost:   color.New(color.FgRed, color.Bold),
		info:   color.New(color.FgCyan),
	}
}

func (c *Console) Notify(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch n.Kind {
	case NoticeSystem:
		c.system.Fprintln(c.out, n.Text)
	case NoticeServer:
		c.server.Fprintln(c.out, n.Text)
	case NoticeDisconnected:
		c.lost.Fprintln(c.out, n.Text)
	default:
		fmt.Fprintln(c.out, n.Text)
	}
}

// Infof prints a local status line.
func (c *Console) Infof(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Fprintf(c.out, format+"\n", a...)
}

// Headless drives an engine from line input instead of a terminal UI.
type Headless struct {
	Engine  *Engine
	Console *Console
	// Fs is where /export writes. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Run treats each input line as chat, except for these commands:
//
//	/clear          clear the board for everyone
//	/undo           undo the newest stroke locally
//	/export <file>  write the local canvas to a PDF
//	/quit           leave the board
//
// It returns when input ends, /quit is read, or ctx is cancelled.
func (h *Headless) Run(ctx context.Context, in io.Reader) error {
	if h.Fs == nil {
		h.Fs = afero.NewOsFs()
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- s.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			quit, err := h.handle(line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func (h *Headless) handle(line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, h.Engine.SendChat(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true, nil
	case "/clear":
		if err := h.Engine.OnLocalClear(); err != nil {
			return false, err
		}
		h.Console.Infof("board cleared")
	case "/undo":
		if h.Engine.OnLocalUndo() {
			h.Console.Infof("undone, %d strokes left", h.Engine.Log().Len())
		} else {
			h.Console.Infof("nothing to undo")
		}
	case "/export":
		path := strings.TrimSpace(arg)
		if path == "" {
			h.Console.Infof("usage: /export <file.pdf>")
			return false, nil
		}
		opts := pdfexport.Options{Title: "whiteboard", Author: h.Engine.Username()}
		if err := pdfexport.Export(h.Fs, path, h.Engine.Log(), opts); err != nil {
			h.Console.Infof("export failed: %v", err)
			return false, nil
		}
		h.Console.Infof("exported %d strokes to %s", h.Engine.Log().Len(), path)
	default:
		h.Console.Infof("unknown command %s", cmd)
	}
	return false, nil
}
