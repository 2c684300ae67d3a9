// Package termui is a terminal front end for the whiteboard: the board is
// drawn as coloured cells with the mouse, with a chat pane and status bar
// underneath.
package termui

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"
	"github.com/sirupsen/logrus"

	"whiteboard/client"
	"whiteboard/commons"
	"whiteboard/replog"
)

const (
	chatRows   = 3
	chatKeep   = 50
	statusTime = 4 * time.Second
	maxWidth   = 64
)

// errQuit ends the main loop without being an error for the caller.
var errQuit = errors.New("quit")

type swatch struct {
	name  string
	color client.Color
}

var palette = []swatch{
	{"white", client.Color{R: 255, G: 255, B: 255}},
	{"red", client.Color{R: 255}},
	{"green", client.Color{G: 200}},
	{"blue", client.Color{R: 40, G: 90, B: 255}},
	{"yellow", client.Color{R: 255, G: 220}},
	{"magenta", client.Color{R: 220, B: 220}},
	{"cyan", client.Color{G: 220, B: 220}},
	{"orange", client.Color{R: 255, G: 140}},
}

var userColors = []termbox.Attribute{
	termbox.ColorGreen,
	termbox.ColorYellow,
	termbox.ColorBlue,
	termbox.ColorMagenta,
	termbox.ColorCyan,
	termbox.ColorLightYellow,
	termbox.ColorLightMagenta,
	termbox.ColorLightGreen,
	termbox.ColorLightRed,
	termbox.ColorRed,
}

// colorForUsername gives each participant a stable colour in the chat pane.
func colorForUsername(name string) termbox.Attribute {
	h := fnv.New32a()
	h.Write([]byte(name))
	return userColors[h.Sum32()%uint32(len(userColors))]
}

type chatLine struct {
	text   string
	author string
	kind   client.NoticeKind
}

// Options configures the terminal UI.
type Options struct {
	// Export writes the canvas somewhere and returns where. Nil disables Ctrl+E.
	Export func(log *replog.Log) (string, error)
	Logger logrus.FieldLogger
}

type UI struct {
	grid   *Grid
	engine *client.Engine
	opts   Options
	logger logrus.FieldLogger

	mu        sync.Mutex
	chat      []chatLine
	input     []rune
	chatting  bool
	swatch    int
	width     int
	connected bool
	status    string
	statusAt  time.Time

	dragging bool
	lastX    int
	lastY    int

	drawCh chan struct{}
}

func New(opts Options) *UI {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &UI{
		grid:      NewGrid(0, 0, DefaultScale),
		opts:      opts,
		logger:    opts.Logger.WithField("component", "termui"),
		width:     4,
		connected: true,
		drawCh:    make(chan struct{}, 1),
	}
}

// Surface is what the engine renders onto. Every change schedules a redraw.
func (u *UI) Surface() replog.Surface {
	return surface{u}
}

type surface struct{ u *UI }

func (s surface) DrawSegment(d commons.Draw) {
	s.u.grid.DrawSegment(d)
	s.u.requestDraw()
}

func (s surface) Reset() {
	s.u.grid.Reset()
	s.u.requestDraw()
}

// Notify implements client.Notifier by appending to the chat pane.
func (u *UI) Notify(n client.Notice) {
	u.mu.Lock()
	u.chat = append(u.chat, chatLine{text: n.Text, author: n.Username, kind: n.Kind})
	if len(u.chat) > chatKeep {
		u.chat = u.chat[len(u.chat)-chatKeep:]
	}
	if n.Kind == client.NoticeDisconnected {
		u.connected = false
	}
	u.mu.Unlock()
	u.requestDraw()
}

// Run takes over the terminal until the user quits, ctx ends, or the
// connection drops and the user dismisses it.
func (u *UI) Run(ctx context.Context, engine *client.Engine) error {
	u.engine = engine

	if err := termbox.Init(); err != nil {
		return err
	}
	defer termbox.Close()
	termbox.SetInputMode(termbox.InputEsc | termbox.InputMouse)
	termbox.SetOutputMode(termbox.Output256)

	w, h := termbox.Size()
	u.resize(w, h)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go u.drawLoop(ctx)
	go func() {
		if err := engine.Run(ctx); err != nil {
			u.setStatus("connection lost, press Esc to exit")
		}
	}()

	events := make(chan termbox.Event)
	go func() {
		for {
			ev := termbox.PollEvent()
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == termbox.EventInterrupt {
				return
			}
		}
	}()
	defer termbox.Interrupt()

	u.requestDraw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := u.handleEvent(ev); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

func (u *UI) canvasHeight(h int) int {
	return max(h-chatRows-1, 0)
}

func (u *UI) resize(w, h int) {
	u.grid.Resize(w, u.canvasHeight(h))
	if u.engine != nil {
		u.engine.Log().Replay(u.grid)
	}
	u.requestDraw()
}

func (u *UI) handleEvent(ev termbox.Event) error {
	switch ev.Type {
	case termbox.EventError:
		return ev.Err
	case termbox.EventResize:
		u.resize(ev.Width, ev.Height)
	case termbox.EventMouse:
		u.handleMouse(ev)
	case termbox.EventKey:
		return u.handleKey(ev)
	}
	return nil
}

func (u *UI) handleMouse(ev termbox.Event) {
	_, gh := u.grid.Size()
	switch ev.Key {
	case termbox.MouseLeft:
		if ev.MouseY >= gh {
			return
		}
		x, y := u.grid.ToBoard(ev.MouseX, ev.MouseY)
		u.mu.Lock()
		fromX, fromY := x, y
		if u.dragging {
			fromX, fromY = u.lastX, u.lastY
		}
		u.dragging, u.lastX, u.lastY = true, x, y
		color, width := palette[u.swatch].color, u.width
		u.mu.Unlock()

		if err := u.engine.OnLocalStroke(fromX, fromY, x, y, color, width); err != nil {
			u.logger.WithError(err).Warn("local stroke failed")
			u.setStatus("could not send stroke")
		}
	case termbox.MouseRelease:
		u.mu.Lock()
		u.dragging = false
		u.mu.Unlock()
	}
}

func (u *UI) handleKey(ev termbox.Event) error {
	u.mu.Lock()
	chatting := u.chatting
	u.mu.Unlock()
	if chatting {
		u.handleChatKey(ev)
		return nil
	}

	switch ev.Key {
	case termbox.KeyEsc, termbox.KeyCtrlC:
		return errQuit
	case termbox.KeyTab:
		u.mu.Lock()
		u.chatting = true
		u.mu.Unlock()
	case termbox.KeyCtrlE:
		u.export()
	}

	switch ev.Ch {
	case '1', '2', '3', '4', '5', '6', '7', '8':
		u.mu.Lock()
		u.swatch = int(ev.Ch - '1')
		u.mu.Unlock()
	case '+', '=':
		u.mu.Lock()
		u.width = min(u.width+1, maxWidth)
		u.mu.Unlock()
	case '-':
		u.mu.Lock()
		u.width = max(u.width-1, 1)
		u.mu.Unlock()
	case 'u':
		if !u.engine.OnLocalUndo() {
			u.setStatus("nothing to undo")
		}
	case 'c':
		if err := u.engine.OnLocalClear(); err != nil {
			u.logger.WithError(err).Warn("clear failed")
			u.setStatus("could not send clear")
		}
	}
	u.requestDraw()
	return nil
}

func (u *UI) handleChatKey(ev termbox.Event) {
	u.mu.Lock()
	defer func() {
		u.mu.Unlock()
		u.requestDraw()
	}()

	switch ev.Key {
	case termbox.KeyEsc, termbox.KeyTab:
		u.chatting = false
	case termbox.KeyEnter:
		text := string(u.input)
		u.input = u.input[:0]
		u.chatting = false
		if text == "" {
			return
		}
		u.chat = append(u.chat, chatLine{text: u.engine.Username() + ": " + text, author: u.engine.Username()})
		go func() {
			if err := u.engine.SendChat(text); err != nil {
				u.logger.WithError(err).Warn("chat failed")
				u.setStatus("could not send chat")
			}
		}()
	case termbox.KeyBackspace, termbox.KeyBackspace2:
		if len(u.input) > 0 {
			u.input = u.input[:len(u.input)-1]
		}
	case termbox.KeySpace:
		u.input = append(u.input, ' ')
	default:
		if ev.Ch != 0 {
			u.input = append(u.input, ev.Ch)
		}
	}
}

func (u *UI) export() {
	if u.opts.Export == nil {
		u.setStatus("export is not available")
		return
	}
	path, err := u.opts.Export(u.engine.Log())
	if err != nil {
		u.logger.WithError(err).Error("export failed")
		u.setStatus("export failed: " + err.Error())
		return
	}
	u.setStatus("exported to " + path)
}

func (u *UI) setStatus(msg string) {
	u.mu.Lock()
	u.status = msg
	u.statusAt = time.Now()
	u.mu.Unlock()
	u.requestDraw()

	time.AfterFunc(statusTime, u.requestDraw)
}

func (u *UI) requestDraw() {
	select {
	case u.drawCh <- struct{}{}:
	default:
	}
}

func (u *UI) drawLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.drawCh:
			u.draw()
		}
	}
}

func (u *UI) draw() {
	_ = termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	w, h := termbox.Size()

	gw, gh := u.grid.Size()
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			if attr := u.grid.Cell(x, y); attr != 0 {
				termbox.SetCell(x, y, ' ', termbox.ColorDefault, attr)
			}
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	for x := 0; x < w; x++ {
		termbox.SetCell(x, gh, '─', termbox.ColorDefault, termbox.ColorDefault)
	}

	start := max(len(u.chat)-chatRows, 0)
	for i, line := range u.chat[start:] {
		fg := termbox.ColorDefault
		switch line.kind {
		case client.NoticeChat:
			fg = colorForUsername(line.author)
		case client.NoticeSystem:
			fg = termbox.ColorDarkGray
		case client.NoticeDisconnected:
			fg = termbox.ColorRed | termbox.AttrBold
		}
		drawText(0, gh+1+i, w, line.text, fg)
	}

	u.drawStatusBar(w, h)
	termbox.HideCursor()
	if u.chatting {
		termbox.SetCursor(min(2+runewidth.StringWidth(string(u.input)), w-1), h-1)
	}
	termbox.Flush()
}

func (u *UI) drawStatusBar(w, h int) {
	y := h - 1
	switch {
	case u.chatting:
		drawText(0, y, w, "> "+string(u.input), termbox.ColorDefault)
	case u.status != "" && time.Since(u.statusAt) < statusTime:
		drawText(0, y, w, u.status, termbox.ColorYellow)
	default:
		sw := palette[u.swatch]
		x := drawText(0, y, w, u.engine.Username()+"  ", colorForUsername(u.engine.Username()))
		termbox.SetCell(x, y, ' ', termbox.ColorDefault, RGB(sw.color.R, sw.color.G, sw.color.B))
		info := fmt.Sprintf(" %s  width %d  strokes %d  |  1-8 colour  +/- width  u undo  c clear  Tab chat  ^E export  Esc quit",
			sw.name, u.width, u.engine.Log().Len())
		drawText(x+1, y, w-1, info, termbox.ColorDefault)
	}

	if u.connected {
		termbox.SetBg(w-1, y, termbox.ColorGreen)
	} else {
		termbox.SetBg(w-1, y, termbox.ColorRed)
	}
}

// drawText writes s from x up to limit and returns the column after it.
func drawText(x, y, limit int, s string, fg termbox.Attribute) int {
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if x+rw > limit {
			break
		}
		termbox.SetCell(x, y, r, fg, termbox.ColorDefault)
		x += rw
	}
	return x
}
