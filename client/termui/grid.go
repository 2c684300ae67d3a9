package termui

import (
	"math"
	"sync"

	"github.com/nsf/termbox-go"

	"whiteboard/commons"
)

// Scale is how many canvas units one terminal cell covers. Cells are
// roughly twice as tall as they are wide.
type Scale struct {
	X, Y int
}

var DefaultScale = Scale{X: 8, Y: 16}

// Grid is a cell raster that implements replog.Surface. Board coordinates
// are divided by the scale; anything outside the grid is clipped.
type Grid struct {
	mu     sync.RWMutex
	scale  Scale
	width  int
	height int
	cells  []termbox.Attribute // 0 is an empty cell
}

func NewGrid(width, height int, scale Scale) *Grid {
	if scale.X <= 0 || scale.Y <= 0 {
		scale = DefaultScale
	}
	g := &Grid{scale: scale}
	g.Resize(width, height)
	return g
}

// Resize changes the visible area and blanks it. The caller replays the log afterwards.
func (g *Grid) Resize(width, height int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.width, g.height = max(width, 0), max(height, 0)
	g.cells = make([]termbox.Attribute, g.width*g.height)
}

func (g *Grid) Size() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.width, g.height
}

func (g *Grid) Scale() Scale {
	return g.scale
}

// ToBoard converts a cell position to the board coordinate at its centre.
func (g *Grid) ToBoard(cx, cy int) (int, int) {
	return cx*g.scale.X + g.scale.X/2, cy*g.scale.Y + g.scale.Y/2
}

func (g *Grid) toCell(x, y int) (int, int) {
	return floorDiv(x, g.scale.X), floorDiv(y, g.scale.Y)
}

// Cell returns the colour at a cell, or 0 if it is empty or out of range.
func (g *Grid) Cell(cx, cy int) termbox.Attribute {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cx < 0 || cy < 0 || cx >= g.width || cy >= g.height {
		return 0
	}
	return g.cells[cy*g.width+cx]
}

func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.cells)
}

// DrawSegment rasterises d with Bresenham's line, stamping a square brush
// whose half-size follows the stroke width. The segment is clipped to the
// cells the brush can reach before it is walked.
func (g *Grid) DrawSegment(d commons.Draw) {
	x0, y0 := g.toCell(d.X1, d.Y1)
	x1, y1 := g.toCell(d.X2, d.Y2)
	attr := RGB(d.Red, d.Green, d.Blue)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.width == 0 || g.height == 0 {
		return
	}

	brush := min(max(d.StrokeWidth/(2*g.scale.X), 0), max(g.width, g.height))
	x0, y0, x1, y1, ok := clipSegment(x0, y0, x1, y1, -brush, -brush, g.width-1+brush, g.height-1+brush)
	if !ok {
		return
	}

	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		g.stamp(x0, y0, brush, attr)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (g *Grid) stamp(cx, cy, r int, attr termbox.Attribute) {
	for y := max(cy-r, 0); y <= min(cy+r, g.height-1); y++ {
		for x := max(cx-r, 0); x <= min(cx+r, g.width-1); x++ {
			g.cells[y*g.width+x] = attr
		}
	}
}

// clipSegment is Liang-Barsky against the inclusive rectangle
// [minX,maxX]x[minY,maxY]. ok is false when the segment misses it.
func clipSegment(x0, y0, x1, y1, minX, minY, maxX, maxY int) (cx0, cy0, cx1, cy1 int, ok bool) {
	fx, fy := float64(x0), float64(y0)
	dx, dy := float64(x1)-fx, float64(y1)-fy

	t0, t1 := 0.0, 1.0
	for _, edge := range [4][2]float64{
		{-dx, fx - float64(minX)},
		{dx, float64(maxX) - fx},
		{-dy, fy - float64(minY)},
		{dy, float64(maxY) - fy},
	} {
		p, q := edge[0], edge[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			t1 = min(t1, t)
		}
	}

	clampX := func(v float64) int { return min(max(int(math.Round(v)), minX), maxX) }
	clampY := func(v float64) int { return min(max(int(math.Round(v)), minY), maxY) }
	return clampX(fx + t0*dx), clampY(fy + t0*dy), clampX(fx + t1*dx), clampY(fy + t1*dy), true
}

// RGB maps a colour onto the xterm 256-colour cube as a termbox
// Output256 attribute. Black maps to cube index 16, never to 0.
func RGB(r, g, b int) termbox.Attribute {
	level := func(c int) int {
		return min(max(c, 0), 255) * 6 / 256
	}
	return termbox.Attribute(16+36*level(r)+6*level(g)+level(b)) + 1
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
