// Package pdfexport renders a participant's canvas to a PDF by replaying
// its log onto an off-screen surface.
package pdfexport

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/spf13/afero"

	"whiteboard/commons"
	"whiteboard/replog"
)

const (
	margin  = 24.0
	minSide = 200.0
)

// Canvas is a replog.Surface that keeps the segments visible since the last reset.
type Canvas struct {
	mu       sync.Mutex
	segments []commons.Draw
}

func (c *Canvas) DrawSegment(d commons.Draw) {
	c.mu.Lock()
	c.segments = append(c.segments, d)
	c.mu.Unlock()
}

func (c *Canvas) Reset() {
	c.mu.Lock()
	c.segments = nil
	c.mu.Unlock()
}

func (c *Canvas) Segments() []commons.Draw {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commons.Draw(nil), c.segments...)
}

// Bounds is the area covered by the strokes, including their width.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// BoundsOf returns the stroke bounds, or a zero box when there are none.
func BoundsOf(segments []commons.Draw) Bounds {
	if len(segments) == 0 {
		return Bounds{}
	}
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, s := range segments {
		half := float64(s.StrokeWidth) / 2
		b.MinX = math.Min(b.MinX, float64(min(s.X1, s.X2))-half)
		b.MinY = math.Min(b.MinY, float64(min(s.Y1, s.Y2))-half)
		b.MaxX = math.Max(b.MaxX, float64(max(s.X1, s.X2))+half)
		b.MaxY = math.Max(b.MaxY, float64(max(s.Y1, s.Y2))+half)
	}
	return b
}

type Options struct {
	Title  string
	Author string
}

// Export replays log and writes the resulting canvas to path on fs. The
// page is sized to the drawing, one canvas unit per point.
func Export(fs afero.Fs, path string, log *replog.Log, opts Options) error {
	canvas := &Canvas{}
	log.Replay(canvas)
	segments := canvas.Segments()

	b := BoundsOf(segments)
	w := math.Max(b.Width(), minSide) + 2*margin
	h := math.Max(b.Height(), minSide) + 2*margin
	orientation := "P"
	if w > h {
		orientation = "L"
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetTitle(opts.Title, true)
	pdf.SetAuthor(opts.Author, true)
	pdf.SetCreator("whiteboard", true)
	pdf.SetCreationDate(time.Now())
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	dx, dy := margin-b.MinX, margin-b.MinY
	for _, s := range segments {
		pdf.SetDrawColor(s.Red, s.Green, s.Blue)
		pdf.SetLineWidth(math.Max(float64(s.StrokeWidth), 0.5))
		pdf.Line(float64(s.X1)+dx, float64(s.Y1)+dy, float64(s.X2)+dx, float64(s.Y2)+dy)
	}

	if opts.Title != "" {
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.Text(margin, h-margin/3, opts.Title)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}

	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pdf.Output(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
