package replog

import (
	"sync"

	"whiteboard/commons"
)

// Call is one rendering call seen by a Recorder. Reset calls have a zero Segment.
type Call struct {
	Reset   bool
	Segment commons.Draw
}

// Recorder is a headless Surface that remembers every call.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) DrawSegment(d commons.Draw) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Segment: d})
	r.mu.Unlock()
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Reset: true})
	r.mu.Unlock()
}

// Calls returns a copy of everything recorded so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Canvas returns the segments drawn since the last reset, which is what a real surface would show.
func (r *Recorder) Canvas() []commons.Draw {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []commons.Draw
	for _, c := range r.calls {
		if c.Reset {
			out = out[:0]
			continue
		}
		out = append(out, c.Segment)
	}
	return out
}
