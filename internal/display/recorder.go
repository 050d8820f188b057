package display

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when drawing on a closed surface.
var ErrClosed = errors.New("display: surface closed")

// Recorder is a headless Surface. Tests and scripted replays peck it with
// ClickAt or ClickTag.
type Recorder struct {
	*Scene
	clears int
}

// NewRecorder returns an empty headless surface.
func NewRecorder() *Recorder {
	return &Recorder{Scene: NewScene()}
}

func (r *Recorder) Clear() {
	r.Scene.Clear()
	r.Scene.mu.Lock()
	r.clears++
	r.Scene.mu.Unlock()
}

// Clears reports how many times the surface was cleared.
func (r *Recorder) Clears() int {
	r.Scene.mu.Lock()
	defer r.Scene.mu.Unlock()
	return r.clears
}

// ClickAt pecks the surface at a point.
func (r *Recorder) ClickAt(x, y int) bool { return r.Dispatch(x, y) }

// ClickTag pecks the topmost item carrying tag at a point where no other
// tagged item covers it. The center is tried first, then a grid over the
// region. It fails if nothing with that tag is drawn or every point of it
// is covered.
func (r *Recorder) ClickTag(tag Tag) error {
	items := r.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Tag != tag {
			continue
		}
		x, y, ok := r.exposedPoint(tag, items[i].Region)
		if !ok {
			return fmt.Errorf("display: %q is covered by other targets", tag)
		}
		r.Dispatch(x, y)
		return nil
	}
	return fmt.Errorf("display: nothing tagged %q is drawn", tag)
}

// scanStep is the grid spacing used to find an uncovered point.
const scanStep = 8

func (r *Recorder) exposedPoint(tag Tag, reg Region) (int, int, bool) {
	hits := func(x, y int) bool {
		it, ok := r.Hit(x, y)
		return ok && it.Tag == tag
	}
	if x, y := reg.Center(); hits(x, y) {
		return x, y, true
	}
	for y := reg.Y; y < reg.Y+reg.H; y += scanStep {
		for x := reg.X; x < reg.X+reg.W; x += scanStep {
			if hits(x, y) {
				return x, y, true
			}
		}
	}
	return 0, 0, false
}

// Visible returns the labels of drawn stimulus keys, bottom first. Dark
// keys are skipped.
func (r *Recorder) Visible() []string {
	var out []string
	for _, it := range r.Items() {
		if it.Drawable.Kind == KindKey && it.Drawable.Label != "" {
			out = append(out, it.Drawable.Label)
		}
	}
	return out
}

// Texts returns the drawn operator messages.
func (r *Recorder) Texts() []string {
	var out []string
	for _, it := range r.Items() {
		if it.Drawable.Kind == KindText {
			out = append(out, it.Drawable.Label)
		}
	}
	return out
}

var _ Surface = (*Recorder)(nil)
