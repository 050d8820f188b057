package display

import "sync"

// Placed is a drawable at its region.
type Placed struct {
	Drawable Drawable
	Region   Region
	Tag      Tag
}

// Scene is the draw list and click bindings shared by surface
// implementations. Safe for concurrent use.
type Scene struct {
	mu       sync.Mutex
	items    []Placed
	handlers map[Tag]Handler
	closed   bool
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{handlers: map[Tag]Handler{}}
}

func (s *Scene) Draw(d Drawable, r Region, tag Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items = append(s.items, Placed{Drawable: d, Region: r, Tag: tag})
	return nil
}

// Clear removes every drawn item. Bindings are kept, as on a canvas whose
// tags are rebound by the next draw.
func (s *Scene) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

func (s *Scene) BindClick(tag Tag, h Handler) {
	s.mu.Lock()
	s.handlers[tag] = h
	s.mu.Unlock()
}

func (s *Scene) UnbindClick(tag Tag) {
	s.mu.Lock()
	delete(s.handlers, tag)
	s.mu.Unlock()
}

// Close marks the scene closed and drops every item and binding.
func (s *Scene) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	s.handlers = map[Tag]Handler{}
	return nil
}

// Closed reports whether Close was called.
func (s *Scene) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Items returns a copy of the draw list, bottom first.
func (s *Scene) Items() []Placed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Placed(nil), s.items...)
}

// Bound reports whether tag currently has a handler.
func (s *Scene) Bound(tag Tag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[tag]
	return ok
}

// Hit returns the topmost tagged item under the point.
func (s *Scene) Hit(x, y int) (Placed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hitLocked(x, y)
}

func (s *Scene) hitLocked(x, y int) (Placed, bool) {
	for i := len(s.items) - 1; i >= 0; i-- {
		it := s.items[i]
		if it.Tag != "" && it.Region.Contains(x, y) {
			return it, true
		}
	}
	return Placed{}, false
}

// Dispatch routes a click at (x, y) to the handler bound to the topmost
// tagged item there. It reports whether a handler ran. The handler is
// called without the scene lock held.
func (s *Scene) Dispatch(x, y int) bool {
	s.mu.Lock()
	it, ok := s.hitLocked(x, y)
	var h Handler
	if ok {
		h = s.handlers[it.Tag]
	}
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(Click{X: x, Y: y, Tag: it.Tag})
	return true
}
