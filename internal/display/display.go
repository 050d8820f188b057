// Package display defines the surface a session draws on and receives
// pecks from. Coordinates are logical pixels on a 1024x768 screen; a
// concrete surface scales them to its own resolution.
package display

// #region geometry
const (
	ScreenWidth  = 1024
	ScreenHeight = 768
)

// Region is an axis-aligned rectangle in logical pixels.
type Region struct {
	X, Y, W, H int
}

// Contains reports whether the point lies inside r.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Center returns the midpoint of r.
func (r Region) Center() (int, int) { return r.X + r.W/2, r.Y + r.H/2 }

// Screen covers the whole display.
var Screen = Region{0, 0, ScreenWidth, ScreenHeight}

// Layout places the three response keys.
type Layout struct {
	Sample Region
	Left   Region
	Right  Region
}

// DefaultLayout puts the sample key above two side-by-side comparison keys.
func DefaultLayout() Layout {
	return Layout{
		Sample: Region{416, 352, 192, 192},
		Left:   Region{128, 448, 192, 192},
		Right:  Region{704, 448, 192, 192},
	}
}

// #endregion geometry

// #region drawables
// Kind identifies what a Drawable renders.
type Kind int

const (
	KindBackground Kind = iota
	KindKey             // a round response key showing Image
	KindCover           // an opaque patch hiding whatever is under it
	KindText
)

// Drawable is one thing placed on the surface.
type Drawable struct {
	Kind   Kind
	Image  string // asset handle for KindKey
	Label  string // stimulus ID for keys, message for KindText
	Active bool   // false renders a key dimmed
}

// Background returns the full-screen backdrop.
func Background() Drawable { return Drawable{Kind: KindBackground} }

// Key returns a response key showing the given asset.
func Key(image, label string, active bool) Drawable {
	return Drawable{Kind: KindKey, Image: image, Label: label, Active: active}
}

// DarkKey returns an unlit key outline.
func DarkKey() Drawable { return Drawable{Kind: KindKey} }

// Text returns an operator message.
func Text(msg string) Drawable { return Drawable{Kind: KindText, Label: msg} }

// Cover returns an opaque patch.
func Cover() Drawable { return Drawable{Kind: KindCover} }

// #endregion drawables

// #region surface
// Tag names a drawn target so clicks can be routed to it.
type Tag string

// Click is a peck on the surface. Tag is the topmost tagged target under
// the point, or empty.
type Click struct {
	X, Y int
	Tag  Tag
}

// Handler receives clicks for a bound tag.
type Handler func(Click)

// Surface is the display a session renders on. Handlers may be invoked on
// any goroutine; callers marshal them onto their own loop.
type Surface interface {
	Draw(d Drawable, r Region, tag Tag) error
	Clear()
	BindClick(tag Tag, h Handler)
	UnbindClick(tag Tag)
	Close() error
}

// #endregion surface
