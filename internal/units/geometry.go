package units

import "math"

// Length is any of the linear units a rectangle can be expressed in.
type Length interface {
	MM | PrintPx | ScreenPx
}

// Size is a width and height in one unit.
type Size[T Length] struct {
	W T `json:"w" yaml:"w"`
	H T `json:"h" yaml:"h"`
}

// Rect is an axis-aligned rectangle with its origin at the top-left corner.
// Y grows downward.
type Rect[T Length] struct {
	X T `json:"x"`
	Y T `json:"y"`
	W T `json:"width"`
	H T `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect[T]) Right() T { return r.X + r.W }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect[T]) Bottom() T { return r.Y + r.H }

// Size returns the rectangle's extent.
func (r Rect[T]) Size() Size[T] { return Size[T]{W: r.W, H: r.H} }

// Inset shrinks the rectangle by d on all four sides.
func (r Rect[T]) Inset(d T) Rect[T] {
	return Rect[T]{X: r.X + d, Y: r.Y + d, W: r.W - 2*d, H: r.H - 2*d}
}

// Outset grows the rectangle by d on all four sides.
func (r Rect[T]) Outset(d T) Rect[T] {
	return r.Inset(-d)
}

// Translate moves the rectangle by (dx, dy).
func (r Rect[T]) Translate(dx, dy T) Rect[T] {
	return Rect[T]{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Contains reports whether o lies entirely inside r. Shared edges count as inside.
func (r Rect[T]) Contains(o Rect[T]) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// Intersects reports whether r and o overlap with a non-empty area.
func (r Rect[T]) Intersects(o Rect[T]) bool {
	return o.X < r.Right() && r.X < o.Right() && o.Y < r.Bottom() && r.Y < o.Bottom()
}

// IsFinite reports whether every field is a finite number.
func (r Rect[T]) IsFinite() bool {
	for _, v := range [...]T{r.X, r.Y, r.W, r.H} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// RectFromSize returns a rectangle at the origin with the given size.
func RectFromSize[T Length](s Size[T]) Rect[T] {
	return Rect[T]{W: s.W, H: s.H}
}

// RectMMToPx converts a millimeter rectangle to print pixels at dpi.
func RectMMToPx(r Rect[MM], dpi int) Rect[PrintPx] {
	return Rect[PrintPx]{
		X: MMToPx(r.X, dpi),
		Y: MMToPx(r.Y, dpi),
		W: MMToPx(r.W, dpi),
		H: MMToPx(r.H, dpi),
	}
}

// RectMMToScreen converts a millimeter rectangle to 96-DPI screen pixels.
func RectMMToScreen(r Rect[MM]) Rect[ScreenPx] {
	return Rect[ScreenPx]{
		X: MMToCSSPx(r.X),
		Y: MMToCSSPx(r.Y),
		W: MMToCSSPx(r.W),
		H: MMToCSSPx(r.H),
	}
}

// SizeMMToPx converts a millimeter size to whole print pixels, rounding each axis.
func SizeMMToPx(s Size[MM], dpi int) (w, h int) {
	return MMToPx(s.W, dpi).Round(), MMToPx(s.H, dpi).Round()
}

// PixelBounds returns the whole-pixel span covered by r. Each edge is rounded
// independently so adjacent rectangles never overlap or leave a gap.
func (r Rect[T]) PixelBounds() (x0, y0, x1, y1 int) {
	round := func(v T) int { return int(math.Round(float64(v))) }
	return round(r.X), round(r.Y), round(r.Right()), round(r.Bottom())
}
