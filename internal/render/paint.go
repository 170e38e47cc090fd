package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/vector"
)

// parseColor accepts #rgb, #rrggbb, #rrggbbaa and a few names. The empty
// string and "none"/"transparent" report ok=false, meaning "do not paint".
func parseColor(s string) (color.NRGBA, bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "transparent":
		return color.NRGBA{}, false, nil
	case "black":
		return color.NRGBA{A: 0xff}, true, nil
	case "white":
		return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, true, nil
	}

	hex, found := strings.CutPrefix(s, "#")
	if !found {
		return color.NRGBA{}, false, fmt.Errorf("unsupported color %q", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, false, fmt.Errorf("unsupported color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, false, fmt.Errorf("unsupported color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true, nil
}

// colorOr parses s, falling back to def when s is empty. An explicit
// "transparent" still wins over the fallback.
func colorOr(s string, def color.NRGBA) (color.NRGBA, bool, error) {
	if strings.TrimSpace(s) == "" {
		return def, true, nil
	}
	return parseColor(s)
}

var black = color.NRGBA{A: 0xff}

func fillRect(dst draw.Image, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

// strokeRect paints a border of width sw inside r, so a border placed on the
// trim edge starts exactly at the trim line.
func strokeRect(dst draw.Image, r image.Rectangle, sw int, c color.NRGBA) {
	if r.Empty() {
		return
	}
	if 2*sw >= r.Dx() || 2*sw >= r.Dy() {
		fillRect(dst, r, c)
		return
	}
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+sw), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-sw, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y+sw, r.Min.X+sw, r.Max.Y-sw), c)
	fillRect(dst, image.Rect(r.Max.X-sw, r.Min.Y+sw, r.Max.X, r.Max.Y-sw), c)
}

// drawLine paints a straight rule through the middle of r, horizontal when r
// is at least as wide as it is tall and vertical otherwise.
func drawLine(dst draw.Image, r image.Rectangle, sw int, c color.NRGBA) {
	if r.Dx() >= r.Dy() {
		mid := r.Min.Y + r.Dy()/2
		fillRect(dst, image.Rect(r.Min.X, mid-sw/2, r.Max.X, mid-sw/2+sw), c)
		return
	}
	mid := r.Min.X + r.Dx()/2
	fillRect(dst, image.Rect(mid-sw/2, r.Min.Y, mid-sw/2+sw, r.Max.Y), c)
}

// kappa places the control points of a cubic that approximates a quarter
// ellipse.
const kappa = 0.5522847498

// roundedPath adds a closed rectangle from (x0, y0) to (x1, y1) whose corners
// are quarter ellipses with radii rx and ry. With rx and ry at half the size
// it is an ellipse. reverse mirrors the path horizontally, which flips its
// winding so it cuts a hole in a path drawn the other way round.
func roundedPath(z *vector.Rasterizer, x0, y0, x1, y1, rx, ry float32, reverse bool) {
	fx := func(x float32) float32 {
		if reverse {
			return x0 + x1 - x
		}
		return x
	}
	ox, oy := rx*(1-kappa), ry*(1-kappa)
	z.MoveTo(fx(x0+rx), y0)
	z.LineTo(fx(x1-rx), y0)
	z.CubeTo(fx(x1-ox), y0, fx(x1), y0+oy, fx(x1), y0+ry)
	z.LineTo(fx(x1), y1-ry)
	z.CubeTo(fx(x1), y1-oy, fx(x1-ox), y1, fx(x1-rx), y1)
	z.LineTo(fx(x0+rx), y1)
	z.CubeTo(fx(x0+ox), y1, fx(x0), y1-oy, fx(x0), y1-ry)
	z.LineTo(fx(x0), y0+ry)
	z.CubeTo(fx(x0), y0+oy, fx(x0+ox), y0, fx(x0+rx), y0)
	z.ClosePath()
}

// paintRounded paints an anti-aliased rounded rectangle filling r. A positive
// inset leaves only a ring of that width inside r.
func paintRounded(dst draw.Image, r image.Rectangle, rx, ry, inset float64, c color.NRGBA) {
	if r.Empty() || r.Intersect(dst.Bounds()).Empty() {
		return
	}
	w, h := float64(r.Dx()), float64(r.Dy())
	rx, ry = math.Min(rx, w/2), math.Min(ry, h/2)

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	roundedPath(z, 0, 0, float32(w), float32(h), float32(rx), float32(ry), false)
	if inset > 0 && 2*inset < w && 2*inset < h {
		roundedPath(z, float32(inset), float32(inset), float32(w-inset), float32(h-inset),
			float32(math.Max(0, rx-inset)), float32(math.Max(0, ry-inset)), true)
	}
	mask := image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func fillEllipse(dst draw.Image, r image.Rectangle, c color.NRGBA) {
	paintRounded(dst, r, float64(r.Dx())/2, float64(r.Dy())/2, 0, c)
}

func strokeEllipse(dst draw.Image, r image.Rectangle, sw int, c color.NRGBA) {
	paintRounded(dst, r, float64(r.Dx())/2, float64(r.Dy())/2, float64(sw), c)
}

func fillRounded(dst draw.Image, r image.Rectangle, radius float64, c color.NRGBA) {
	paintRounded(dst, r, radius, radius, 0, c)
}

func strokeRounded(dst draw.Image, r image.Rectangle, radius float64, sw int, c color.NRGBA) {
	paintRounded(dst, r, radius, radius, float64(sw), c)
}

// strokePx converts a stroke width to whole pixels; anything visible gets at
// least one pixel.
func strokePx(px float64) int {
	if px <= 0 || math.IsNaN(px) {
		return 0
	}
	return max(1, int(math.Round(px)))
}
