// Package preflight checks placed content against a product's physical
// constraints before anything is sent to print.
//
// Input is in 96-DPI screen pixels, the space an interactive editor works
// in, not the print-resolution pixels the renderer paints in. The check is
// purely geometric.
package preflight

import (
	"fmt"
	"math"
	"sort"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/units"
)

// ElementType is the kind of a placed element as the editor reports it.
type ElementType string

const (
	TypeText       ElementType = "text"
	TypeLabelShape ElementType = "label-shape"
	TypeImage      ElementType = "image"
	TypeBackground ElementType = "background"
	TypeShape      ElementType = "shape"
)

// IsText reports whether elements of this type carry text.
func (t ElementType) IsText() bool {
	return t == TypeText || t == TypeLabelShape
}

func (t ElementType) known() bool {
	switch t {
	case TypeText, TypeLabelShape, TypeImage, TypeBackground, TypeShape:
		return true
	}
	return false
}

// PlacedElement is one element as positioned on a side, in screen pixels.
type PlacedElement struct {
	ID       string         `json:"id,omitempty"`
	Type     ElementType    `json:"type"`
	X        units.ScreenPx `json:"x"`
	Y        units.ScreenPx `json:"y"`
	Width    units.ScreenPx `json:"width"`
	Height   units.ScreenPx `json:"height"`
	FontSize units.ScreenPx `json:"fontSize,omitempty"`
	ScaleX   float64        `json:"scaleX,omitempty"` // 0 means 1
	ScaleY   float64        `json:"scaleY,omitempty"` // 0 means 1
	Text     string         `json:"text,omitempty"`
}

// Bounds returns the element's scaled bounding box. Text without a height
// is treated as one line of FontSize. A negative scale mirrors the element
// about its origin, so the box then extends left of X or above Y.
func (e PlacedElement) Bounds() units.Rect[units.ScreenPx] {
	sx, sy := e.ScaleX, e.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	h := e.Height
	if h == 0 && e.Type.IsText() {
		h = e.FontSize
	}
	w := e.Width * units.ScreenPx(sx)
	h *= units.ScreenPx(sy)
	return units.Rect[units.ScreenPx]{
		X: min(e.X, e.X+w),
		Y: min(e.Y, e.Y+h),
		W: units.ScreenPx(math.Abs(float64(w))),
		H: units.ScreenPx(math.Abs(float64(h))),
	}
}

// Verdict is the outcome of a preflight run. Warnings never block export.
type Verdict struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks every side's elements. Text must sit fully inside the safe
// area; anything else should cover the whole bleed area and only produces a
// warning when it does not. Sides are visited in specification order and
// elements in input order, so messages are deterministic.
func Validate(spec *document.PrintSpecification, sides map[string][]PlacedElement) Verdict {
	v := Verdict{Errors: []string{}, Warnings: []string{}}
	if spec == nil {
		v.Errors = append(v.Errors, "print specification is missing")
		return v
	}

	for i := range spec.Sides {
		side := &spec.Sides[i]
		for _, el := range sides[side.ID] {
			v.check(side, el)
		}
	}

	var unknown []string
	for id := range sides {
		if _, ok := spec.Side(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		v.Errors = append(v.Errors, fmt.Sprintf("side %q is not defined in the print specification", id))
	}

	v.IsValid = len(v.Errors) == 0
	return v
}

// tolerance absorbs rounding in coordinates that went through an editor.
const tolerance units.ScreenPx = 0.01

// screenRect converts a page rectangle to the editor's pixel space.
func screenRect(r units.Rect[units.MM]) units.Rect[units.ScreenPx] {
	return units.RectMMToScreen(r)
}

// within reports whether inner lies inside outer, give or take tolerance.
func within(outer, inner units.Rect[units.ScreenPx]) bool {
	return outer.Outset(tolerance).Contains(inner)
}

func (v *Verdict) check(side *document.Side, el PlacedElement) {
	name := side.Label()
	if el.ID != "" {
		name = fmt.Sprintf("%s (%s)", name, el.ID)
	}

	box := el.Bounds()
	if !el.Type.known() {
		v.Errors = append(v.Errors, fmt.Sprintf("%s has unknown element type %q", name, el.Type))
		return
	}
	if !box.IsFinite() || math.IsNaN(float64(el.FontSize)) {
		v.Errors = append(v.Errors, fmt.Sprintf("%s %s has invalid geometry", name, el.Type))
		return
	}

	if el.Type.IsText() {
		if !within(screenRect(side.SafeRect()), box) {
			v.Errors = append(v.Errors, fmt.Sprintf("%s text is outside the safe area", name))
		}
		return
	}

	bleed := screenRect(side.BleedRect())
	switch {
	case !bleed.Intersects(box):
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s %s lies outside the printable area", side.Label(), describe(el)))
	case !within(box, bleed):
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s %s does not cover the bleed area", side.Label(), describe(el)))
	}
}

func describe(el PlacedElement) string {
	if el.ID == "" {
		return string(el.Type)
	}
	return fmt.Sprintf("%s (%s)", el.Type, el.ID)
}
