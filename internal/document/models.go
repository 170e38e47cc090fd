// Package document holds the print document model: the physical product
// (print specification), its pages, and the positioned elements on them.
//
// All element geometry is in millimeters relative to the top-left corner of
// the page's trim box. Negative coordinates reach into the bleed margin.
package document

import (
	"github.com/yuanying/printkit/internal/units"
)

// PrintSpecification describes the physical sides of a product and the
// resolution it is rendered at.
type PrintSpecification struct {
	Sides []Side `json:"sides"`
	DPI   int    `json:"dpi,omitempty"` // 0 means units.DefaultDPI
}

// Side is one printable surface, e.g. "front" or "inside-left".
type Side struct {
	ID    string               `json:"id"`
	Name  string               `json:"name"`
	Trim  units.Size[units.MM] `json:"trim_mm"`
	Bleed units.MM             `json:"bleed_mm"`
	Safe  units.MM             `json:"safe_mm"`
}

// Document is the thing that gets rendered: a print specification plus one
// page per side.
type Document struct {
	PrintSpec *PrintSpecification `json:"printSpec"`
	Pages     []Page              `json:"pages"`
}

// Page is an ordered list of elements. Array order is paint order; the first
// element is at the bottom.
type Page struct {
	ID       string             `json:"id"`
	Name     string             `json:"name,omitempty"`
	Elements Elements           `json:"elements"`
	Template *TemplatePlacement `json:"template,omitempty"`
}

// TemplatePlacement puts a catalog overlay on a page. A zero width or height
// asks for the template's default placement.
type TemplatePlacement struct {
	TemplateID string   `json:"templateId"`
	X          units.MM `json:"x_mm,omitempty"`
	Y          units.MM `json:"y_mm,omitempty"`
	W          units.MM `json:"w_mm,omitempty"`
	H          units.MM `json:"h_mm,omitempty"`
}

// HasFrame reports whether the placement carries an explicit rectangle.
func (p *TemplatePlacement) HasFrame() bool {
	return p != nil && p.W > 0 && p.H > 0
}

// Frame returns the explicit placement rectangle.
func (p *TemplatePlacement) Frame() units.Rect[units.MM] {
	return units.Rect[units.MM]{X: p.X, Y: p.Y, W: p.W, H: p.H}
}

// EffectiveDPI returns the specification's DPI or the default.
func (s *PrintSpecification) EffectiveDPI() int {
	if s == nil {
		return units.DefaultDPI
	}
	return units.EffectiveDPI(s.DPI)
}

// Side returns the side with the given id.
func (s *PrintSpecification) Side(id string) (*Side, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Sides {
		if s.Sides[i].ID == id {
			return &s.Sides[i], true
		}
	}
	return nil, false
}

// Label returns the side's display name, falling back to its id.
func (s *Side) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// TrimRect is the trim box in page millimeters; its origin is (0,0).
func (s *Side) TrimRect() units.Rect[units.MM] {
	return units.RectFromSize(s.Trim)
}

// BleedRect is the trim box grown by the bleed margin.
func (s *Side) BleedRect() units.Rect[units.MM] {
	return s.TrimRect().Outset(s.Bleed)
}

// SafeRect is the trim box shrunk by the safe margin.
func (s *Side) SafeRect() units.Rect[units.MM] {
	return s.TrimRect().Inset(s.Safe)
}

// CanvasSize returns the side's extent in millimeters, with or without bleed.
func (s *Side) CanvasSize(includeBleed bool) units.Size[units.MM] {
	if includeBleed {
		return s.BleedRect().Size()
	}
	return s.Trim
}

// Page returns the page with the given id.
func (d *Document) Page(id string) (*Page, bool) {
	for i := range d.Pages {
		if d.Pages[i].ID == id {
			return &d.Pages[i], true
		}
	}
	return nil, false
}
