package preflight

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/units"
)

const (
	defaultLineHeight = 1.2
	// averageAdvance estimates a glyph's width as a fraction of the font size
	// for text that has no explicit width.
	averageAdvance = 0.6
)

// FromDocument maps every page of doc into preflight input, keyed by side id.
func FromDocument(doc *document.Document) map[string][]PlacedElement {
	return FromPages(doc.Pages...)
}

// FromPages maps the given pages into preflight input, keyed by side id.
func FromPages(pages ...document.Page) map[string][]PlacedElement {
	out := make(map[string][]PlacedElement, len(pages))
	for _, p := range pages {
		placed := make([]PlacedElement, 0, len(p.Elements))
		for _, el := range p.Elements {
			placed = append(placed, Place(el))
		}
		out[p.ID] = append(out[p.ID], placed...)
	}
	return out
}

// ValidatePage runs preflight for a single page of doc.
func ValidatePage(doc *document.Document, pageID string) (Verdict, error) {
	page, ok := doc.Page(pageID)
	if !ok {
		return Verdict{}, fmt.Errorf("page %q not found in document", pageID)
	}
	return Validate(doc.PrintSpec, FromPages(*page)), nil
}

// Place converts one document element to screen pixels.
func Place(el document.Element) PlacedElement {
	px := units.MMToCSSPx
	switch e := el.(type) {
	case *document.Text:
		fontSize := units.PtToScreenPx(e.FontSize)
		p := PlacedElement{
			ID:       e.ID,
			Type:     TypeText,
			X:        px(e.X),
			Y:        px(e.Y),
			FontSize: fontSize,
			Text:     e.Text,
		}
		lines := strings.Split(e.Text, "\n")
		if e.W != nil {
			p.Width = px(*e.W)
		} else {
			longest := 0
			for _, l := range lines {
				longest = max(longest, utf8.RuneCountInString(l))
			}
			p.Width = units.ScreenPx(float64(longest)*averageAdvance) * fontSize
		}
		if e.H != nil {
			p.Height = px(*e.H)
		} else {
			lh := e.LineHeight
			if lh <= 0 {
				lh = defaultLineHeight
			}
			p.Height = units.ScreenPx(float64(len(lines))*lh) * fontSize
		}
		return p
	case *document.Label:
		return PlacedElement{
			ID:       e.ID,
			Type:     TypeLabelShape,
			X:        px(e.X),
			Y:        px(e.Y),
			Width:    px(e.W),
			Height:   px(e.H),
			FontSize: units.PtToScreenPx(e.TextProps.FontSize),
			Text:     e.TextProps.Text,
		}
	case *document.Image:
		return PlacedElement{ID: e.ID, Type: TypeImage, X: px(e.X), Y: px(e.Y), Width: px(e.W), Height: px(e.H)}
	case *document.Shape:
		return PlacedElement{ID: e.ID, Type: TypeShape, X: px(e.X), Y: px(e.Y), Width: px(e.W), Height: px(e.H)}
	}
	return PlacedElement{ID: el.ElementID(), Type: ElementType(el.Kind())}
}
