// Package render rasterizes document pages into print-resolution images.
//
// Element geometry is in millimeters relative to the trim origin. Each
// rectangle is converted to print pixels with its edges rounded
// independently, so two elements sharing an edge in millimeters share it in
// pixels too.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/templates"
	"github.com/yuanying/printkit/internal/units"
)

const defaultMaxPixels = 100 * 1000 * 1000 // 100 megapixels

// AssetResolver turns an element's assetRef into encoded image bytes.
type AssetResolver interface {
	ReadFile(ref string) ([]byte, error)
}

// Options configures a Renderer.
type Options struct {
	Assets         AssetResolver
	Catalog        *templates.Catalog // nil disables template overlays
	Logger         *slog.Logger
	MaxAssetPixels int // decode limit per asset (width * height); 0 means 100 megapixels
}

// Renderer paints pages. It holds no per-render state and is safe for
// concurrent use.
type Renderer struct {
	assets    AssetResolver
	catalog   *templates.Catalog
	logger    *slog.Logger
	maxPixels int
}

// New creates a renderer with defaults filled in.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxPixels := opts.MaxAssetPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}
	return &Renderer{
		assets:    opts.Assets,
		catalog:   opts.Catalog,
		logger:    logger,
		maxPixels: maxPixels,
	}
}

// RenderOptions selects the output resolution and extent.
type RenderOptions struct {
	DPI          int  // 0 means the document's DPI
	IncludeBleed bool // grow the canvas by the bleed margin on every side
}

// UnknownPageError is returned when the requested page, or the side it
// belongs to, is not in the document.
type UnknownPageError struct {
	PageID string
	NoSide bool
}

func (e *UnknownPageError) Error() string {
	if e.NoSide {
		return fmt.Sprintf("page %q has no matching side in printSpec", e.PageID)
	}
	return fmt.Sprintf("page %q not found in document", e.PageID)
}

// InvalidGeometryError reports an element whose geometry is missing, not a
// finite number, or out of range. Index is -1 for the page itself.
type InvalidGeometryError struct {
	PageID    string
	Index     int
	ElementID string
	Kind      document.Kind
	Field     string
	Value     float64
}

func (e *InvalidGeometryError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("page %q: invalid %s = %g", e.PageID, e.Field, e.Value)
	}
	return fmt.Sprintf("page %q element %s (%s): invalid %s = %g",
		e.PageID, elementLabel(e.ElementID, e.Index), e.Kind, e.Field, e.Value)
}

// RasterBuffer is a rendered page.
type RasterBuffer struct {
	Image    *image.NRGBA
	DPI      int
	Origin   units.MM // offset of the trim origin from the canvas corner
	Warnings []string // elements that were skipped, one line each
}

// Width returns the canvas width in pixels.
func (b *RasterBuffer) Width() int { return b.Image.Bounds().Dx() }

// Height returns the canvas height in pixels.
func (b *RasterBuffer) Height() int { return b.Image.Bounds().Dy() }

// PixelRect maps a rectangle in page millimeters onto this buffer.
func (b *RasterBuffer) PixelRect(r units.Rect[units.MM]) units.Rect[units.PrintPx] {
	return units.RectMMToPx(r.Translate(b.Origin, b.Origin), b.DPI)
}

// EncodePNG writes the buffer as PNG.
func (b *RasterBuffer) EncodePNG(w io.Writer) error {
	if err := imaging.Encode(w, b.Image, imaging.PNG); err != nil {
		return fmt.Errorf("png encode failed: %w", err)
	}
	return nil
}

// PNG returns the buffer encoded as PNG.
func (b *RasterBuffer) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResolvePlacement looks up the page's template and returns where it sits on
// the page in millimeters, using the template's default placement when the
// page does not give one.
func ResolvePlacement(cat *templates.Catalog, side *document.Side, p *document.TemplatePlacement) (*templates.Definition, units.Rect[units.MM], error) {
	def, err := cat.Get(p.TemplateID)
	if err != nil {
		return nil, units.Rect[units.MM]{}, err
	}
	if p.HasFrame() {
		return def, p.Frame(), nil
	}
	return def, templates.DefaultPlacement(def, side.Trim), nil
}

// canvas is the per-render drawing state.
type canvas struct {
	img    *image.NRGBA
	dpi    int
	origin units.MM
}

func (c *canvas) pxRect(r units.Rect[units.MM]) units.Rect[units.PrintPx] {
	return units.RectMMToPx(r.Translate(c.origin, c.origin), c.dpi)
}

func (c *canvas) bounds(r units.Rect[units.MM]) image.Rectangle {
	x0, y0, x1, y1 := c.pxRect(r).PixelBounds()
	return image.Rect(x0, y0, x1, y1)
}

func (c *canvas) length(mm units.MM) float64 {
	return float64(units.MMToPx(mm, c.dpi))
}

// Render paints one page of doc. Elements are painted in order, the first at
// the bottom, with the page's template overlay on top. Elements that cannot
// be painted are skipped and reported in Warnings; bad geometry fails the
// whole render before anything is painted.
func (r *Renderer) Render(doc *document.Document, pageID string, opts RenderOptions) (*RasterBuffer, error) {
	if doc == nil || doc.PrintSpec == nil || len(doc.Pages) == 0 {
		return nil, document.ErrMalformed
	}
	page, ok := doc.Page(pageID)
	if !ok {
		return nil, &UnknownPageError{PageID: pageID}
	}
	side, ok := doc.PrintSpec.Side(page.ID)
	if !ok {
		return nil, &UnknownPageError{PageID: pageID, NoSide: true}
	}
	if err := checkPage(page, side); err != nil {
		return nil, err
	}

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = doc.PrintSpec.EffectiveDPI()
	}
	var origin units.MM
	if opts.IncludeBleed {
		origin = side.Bleed
	}
	w, h := units.SizeMMToPx(side.CanvasSize(opts.IncludeBleed), dpi)
	if w <= 0 || h <= 0 {
		return nil, &InvalidGeometryError{PageID: pageID, Index: -1, Field: "trim_mm", Value: float64(min(w, h))}
	}

	c := &canvas{img: imaging.New(w, h, color.White), dpi: dpi, origin: origin}
	out := &RasterBuffer{Image: c.img, DPI: dpi, Origin: origin, Warnings: []string{}}

	for i, el := range page.Elements {
		if err := r.paint(c, el); err != nil {
			label := elementLabel(el.ElementID(), i)
			r.logger.Warn("skipping element", "page", pageID, "element", label, "reason", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %q element %s: %v", pageID, label, err))
		}
	}

	if page.Template != nil {
		if err := r.paintTemplate(c, side, page.Template); err != nil {
			r.logger.Warn("skipping template overlay", "page", pageID, "template", page.Template.TemplateID, "reason", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %q template %q: %v", pageID, page.Template.TemplateID, err))
		}
	}

	r.logger.Debug("rendered page", "page", pageID, "dpi", dpi, "width", w, "height", h, "warnings", len(out.Warnings))
	return out, nil
}

func (r *Renderer) paint(c *canvas, el document.Element) error {
	switch e := el.(type) {
	case *document.Text:
		return paintText(c, e)
	case *document.Label:
		return paintLabel(c, e)
	case *document.Image:
		return r.paintImage(c, e)
	case *document.Shape:
		return paintShape(c, e)
	default:
		return fmt.Errorf("%w: %T", document.ErrUnknownElementType, el)
	}
}

func elementLabel(id string, index int) string {
	if id != "" {
		return fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("#%d", index)
}

type geomRule int

const (
	finite geomRule = iota
	nonNegative
	positive
)

type geomField struct {
	name  string
	value float64
	rule  geomRule
}

func (f geomField) ok() bool {
	if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
		return false
	}
	switch f.rule {
	case nonNegative:
		return f.value >= 0
	case positive:
		return f.value > 0
	}
	return true
}

// checkPage validates every element's geometry so a render never half-paints
// a page before discovering a broken element.
func checkPage(page *document.Page, side *document.Side) error {
	for _, f := range []geomField{
		{"trim_mm.w", float64(side.Trim.W), positive},
		{"trim_mm.h", float64(side.Trim.H), positive},
		{"bleed_mm", float64(side.Bleed), nonNegative},
	} {
		if !f.ok() {
			return &InvalidGeometryError{PageID: page.ID, Index: -1, Field: f.name, Value: f.value}
		}
	}

	for i, el := range page.Elements {
		for _, f := range geometryOf(el) {
			if !f.ok() {
				return &InvalidGeometryError{
					PageID:    page.ID,
					Index:     i,
					ElementID: el.ElementID(),
					Kind:      el.Kind(),
					Field:     f.name,
					Value:     f.value,
				}
			}
		}
	}
	if p := page.Template; p != nil && (p.W != 0 || p.H != 0) {
		for _, f := range []geomField{
			{"template.x_mm", float64(p.X), finite},
			{"template.y_mm", float64(p.Y), finite},
			{"template.w_mm", float64(p.W), positive},
			{"template.h_mm", float64(p.H), positive},
		} {
			if !f.ok() {
				return &InvalidGeometryError{PageID: page.ID, Index: -1, Field: f.name, Value: f.value}
			}
		}
	}
	return nil
}

func geometryOf(el document.Element) []geomField {
	box := func(x, y, w, h units.MM) []geomField {
		return []geomField{
			{"x_mm", float64(x), finite},
			{"y_mm", float64(y), finite},
			{"w_mm", float64(w), nonNegative},
			{"h_mm", float64(h), nonNegative},
		}
	}
	fontSize := func(p document.TextProps) []geomField {
		if strings.TrimSpace(p.Text) == "" {
			return nil
		}
		return []geomField{{"fontSize_pt", float64(p.FontSize), positive}}
	}

	switch e := el.(type) {
	case *document.Text:
		fields := []geomField{
			{"x_mm", float64(e.X), finite},
			{"y_mm", float64(e.Y), finite},
		}
		if e.W != nil {
			fields = append(fields, geomField{"w_mm", float64(*e.W), nonNegative})
		}
		if e.H != nil {
			fields = append(fields, geomField{"h_mm", float64(*e.H), nonNegative})
		}
		return append(fields, fontSize(e.TextProps)...)
	case *document.Label:
		fields := box(e.X, e.Y, e.W, e.H)
		fields = append(fields,
			geomField{"strokeWidth_mm", float64(e.StrokeWidth), nonNegative},
			geomField{"padding_mm", float64(e.Padding), nonNegative},
		)
		return append(fields, fontSize(e.TextProps)...)
	case *document.Image:
		return box(e.X, e.Y, e.W, e.H)
	case *document.Shape:
		return append(box(e.X, e.Y, e.W, e.H), geomField{"strokeWidth_mm", float64(e.StrokeWidth), nonNegative})
	}
	return nil
}
