package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/templates"
	"github.com/yuanying/printkit/internal/units"
)

const (
	defaultLabelPadding units.MM = 2
	labelCornerRadius   units.MM = 2
)

type shapeKind string

const (
	kindRect    shapeKind = "rect"
	kindRounded shapeKind = "rounded"
	kindBorder  shapeKind = "border"
	kindEllipse shapeKind = "ellipse"
	kindLine    shapeKind = "line"
)

type shapeStyle struct {
	fill, stroke string
	strokeWidth  int // pixels
	radius       float64
	// bare shapes paint nothing when no colour is given instead of
	// falling back to solid black.
	bare bool
}

// shapePaint is a shape with its colours already parsed, so a bad colour is
// reported before anything reaches the canvas.
type shapePaint struct {
	kind      shapeKind
	fill      color.NRGBA
	stroke    color.NRGBA
	hasFill   bool
	hasStroke bool
	sw        int
	radius    float64
}

func newShapePaint(kind shapeKind, st shapeStyle) (*shapePaint, error) {
	fill, hasFill, err := parseColor(st.fill)
	if err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	stroke, hasStroke, err := parseColor(st.stroke)
	if err != nil {
		return nil, fmt.Errorf("stroke: %w", err)
	}
	p := &shapePaint{
		kind:      kind,
		fill:      fill,
		stroke:    stroke,
		hasFill:   hasFill,
		hasStroke: hasStroke,
		sw:        st.strokeWidth,
		radius:    st.radius,
	}

	switch kind {
	case kindRect, kindRounded, kindEllipse:
		if !hasFill && !hasStroke && !st.bare {
			p.fill, p.hasFill = black, true
		}
	case kindBorder:
		if !hasStroke {
			p.stroke, p.hasStroke = black, true
		}
	case kindLine:
		if !hasStroke {
			p.stroke, p.hasStroke = black, true
			if hasFill {
				p.stroke = fill
			}
		}
	default:
		return nil, fmt.Errorf("unknown shape kind %q", kind)
	}
	if p.hasStroke && p.sw == 0 {
		p.sw = 1
	}
	return p, nil
}

func (p *shapePaint) paint(dst draw.Image, r image.Rectangle) {
	if r.Empty() && p.kind != kindLine {
		return
	}
	switch p.kind {
	case kindRect, kindBorder:
		if p.hasFill {
			fillRect(dst, r, p.fill)
		}
		if p.hasStroke {
			strokeRect(dst, r, p.sw, p.stroke)
		}
	case kindRounded:
		radius := math.Min(p.radius, float64(min(r.Dx(), r.Dy()))/2)
		if p.hasFill {
			fillRounded(dst, r, radius, p.fill)
		}
		if p.hasStroke {
			strokeRounded(dst, r, radius, p.sw, p.stroke)
		}
	case kindEllipse:
		if p.hasFill {
			fillEllipse(dst, r, p.fill)
		}
		if p.hasStroke {
			strokeEllipse(dst, r, p.sw, p.stroke)
		}
	case kindLine:
		drawLine(dst, r, p.sw, p.stroke)
	}
}

func paintShape(c *canvas, e *document.Shape) error {
	p, err := newShapePaint(shapeKind(e.ShapeKind), shapeStyle{
		fill:        e.Fill,
		stroke:      e.Stroke,
		strokeWidth: strokePx(c.length(e.StrokeWidth)),
	})
	if err != nil {
		return err
	}
	p.paint(c.img, c.bounds(e.Frame()))
	return nil
}

func paintText(c *canvas, e *document.Text) error {
	if strings.TrimSpace(e.Text) == "" {
		return nil
	}
	frame := units.Rect[units.MM]{X: e.X, Y: e.Y}
	if e.W != nil {
		frame.W = *e.W
	}
	if e.H != nil {
		frame.H = *e.H
	}
	r := c.bounds(frame)

	block, err := layoutText(e.TextProps, float64(units.PtToPrintPx(e.FontSize, c.dpi)), r.Dx())
	if err != nil {
		return err
	}
	defer block.face.Close()
	block.draw(c.img, r.Min.X, r.Min.Y, r.Dx())
	return nil
}

// paintLabel paints the label's shape and then its text, centred vertically
// inside the padded box.
func paintLabel(c *canvas, e *document.Label) error {
	kind := kindRect
	switch e.Shape {
	case "", document.LabelRect:
	case document.LabelRounded:
		kind = kindRounded
	case document.LabelEllipse:
		kind = kindEllipse
	default:
		return fmt.Errorf("unknown label shape %q", e.Shape)
	}
	shape, err := newShapePaint(kind, shapeStyle{
		fill:        e.Fill,
		stroke:      e.Stroke,
		strokeWidth: strokePx(c.length(e.StrokeWidth)),
		radius:      c.length(labelCornerRadius),
		bare:        true,
	})
	if err != nil {
		return err
	}

	frame := e.Frame()
	pad := e.Padding
	if pad == 0 {
		pad = defaultLabelPadding
	}
	inner := c.bounds(frame.Inset(pad))
	if inner.Empty() {
		inner = c.bounds(frame)
	}

	var block *textBlock
	if strings.TrimSpace(e.TextProps.Text) != "" {
		props := e.TextProps
		if props.Align == "" {
			props.Align = document.AlignCenter
		}
		block, err = layoutText(props, float64(units.PtToPrintPx(props.FontSize, c.dpi)), inner.Dx())
		if err != nil {
			return err
		}
		defer block.face.Close()
	}

	shape.paint(c.img, c.bounds(frame))
	if block != nil {
		top := inner.Min.Y + (inner.Dy()-block.height().Ceil())/2
		block.draw(c.img, inner.Min.X, top, inner.Dx())
	}
	return nil
}

var errNoAssets = errors.New("no asset resolver configured")

func (r *Renderer) paintImage(c *canvas, e *document.Image) error {
	if strings.TrimSpace(e.AssetRef) == "" {
		return errors.New("assetRef is empty")
	}
	src, err := r.loadAsset(e.AssetRef)
	if err != nil {
		return err
	}
	drawImage(c.img, src, c.bounds(e.Frame()), e.Alpha())
	return nil
}

func (r *Renderer) paintTemplate(c *canvas, side *document.Side, p *document.TemplatePlacement) error {
	def, frame, err := ResolvePlacement(r.catalog, side, p)
	if err != nil {
		return err
	}
	return paintOverlay(c.img, def.Overlay, c.pxRect(frame))
}

// paintOverlay scales the overlay's intrinsic coordinates into the placement
// rectangle. Stroke widths scale with the smaller axis.
func paintOverlay(dst draw.Image, ov templates.Overlay, into units.Rect[units.PrintPx]) error {
	sx := float64(into.W) / ov.Width
	sy := float64(into.H) / ov.Height
	scale := math.Min(sx, sy)

	type placed struct {
		paint *shapePaint
		rect  image.Rectangle
	}
	out := make([]placed, 0, len(ov.Primitives))
	for i, p := range ov.Primitives {
		sp, err := newShapePaint(shapeKind(p.Kind), shapeStyle{
			fill:        p.Fill,
			stroke:      p.Stroke,
			strokeWidth: strokePx(p.StrokeWidth * scale),
		})
		if err != nil {
			return fmt.Errorf("overlay primitive %d: %w", i, err)
		}
		x0, y0, x1, y1 := units.Rect[units.PrintPx]{
			X: into.X + units.PrintPx(p.X*sx),
			Y: into.Y + units.PrintPx(p.Y*sy),
			W: units.PrintPx(p.W * sx),
			H: units.PrintPx(p.H * sy),
		}.PixelBounds()
		out = append(out, placed{paint: sp, rect: image.Rect(x0, y0, x1, y1)})
	}
	for _, p := range out {
		p.paint.paint(dst, p.rect)
	}
	return nil
}
