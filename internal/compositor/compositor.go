// Package compositor stamps a code image (typically a QR code) onto a
// finished design at a template-relative location.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/yuanying/printkit/internal/templates"
	"github.com/yuanying/printkit/internal/units"
)

var (
	ErrTargetOutOfBounds = errors.New("target rectangle lies outside the design")
	ErrEmptyTarget       = errors.New("target rectangle is empty")
	ErrMissingCode       = errors.New("code image is missing")
	ErrInvalidImage      = errors.New("invalid image data")
)

// CompositeError is returned when a code cannot be placed on a design. It
// means the template and placement disagree; retrying will not help.
type CompositeError struct {
	Rect   units.Rect[units.PrintPx]
	Bounds image.Rectangle
	Err    error
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("composite code at (%g,%g %gx%g) onto %v: %v",
		float64(e.Rect.X), float64(e.Rect.Y), float64(e.Rect.W), float64(e.Rect.H), e.Bounds, e.Err)
}

func (e *CompositeError) Unwrap() error {
	return e.Err
}

// CodeGenerator renders a payload into an encoded square image of size
// pixels per side.
type CodeGenerator interface {
	Generate(payload string, size int) ([]byte, error)
}

// CompositeCode scales code into target and paints it over design. The
// target must lie fully inside the design. The design is not modified; the
// result is a new buffer with the same bounds origin at zero.
func CompositeCode(design, code image.Image, target units.Rect[units.PrintPx]) (*image.NRGBA, error) {
	bounds := design.Bounds()
	fail := func(err error) error {
		return &CompositeError{Rect: target, Bounds: bounds, Err: err}
	}
	if code == nil || code.Bounds().Empty() {
		return nil, fail(ErrMissingCode)
	}
	if !target.IsFinite() || target.W <= 0 || target.H <= 0 {
		return nil, fail(ErrEmptyTarget)
	}
	// Checked before rounding, so a target a fraction of a pixel over the
	// edge is still rejected.
	area := units.Rect[units.PrintPx]{
		X: units.PrintPx(bounds.Min.X),
		Y: units.PrintPx(bounds.Min.Y),
		W: units.PrintPx(bounds.Dx()),
		H: units.PrintPx(bounds.Dy()),
	}
	if !area.Contains(target) {
		return nil, fail(ErrTargetOutOfBounds)
	}
	x0, y0, x1, y1 := target.PixelBounds()
	r := image.Rect(x0, y0, x1, y1)
	if r.Empty() {
		return nil, fail(ErrEmptyTarget)
	}

	// Nearest neighbour keeps module edges hard so scanners see clean cells.
	scaled := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), code, code.Bounds(), draw.Src, nil)

	out := imaging.Clone(design)
	return imaging.Overlay(out, scaled, r.Min.Sub(bounds.Min), 1.0), nil
}

// CompositeBytes is CompositeCode over encoded images. The result is PNG.
func CompositeBytes(designData, codeData []byte, target units.Rect[units.PrintPx]) ([]byte, error) {
	if len(codeData) == 0 {
		return nil, &CompositeError{Rect: target, Err: ErrMissingCode}
	}
	design, err := decode("design", designData)
	if err != nil {
		return nil, err
	}
	code, err := decode("code", codeData)
	if err != nil {
		return nil, err
	}
	out, err := CompositeCode(design, code, target)
	if err != nil {
		return nil, err
	}
	return encodePNG(out)
}

// ComposeTemplateCode generates a code for payload and stamps it into the
// code region of a template placed at placement (in the design's pixels).
// Codes are square, so the code is centred in the region at the region's
// shorter side.
func ComposeTemplateCode(design image.Image, gen CodeGenerator, def *templates.Definition, placement units.Rect[units.PrintPx], payload string) (*image.NRGBA, error) {
	target, err := TemplateTarget(def, placement)
	if err != nil {
		return nil, err
	}
	size := int(math.Round(float64(target.W)))
	if size <= 0 {
		return nil, &CompositeError{Rect: target, Bounds: design.Bounds(), Err: ErrEmptyTarget}
	}

	data, err := gen.Generate(payload, size)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	code, err := decode("code", data)
	if err != nil {
		return nil, err
	}
	return CompositeCode(design, code, target)
}

// TemplateTarget returns the square code area of a template placed at
// placement.
func TemplateTarget(def *templates.Definition, placement units.Rect[units.PrintPx]) (units.Rect[units.PrintPx], error) {
	region, err := templates.ResolveCodeTarget(def, placement)
	if err != nil {
		return units.Rect[units.PrintPx]{}, fmt.Errorf("resolve code target: %w", err)
	}
	return squareIn(region), nil
}

func squareIn(r units.Rect[units.PrintPx]) units.Rect[units.PrintPx] {
	side := min(r.W, r.H)
	return units.Rect[units.PrintPx]{
		X: r.X + (r.W-side)/2,
		Y: r.Y + (r.H-side)/2,
		W: side,
		H: side,
	}
}

func decode(what string, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s image is empty", ErrInvalidImage, what)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s image: %v", ErrInvalidImage, what, err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
