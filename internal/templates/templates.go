// Package templates is the catalog of overlay templates: decorative frames
// with a reserved, normalized region where a generated code image goes.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yuanying/printkit/internal/units"
)

//go:embed catalog.yaml
var catalogYAML []byte

// fractionEpsilon absorbs decimal rounding in hand-written fractions such as
// 0.7033 + 0.12.
const fractionEpsilon = 1e-9

var (
	ErrNotFound         = errors.New("template not found")
	ErrInvalidPlacement = errors.New("invalid template placement")
)

// Anchor says how CodeTarget's x/y are read.
type Anchor string

const (
	// AnchorCenter treats x/y as the centre of the code region. This is the
	// default because the catalog artwork was tuned against it.
	AnchorCenter Anchor = "center"
	// AnchorCorner treats x/y as the top-left corner of the code region.
	AnchorCorner Anchor = "corner"
)

// Point is a fractional position.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Fraction is a rectangle in fractions (0..1) of a template's bounding box.
type Fraction struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// PrimitiveKind is the kind of an overlay drawing primitive.
type PrimitiveKind string

const (
	PrimitiveRect    PrimitiveKind = "rect"
	PrimitiveBorder  PrimitiveKind = "border"
	PrimitiveEllipse PrimitiveKind = "ellipse"
	PrimitiveLine    PrimitiveKind = "line"
)

// Primitive is one piece of overlay artwork in the overlay's intrinsic units.
type Primitive struct {
	Kind        PrimitiveKind `yaml:"kind" json:"kind"`
	X           float64       `yaml:"x" json:"x"`
	Y           float64       `yaml:"y" json:"y"`
	W           float64       `yaml:"w" json:"w"`
	H           float64       `yaml:"h" json:"h"`
	Fill        string        `yaml:"fill,omitempty" json:"fill,omitempty"`
	Stroke      string        `yaml:"stroke,omitempty" json:"stroke,omitempty"`
	StrokeWidth float64       `yaml:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
}

// Overlay is vector artwork with a fixed intrinsic size.
type Overlay struct {
	Width      float64     `yaml:"width" json:"width"`
	Height     float64     `yaml:"height" json:"height"`
	Primitives []Primitive `yaml:"primitives" json:"primitives"`
}

// Definition is a catalog entry.
type Definition struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Overlay         Overlay  `yaml:"overlay" json:"overlay"`
	DefaultScale    float64  `yaml:"defaultScale" json:"defaultScale"`
	DefaultPosition Point    `yaml:"defaultPosition" json:"defaultPosition"`
	CodeTarget      Fraction `yaml:"codeTarget" json:"codeTarget"`
	Anchor          Anchor   `yaml:"anchor,omitempty" json:"anchor,omitempty"`
}

// FractionError reports a template whose fractions fall outside [0,1].
type FractionError struct {
	TemplateID string
	Field      string
	Value      float64
}

func (e *FractionError) Error() string {
	return fmt.Sprintf("template %q: %s = %g is outside [0,1]", e.TemplateID, e.Field, e.Value)
}

// TargetBox returns the code region as a top-left anchored fraction box.
func (d *Definition) TargetBox() Fraction {
	f := d.CodeTarget
	if d.Anchor == AnchorCorner {
		return f
	}
	return Fraction{X: f.X - f.W/2, Y: f.Y - f.H/2, W: f.W, H: f.H}
}

// Validate checks the overlay size and that the code region and default
// position stay inside the template's bounding box.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("template id is empty")
	}
	if !(d.Overlay.Width > 0) || !(d.Overlay.Height > 0) {
		return fmt.Errorf("template %q: overlay size must be positive", d.ID)
	}
	if !(d.DefaultScale > 0) {
		return fmt.Errorf("template %q: defaultScale must be positive", d.ID)
	}
	switch d.Anchor {
	case "", AnchorCenter, AnchorCorner:
	default:
		return fmt.Errorf("template %q: unknown anchor %q", d.ID, d.Anchor)
	}

	if err := d.validateTarget(); err != nil {
		return err
	}
	for _, c := range []struct {
		field string
		value float64
	}{
		{"defaultPosition.x", d.DefaultPosition.X},
		{"defaultPosition.y", d.DefaultPosition.Y},
	} {
		if !inUnit(c.value) {
			return &FractionError{TemplateID: d.ID, Field: c.field, Value: c.value}
		}
	}
	return nil
}

// validateTarget checks only the code region: positive size and a box inside
// the template's bounds.
func (d *Definition) validateTarget() error {
	if !(d.CodeTarget.W > 0) {
		return &FractionError{TemplateID: d.ID, Field: "codeTarget.w", Value: d.CodeTarget.W}
	}
	if !(d.CodeTarget.H > 0) {
		return &FractionError{TemplateID: d.ID, Field: "codeTarget.h", Value: d.CodeTarget.H}
	}

	box := d.TargetBox()
	for _, c := range []struct {
		field string
		value float64
	}{
		{"codeTarget.x", box.X},
		{"codeTarget.y", box.Y},
		{"codeTarget.x+w", box.X + box.W},
		{"codeTarget.y+h", box.Y + box.H},
	} {
		if !inUnit(c.value) {
			return &FractionError{TemplateID: d.ID, Field: c.field, Value: c.value}
		}
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= -fractionEpsilon && v <= 1+fractionEpsilon
}

// ResolveCodeTarget maps the template's code region onto a placed instance
// of the template. The result is in the same unit as placement, so the code
// lands in the right spot however the template was scaled or moved.
//
// With the center anchor:
//
//	x = p.X + p.W*f.X - p.W*f.W/2
//	y = p.Y + p.H*f.Y - p.H*f.H/2
//
// and with the corner anchor the half-size terms are dropped. In both cases
// the size is (p.W*f.W, p.H*f.H).
func ResolveCodeTarget[T units.Length](def *Definition, placement units.Rect[T]) (units.Rect[T], error) {
	if err := def.validateTarget(); err != nil {
		return units.Rect[T]{}, err
	}
	if !placement.IsFinite() || placement.W <= 0 || placement.H <= 0 {
		return units.Rect[T]{}, fmt.Errorf("%w: %+v", ErrInvalidPlacement, placement)
	}

	f := def.CodeTarget
	px, py := float64(placement.X), float64(placement.Y)
	pw, ph := float64(placement.W), float64(placement.H)

	x := px + pw*f.X
	y := py + ph*f.Y
	if def.Anchor != AnchorCorner {
		x = px + pw*f.X - pw*f.W/2
		y = py + ph*f.Y - ph*f.H/2
	}
	return units.Rect[T]{X: T(x), Y: T(y), W: T(pw * f.W), H: T(ph * f.H)}, nil
}

// DefaultPlacement is where a template lands when first added to a page:
// DefaultScale of the trim width wide, the overlay's aspect ratio tall, and
// centred on DefaultPosition (fractions of the trim).
func DefaultPlacement(def *Definition, trim units.Size[units.MM]) units.Rect[units.MM] {
	w := float64(trim.W) * def.DefaultScale
	h := w * def.Overlay.Height / def.Overlay.Width
	cx := float64(trim.W) * def.DefaultPosition.X
	cy := float64(trim.H) * def.DefaultPosition.Y
	return units.Rect[units.MM]{
		X: units.MM(cx - w/2),
		Y: units.MM(cy - h/2),
		W: units.MM(w),
		H: units.MM(h),
	}
}

// Catalog is an immutable id -> Definition lookup table.
type Catalog struct {
	defs map[string]*Definition
	ids  []string
}

// NewCatalog validates defs and builds a catalog from them.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		def := defs[i]
		if def.Anchor == "" {
			def.Anchor = AnchorCenter
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.defs[def.ID]; dup {
			return nil, fmt.Errorf("template %q is defined twice", def.ID)
		}
		c.defs[def.ID] = &def
		c.ids = append(c.ids, def.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Parse builds a catalog from its YAML representation.
func Parse(data []byte) (*Catalog, error) {
	var file struct {
		Templates []Definition `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}
	return NewCatalog(file.Templates...)
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Parse(catalogYAML)
})

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// Get returns the definition with the given id. The returned value must not
// be modified.
func (c *Catalog) Get(id string) (*Definition, error) {
	if c != nil {
		if def, ok := c.defs[id]; ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// List returns all definitions ordered by id.
func (c *Catalog) List() []*Definition {
	if c == nil {
		return nil
	}
	out := make([]*Definition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.defs[id])
	}
	return out
}
