package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/yuanying/printkit/internal/units"
)

// Kind is the wire discriminator of an element.
type Kind string

const (
	KindText  Kind = "text"
	KindLabel Kind = "label"
	KindImage Kind = "image"
	KindShape Kind = "shape"
)

// ErrUnknownElementType is returned when an element's "type" is not one of
// the known kinds.
var ErrUnknownElementType = errors.New("unknown element type")

// Element is one of *Text, *Label, *Image or *Shape. The set is closed: code
// that switches on elements handles exactly these four.
type Element interface {
	Kind() Kind
	ElementID() string
	isElement()
}

// Align is horizontal text alignment inside an element's box.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// TextProps is the typographic part of text-bearing elements.
type TextProps struct {
	Text       string   `json:"text"`
	FontSize   units.Pt `json:"fontSize_pt"`
	FontFamily string   `json:"fontFamily,omitempty"`
	Bold       bool     `json:"bold,omitempty"`
	Italic     bool     `json:"italic,omitempty"`
	Color      string   `json:"color,omitempty"`
	Align      Align    `json:"align,omitempty"`
	LineHeight float64  `json:"lineHeight,omitempty"` // multiple of the font size, 0 means 1.2
}

// Text is free-standing text. Width and height are optional; without a width
// the text is neither wrapped nor aligned.
type Text struct {
	ID string    `json:"id,omitempty"`
	X  units.MM  `json:"x_mm"`
	Y  units.MM  `json:"y_mm"`
	W  *units.MM `json:"w_mm,omitempty"`
	H  *units.MM `json:"h_mm,omitempty"`
	TextProps
}

// LabelShape is the outline painted behind a label's text.
type LabelShape string

const (
	LabelRect    LabelShape = "rect"
	LabelRounded LabelShape = "rounded"
	LabelEllipse LabelShape = "ellipse"
)

// Label is a bordered or shaped text container.
type Label struct {
	ID          string     `json:"id,omitempty"`
	X           units.MM   `json:"x_mm"`
	Y           units.MM   `json:"y_mm"`
	W           units.MM   `json:"w_mm"`
	H           units.MM   `json:"h_mm"`
	TextProps   TextProps  `json:"textProps"`
	Shape       LabelShape `json:"shape,omitempty"`
	Fill        string     `json:"fill,omitempty"`
	Stroke      string     `json:"stroke,omitempty"`
	StrokeWidth units.MM   `json:"strokeWidth_mm,omitempty"`
	Padding     units.MM   `json:"padding_mm,omitempty"`
}

// Image is a raster asset scaled into its box. No aspect correction is done;
// callers pre-crop.
type Image struct {
	ID       string   `json:"id,omitempty"`
	X        units.MM `json:"x_mm"`
	Y        units.MM `json:"y_mm"`
	W        units.MM `json:"w_mm"`
	H        units.MM `json:"h_mm"`
	AssetRef string   `json:"assetRef"`
	Opacity  *float64 `json:"opacity,omitempty"` // nil means fully opaque
}

// ShapeKind selects how a Shape is painted.
type ShapeKind string

const (
	ShapeRect    ShapeKind = "rect"
	ShapeBorder  ShapeKind = "border"
	ShapeEllipse ShapeKind = "ellipse"
	ShapeLine    ShapeKind = "line"
)

// Shape is a filled or stroked primitive.
type Shape struct {
	ID          string    `json:"id,omitempty"`
	X           units.MM  `json:"x_mm"`
	Y           units.MM  `json:"y_mm"`
	W           units.MM  `json:"w_mm"`
	H           units.MM  `json:"h_mm"`
	ShapeKind   ShapeKind `json:"kind"`
	Fill        string    `json:"fill,omitempty"`
	Stroke      string    `json:"stroke,omitempty"`
	StrokeWidth units.MM  `json:"strokeWidth_mm,omitempty"`
}

func (*Text) Kind() Kind  { return KindText }
func (*Label) Kind() Kind { return KindLabel }
func (*Image) Kind() Kind { return KindImage }
func (*Shape) Kind() Kind { return KindShape }

func (e *Text) ElementID() string  { return e.ID }
func (e *Label) ElementID() string { return e.ID }
func (e *Image) ElementID() string { return e.ID }
func (e *Shape) ElementID() string { return e.ID }

func (*Text) isElement()  {}
func (*Label) isElement() {}
func (*Image) isElement() {}
func (*Shape) isElement() {}

// Frame returns the label's box.
func (e *Label) Frame() units.Rect[units.MM] {
	return units.Rect[units.MM]{X: e.X, Y: e.Y, W: e.W, H: e.H}
}

// Frame returns the image's box.
func (e *Image) Frame() units.Rect[units.MM] {
	return units.Rect[units.MM]{X: e.X, Y: e.Y, W: e.W, H: e.H}
}

// Frame returns the shape's box.
func (e *Shape) Frame() units.Rect[units.MM] {
	return units.Rect[units.MM]{X: e.X, Y: e.Y, W: e.W, H: e.H}
}

// Alpha returns the image opacity clamped to [0,1].
func (e *Image) Alpha() float64 {
	if e.Opacity == nil {
		return 1
	}
	return math.Max(0, math.Min(1, *e.Opacity))
}

// Elements is an ordered element list that round-trips through the tagged
// JSON wire format.
type Elements []Element

// UnmarshalJSON decodes each element according to its "type" field.
func (es *Elements) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Elements, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type Kind `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}

		var el Element
		switch head.Type {
		case KindText:
			el = &Text{}
		case KindLabel:
			el = &Label{}
		case KindImage:
			el = &Image{}
		case KindShape:
			el = &Shape{}
		default:
			return fmt.Errorf("element %d: %w %q", i, ErrUnknownElementType, head.Type)
		}
		if err := json.Unmarshal(raw, el); err != nil {
			return fmt.Errorf("element %d (%s): %w", i, head.Type, err)
		}
		out = append(out, el)
	}
	*es = out
	return nil
}

// MarshalJSON encodes each element with its "type" discriminator.
func (es Elements) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(es))
	for i, el := range es {
		data, err := json.Marshal(tagged{Type: el.Kind(), Element: el})
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, data)
	}
	return json.Marshal(out)
}

type tagged struct {
	Type    Kind
	Element Element
}

func (t tagged) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(t.Element)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("element %s did not encode as an object", t.Type)
	}
	prefix := fmt.Sprintf(`{"type":%q`, t.Type)
	if string(body) == "{}" {
		return []byte(prefix + "}"), nil
	}
	return append([]byte(prefix+","), body[1:]...), nil
}

// Required coordinates missing from the wire decode as NaN so that the
// renderer can name the missing field instead of painting at zero.

func (e *Label) UnmarshalJSON(data []byte) error {
	type plain Label
	aux := struct {
		*plain
		X *units.MM `json:"x_mm"`
		Y *units.MM `json:"y_mm"`
		W *units.MM `json:"w_mm"`
		H *units.MM `json:"h_mm"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.X, e.Y, e.W, e.H = orNaN(aux.X), orNaN(aux.Y), orNaN(aux.W), orNaN(aux.H)
	return nil
}

func (e *Image) UnmarshalJSON(data []byte) error {
	type plain Image
	aux := struct {
		*plain
		X *units.MM `json:"x_mm"`
		Y *units.MM `json:"y_mm"`
		W *units.MM `json:"w_mm"`
		H *units.MM `json:"h_mm"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.X, e.Y, e.W, e.H = orNaN(aux.X), orNaN(aux.Y), orNaN(aux.W), orNaN(aux.H)
	return nil
}

func (e *Shape) UnmarshalJSON(data []byte) error {
	type plain Shape
	aux := struct {
		*plain
		X *units.MM `json:"x_mm"`
		Y *units.MM `json:"y_mm"`
		W *units.MM `json:"w_mm"`
		H *units.MM `json:"h_mm"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.X, e.Y, e.W, e.H = orNaN(aux.X), orNaN(aux.Y), orNaN(aux.W), orNaN(aux.H)
	return nil
}

func (e *Text) UnmarshalJSON(data []byte) error {
	type plain Text
	aux := struct {
		*plain
		X *units.MM `json:"x_mm"`
		Y *units.MM `json:"y_mm"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.X, e.Y = orNaN(aux.X), orNaN(aux.Y)
	return nil
}

func orNaN(v *units.MM) units.MM {
	if v == nil {
		return units.MM(math.NaN())
	}
	return *v
}
