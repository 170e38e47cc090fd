package preflight

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/units"
)

func cardSpec() *document.PrintSpecification {
	return &document.PrintSpecification{
		DPI: 300,
		Sides: []document.Side{
			{ID: "front", Trim: units.Size[units.MM]{W: 127, H: 178}, Bleed: 3, Safe: 5},
			{ID: "inside-left", Name: "Inside left", Trim: units.Size[units.MM]{W: 127, H: 178}, Bleed: 3, Safe: 5},
		},
	}
}

func bleedCover() PlacedElement {
	return PlacedElement{
		ID:     "bg",
		Type:   TypeBackground,
		X:      units.MMToCSSPx(-3),
		Y:      units.MMToCSSPx(-3),
		Width:  units.MMToCSSPx(133),
		Height: units.MMToCSSPx(184),
	}
}

func TestValidate_TextContainment(t *testing.T) {
	// Safe area at 96 DPI: 18.9..461.1 x 18.9..653.9.
	inside := PlacedElement{ID: "title", Type: TypeText, X: 50, Y: 50, Width: 200, Height: 40, FontSize: 24}
	outside := inside
	outside.X = 470

	got := Validate(cardSpec(), map[string][]PlacedElement{"front": {inside}})
	if diff := cmp.Diff(Verdict{IsValid: true, Errors: []string{}, Warnings: []string{}}, got); diff != "" {
		t.Fatalf("inside verdict mismatch (-want +got):\n%s", diff)
	}

	got = Validate(cardSpec(), map[string][]PlacedElement{"front": {outside}})
	want := Verdict{
		IsValid:  false,
		Errors:   []string{"front (title) text is outside the safe area"},
		Warnings: []string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("outside verdict mismatch (-want +got):\n%s", diff)
	}

	// Mirrored about X=40, the box covers -160..40 and crosses the left edge.
	mirrored := inside
	mirrored.X = 40
	mirrored.ScaleX = -1
	got = Validate(cardSpec(), map[string][]PlacedElement{"front": {mirrored}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mirrored verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_TextBoxEdges(t *testing.T) {
	safe := units.RectMMToScreen(units.Rect[units.MM]{X: 5, Y: 5, W: 117, H: 168})
	tests := []struct {
		name  string
		el    PlacedElement
		valid bool
	}{
		{"exactly the safe area", PlacedElement{Type: TypeText, X: safe.X, Y: safe.Y, Width: safe.W, Height: safe.H}, true},
		{"one pixel into the margin", PlacedElement{Type: TypeText, X: safe.X - 1, Y: safe.Y, Width: 10, Height: 10}, false},
		{"scaled past the edge", PlacedElement{Type: TypeLabelShape, X: 100, Y: 100, Width: 100, Height: 20, ScaleX: 4}, false},
		{"scale zero means one", PlacedElement{Type: TypeLabelShape, X: 100, Y: 100, Width: 100, Height: 20}, true},
		{"no height uses font size", PlacedElement{Type: TypeText, X: 100, Y: 640, Width: 50, FontSize: 20}, false},
		{"flipped horizontally inside", PlacedElement{Type: TypeText, X: 300, Y: 100, Width: 100, Height: 20, ScaleX: -1}, true},
		{"flipped horizontally past the edge", PlacedElement{Type: TypeText, X: 100, Y: 100, Width: 100, Height: 20, ScaleX: -1}, false},
		{"flipped vertically past the edge", PlacedElement{Type: TypeText, X: 100, Y: 30, Width: 100, Height: 20, ScaleY: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(cardSpec(), map[string][]PlacedElement{"front": {tt.el}})
			if got.IsValid != tt.valid {
				t.Fatalf("IsValid = %v, want %v (errors %v)", got.IsValid, tt.valid, got.Errors)
			}
		})
	}
}

func TestPlacedElement_BoundsMirrored(t *testing.T) {
	el := PlacedElement{Type: TypeText, X: 40, Y: 100, Width: 200, Height: 30, ScaleX: -1, ScaleY: -2}
	want := units.Rect[units.ScreenPx]{X: -160, Y: 40, W: 200, H: 60}
	if diff := cmp.Diff(want, el.Bounds()); diff != "" {
		t.Fatalf("Bounds() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_NonTextCoverage(t *testing.T) {
	got := Validate(cardSpec(), map[string][]PlacedElement{"front": {bleedCover()}})
	if !got.IsValid || len(got.Warnings) != 0 {
		t.Fatalf("full-bleed background: %+v, want valid with no warnings", got)
	}

	short := bleedCover()
	short.Width -= 10
	photo := PlacedElement{Type: TypeImage, X: 100, Y: 100, Width: 50, Height: 50}
	lost := PlacedElement{ID: "logo", Type: TypeShape, X: 2000, Y: 100, Width: 50, Height: 50}

	got = Validate(cardSpec(), map[string][]PlacedElement{"inside-left": {short, photo, lost}})
	want := Verdict{
		IsValid: true,
		Errors:  []string{},
		Warnings: []string{
			"Inside left background (bg) does not cover the bleed area",
			"Inside left image does not cover the bleed area",
			"Inside left shape (logo) lies outside the printable area",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_Errors(t *testing.T) {
	got := Validate(cardSpec(), map[string][]PlacedElement{
		"back":  {{Type: TypeText, X: 50, Y: 50, Width: 10, Height: 10}},
		"front": {{ID: "x", Type: "sticker"}, {ID: "y", Type: TypeImage, Width: units.ScreenPx(math.NaN())}},
	})
	want := []string{
		`front (x) has unknown element type "sticker"`,
		"front (y) image has invalid geometry",
		`side "back" is not defined in the print specification`,
	}
	if diff := cmp.Diff(want, got.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	if got.IsValid {
		t.Fatal("IsValid = true, want false")
	}

	if v := Validate(nil, nil); v.IsValid || len(v.Errors) != 1 {
		t.Fatalf("Validate(nil) = %+v", v)
	}
}

func TestValidate_SideOrder(t *testing.T) {
	bad := PlacedElement{Type: TypeText, X: -5, Y: 50, Width: 10, Height: 10}
	got := Validate(cardSpec(), map[string][]PlacedElement{"inside-left": {bad}, "front": {bad}})
	want := []string{"front text is outside the safe area", "Inside left text is outside the safe area"}
	if diff := cmp.Diff(want, got.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestVerdict_JSON(t *testing.T) {
	data, err := json.Marshal(Validate(cardSpec(), nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(data), `{"isValid":true,"errors":[],"warnings":[]}`; got != want {
		t.Fatalf("JSON = %s, want %s", got, want)
	}
}

func TestFromDocument_TextInBleedIsFlagged(t *testing.T) {
	doc := &document.Document{
		PrintSpec: cardSpec(),
		Pages: []document.Page{{
			ID: "front",
			Elements: document.Elements{
				&document.Image{ID: "bg", X: -3, Y: -3, W: 133, H: 184, AssetRef: "bg.png"},
				&document.Text{ID: "headline", X: 20, Y: -2, TextProps: document.TextProps{Text: "Hello", FontSize: 18}},
			},
		}},
	}
	got, err := ValidatePage(doc, "front")
	if err != nil {
		t.Fatalf("ValidatePage() error = %v", err)
	}
	if got.IsValid {
		t.Fatal("text in the bleed margin passed preflight")
	}
	if len(got.Errors) != 1 || !strings.Contains(got.Errors[0], "headline") || !strings.Contains(got.Errors[0], "outside the safe area") {
		t.Fatalf("Errors = %v", got.Errors)
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("Warnings = %v, want none for a full-bleed image", got.Warnings)
	}

	doc.Pages[0].Elements[1].(*document.Text).Y = 20
	if got, _ := ValidatePage(doc, "front"); !got.IsValid {
		t.Fatalf("text moved inside: %+v", got)
	}

	if _, err := ValidatePage(doc, "back"); err == nil {
		t.Fatal("ValidatePage(back) should fail")
	}
}

func TestPlace(t *testing.T) {
	w := units.MM(50)
	tests := []struct {
		name string
		el   document.Element
		want PlacedElement
	}{
		{
			"text with width",
			&document.Text{ID: "t", X: 25.4, Y: 25.4, W: &w, TextProps: document.TextProps{Text: "a\nb", FontSize: 12}},
			PlacedElement{ID: "t", Type: TypeText, X: 96, Y: 96, Width: units.MMToCSSPx(50), Height: 2 * 1.2 * 16, FontSize: 16, Text: "a\nb"},
		},
		{
			"text without width",
			&document.Text{X: 0, Y: 0, TextProps: document.TextProps{Text: "abcde", FontSize: 15, LineHeight: 1}},
			PlacedElement{Type: TypeText, Width: 5 * 0.6 * 20, Height: 20, FontSize: 20, Text: "abcde"},
		},
		{
			"label",
			&document.Label{ID: "l", W: 25.4, H: 25.4, TextProps: document.TextProps{Text: "hi", FontSize: 9}},
			PlacedElement{ID: "l", Type: TypeLabelShape, Width: 96, Height: 96, FontSize: 12, Text: "hi"},
		},
		{
			"shape",
			&document.Shape{ID: "s", X: -25.4, W: 25.4, H: 25.4},
			PlacedElement{ID: "s", Type: TypeShape, X: -96, Width: 96, Height: 96},
		},
	}
	approx := cmp.Comparer(func(a, b units.ScreenPx) bool {
		return math.Abs(float64(a-b)) <= 1e-9
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Place(tt.el), approx); diff != "" {
				t.Fatalf("Place() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
