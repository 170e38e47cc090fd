package qrcode

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"testing"
)

func TestGenerator_Image(t *testing.T) {
	img, err := Generator{}.Image("https://example.com/p/abc123", 300)
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 300 {
		t.Fatalf("bounds = %v, want 300x300", b)
	}

	white := color.NRGBAModel.Convert(color.White)
	if got := color.NRGBAModel.Convert(img.At(0, 0)); got != white {
		t.Fatalf("quiet zone pixel = %v, want white", got)
	}
	dark := 0
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r == 0 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatal("code has no dark modules")
	}
}

func TestGenerator_Generate(t *testing.T) {
	data, err := Generator{Level: "h", Quiet: -1}.Generate("hello", 64)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.DecodeConfig() error = %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 64 {
		t.Fatalf("size = %dx%d, want 64x64", cfg.Width, cfg.Height)
	}
}

func TestGenerator_Errors(t *testing.T) {
	if _, err := (Generator{}).Generate("", 100); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("empty payload error = %v, want ErrEmptyPayload", err)
	}
	if _, err := (Generator{}).Generate("hello", 10); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("tiny size error = %v, want ErrTooSmall", err)
	}
	if _, err := (Generator{Level: "X"}).Generate("hello", 100); err == nil {
		t.Fatal("unknown level should fail")
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "l", "M", "q", " H "} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q) error = %v", s, err)
		}
	}
}
