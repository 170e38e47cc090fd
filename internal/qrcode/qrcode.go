// Package qrcode renders payloads as QR code images for compositing.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/disintegration/imaging"
)

const defaultQuietZone = 4 // modules

var (
	ErrEmptyPayload = errors.New("qr payload is empty")
	ErrTooSmall     = errors.New("qr image size is too small")
)

// Generator encodes payloads at a fixed error-correction level.
type Generator struct {
	Level string // L, M, Q or H; empty means M
	Quiet int    // quiet zone in modules; 0 means 4, negative means none
}

// ParseLevel maps a level letter to its error-correction level.
func ParseLevel(s string) (qr.ErrorCorrectionLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L":
		return qr.L, nil
	case "", "M":
		return qr.M, nil
	case "Q":
		return qr.Q, nil
	case "H":
		return qr.H, nil
	default:
		return qr.M, fmt.Errorf("unknown qr error correction level %q", s)
	}
}

// Image returns the payload as a size x size image with a white quiet zone.
// The symbol is scaled by a whole number of pixels per module and centred.
func (g Generator) Image(payload string, size int) (image.Image, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	level, err := ParseLevel(g.Level)
	if err != nil {
		return nil, err
	}
	code, err := qr.Encode(payload, level, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr encode failed: %w", err)
	}

	quiet := g.Quiet
	switch {
	case quiet == 0:
		quiet = defaultQuietZone
	case quiet < 0:
		quiet = 0
	}
	modules := code.Bounds().Dx()
	total := modules + 2*quiet
	if size < total {
		return nil, fmt.Errorf("%w: %d pixels cannot hold %d modules plus quiet zone", ErrTooSmall, size, modules)
	}

	scale := size / total
	symbol, err := barcode.Scale(code, modules*scale, modules*scale)
	if err != nil {
		return nil, fmt.Errorf("qr scale failed: %w", err)
	}
	offset := (size - modules*scale) / 2
	canvas := imaging.New(size, size, color.White)
	return imaging.Paste(canvas, symbol, image.Pt(offset, offset)), nil
}

// Generate implements compositor.CodeGenerator and returns PNG bytes.
func (g Generator) Generate(payload string, size int) ([]byte, error) {
	img, err := g.Image(payload, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
