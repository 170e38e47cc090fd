package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// loadAsset resolves and decodes an image asset. The header is checked
// against the pixel limit before the full decode so a hostile asset cannot
// exhaust memory.
func (r *Renderer) loadAsset(ref string) (image.Image, error) {
	if r.assets == nil {
		return nil, errNoAssets
	}
	data, err := r.assets.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("asset %q could not be read: %w", ref, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("asset %q: image decode failed: %w", ref, err)
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if r.maxPixels > 0 && pixels > uint64(r.maxPixels) {
		return nil, fmt.Errorf("asset %q: image too large to decode: %dx%d (%d pixels)", ref, cfg.Width, cfg.Height, pixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("asset %q: image decode failed: %w", ref, err)
	}
	return img, nil
}

// drawImage stretches src over r and composites it with the given opacity.
func drawImage(dst draw.Image, src image.Image, r image.Rectangle, alpha float64) {
	if r.Empty() || alpha <= 0 {
		return
	}
	scaled := src
	if b := src.Bounds(); b.Dx() != r.Dx() || b.Dy() != r.Dy() {
		scaled = imaging.Resize(src, r.Dx(), r.Dy(), imaging.Lanczos)
	}
	sp := scaled.Bounds().Min
	if alpha >= 1 {
		draw.Draw(dst, r, scaled, sp, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(alpha * 0xff))})
	draw.DrawMask(dst, r, scaled, sp, mask, image.Point{}, draw.Over)
}
