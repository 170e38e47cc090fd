package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"github.com/yuanying/printkit/internal/document"
)

const defaultLineHeight = 1.2

// family holds the four styles of one typeface.
type family struct {
	regular, bold, italic, boldItalic *opentype.Font
}

func (f *family) pick(bold, italic bool) *opentype.Font {
	switch {
	case bold && italic:
		return f.boldItalic
	case bold:
		return f.bold
	case italic:
		return f.italic
	default:
		return f.regular
	}
}

type fontLibrary struct {
	sans, mono family
}

// Parsed fonts are immutable and shared; faces are created per element.
var loadFonts = sync.OnceValues(func() (*fontLibrary, error) {
	parse := func(name string, data []byte) (*opentype.Font, error) {
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse font %s: %w", name, err)
		}
		return f, nil
	}

	lib := &fontLibrary{}
	for _, spec := range []struct {
		name string
		data []byte
		dst  **opentype.Font
	}{
		{"Go Regular", goregular.TTF, &lib.sans.regular},
		{"Go Bold", gobold.TTF, &lib.sans.bold},
		{"Go Italic", goitalic.TTF, &lib.sans.italic},
		{"Go Bold Italic", gobolditalic.TTF, &lib.sans.boldItalic},
		{"Go Mono", gomono.TTF, &lib.mono.regular},
		{"Go Mono Bold", gomonobold.TTF, &lib.mono.bold},
		{"Go Mono Italic", gomonoitalic.TTF, &lib.mono.italic},
		{"Go Mono Bold Italic", gomonobolditalic.TTF, &lib.mono.boldItalic},
	} {
		f, err := parse(spec.name, spec.data)
		if err != nil {
			return nil, err
		}
		*spec.dst = f
	}
	return lib, nil
})

// familyFor maps a requested family name onto the bundled typefaces.
// Unknown names get the proportional face.
func (lib *fontLibrary) familyFor(name string) *family {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mono", "monospace", "go mono", "courier", "courier new":
		return &lib.mono
	default:
		return &lib.sans
	}
}

// textBlock is text laid out for drawing.
type textBlock struct {
	face       font.Face
	lines      []string
	lineHeight fixed.Int26_6
	ascent     fixed.Int26_6
	color      color.NRGBA
	align      document.Align
}

func (b *textBlock) height() fixed.Int26_6 {
	if len(b.lines) == 0 {
		return 0
	}
	return b.lineHeight*fixed.Int26_6(len(b.lines)-1) + b.face.Metrics().Height
}

// layoutText creates a face at sizePx pixels and breaks props.Text into
// lines. When maxWidth is positive, paragraphs are word-wrapped to it. The
// caller must Close the returned block's face.
func layoutText(props document.TextProps, sizePx float64, maxWidth int) (*textBlock, error) {
	lib, err := loadFonts()
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(lib.familyFor(props.FontFamily).pick(props.Bold, props.Italic), &opentype.FaceOptions{
		Size:    sizePx,
		DPI:     72, // Size is already in device pixels
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}

	c, _, err := colorOr(props.Color, black)
	if err != nil {
		face.Close()
		return nil, err
	}

	lh := props.LineHeight
	if lh <= 0 {
		lh = defaultLineHeight
	}

	text := norm.NFC.String(props.Text)
	var lines []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if maxWidth > 0 {
			lines = append(lines, wrapParagraph(face, para, fixed.I(maxWidth))...)
		} else {
			lines = append(lines, para)
		}
	}

	return &textBlock{
		face:       face,
		lines:      lines,
		lineHeight: fixed.Int26_6(float64(face.Metrics().Height) * lh),
		ascent:     face.Metrics().Ascent,
		color:      c,
		align:      props.Align,
	}, nil
}

// wrapParagraph greedily fills lines up to width. A single word wider than
// width gets a line of its own rather than being split.
func wrapParagraph(face font.Face, para string, width fixed.Int26_6) []string {
	words := strings.Fields(para)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		candidate := current + " " + w
		if font.MeasureString(face, candidate) <= width {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = w
	}
	return append(lines, current)
}

// draw paints the block with its first line's top at top. When width is
// positive, lines are aligned inside [x, x+width); otherwise they start at x.
func (b *textBlock) draw(dst draw.Image, x, top, width int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(b.color),
		Face: b.face,
	}
	baseline := fixed.I(top) + b.ascent
	for _, line := range b.lines {
		startX := fixed.I(x)
		if width > 0 {
			adv := d.MeasureString(line)
			switch b.align {
			case document.AlignCenter:
				startX += (fixed.I(width) - adv) / 2
			case document.AlignRight:
				startX += fixed.I(width) - adv
			}
		}
		d.Dot = fixed.Point26_6{X: startX, Y: baseline}
		d.DrawString(line)
		baseline += b.lineHeight
	}
}
