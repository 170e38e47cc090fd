package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/units"
)

func subcommand(t *testing.T, name string, flagArgs ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	cmd, _, err := root.Find([]string{name})
	if err != nil {
		t.Fatalf("Find(%q) error = %v", name, err)
	}
	if err := cmd.ParseFlags(flagArgs); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func readRenderOptionsForTest(t *testing.T, flagArgs ...string) (renderCLIOptions, error) {
	t.Helper()
	return readRenderOptions(subcommand(t, "render", flagArgs...), []string{"./cards/hello.json"})
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func mmPtr(v units.MM) *units.MM { return &v }

// writeDocument writes a two-page card at 72 DPI. The back page has text
// inside the bleed unless safe is set.
func writeDocument(t *testing.T, dir string, safe bool) string {
	t.Helper()
	side := func(id string) document.Side {
		return document.Side{ID: id, Trim: units.Size[units.MM]{W: 152, H: 102}, Bleed: 3, Safe: 5}
	}
	backX := units.MM(-1)
	if safe {
		backX = 20
	}
	doc := document.Document{
		PrintSpec: &document.PrintSpecification{DPI: 72, Sides: []document.Side{side("front"), side("back")}},
		Pages: []document.Page{
			{
				ID: "front",
				Elements: document.Elements{
					&document.Shape{ID: "bg", X: -3, Y: -3, W: 158, H: 108, ShapeKind: document.ShapeRect, Fill: "#f4efe6"},
					&document.Text{ID: "title", X: 10, Y: 10, W: mmPtr(80), TextProps: document.TextProps{Text: "Hello", FontSize: 18}},
				},
				Template: &document.TemplatePlacement{TemplateID: "skeleton-classic", X: 80, Y: 10, W: 60, H: 80},
			},
			{
				ID: "back",
				Elements: document.Elements{
					&document.Text{ID: "note", X: backX, Y: 30, W: mmPtr(60), TextProps: document.TextProps{Text: "Thanks", FontSize: 12}},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	path := filepath.Join(dir, "card.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func pngSize(t *testing.T, path string) (int, int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.DecodeConfig(%s) error = %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestReadCLIOptions_Defaults(t *testing.T) {
	opts, err := readCLIOptions(subcommand(t, "templates"))
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.Logger == nil {
		t.Fatal("Logger is nil, want non-nil")
	}
	if !opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should be enabled at INFO level by default")
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should not be enabled at DEBUG level by default")
	}
}

func TestReadCLIOptions_Verbose(t *testing.T) {
	opts, err := readCLIOptions(subcommand(t, "templates", "--log-level", "error", "--verbose"))
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	// --verbose overrides log-level to debug
	if !opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should be enabled at DEBUG level when --verbose is set")
	}
}

func TestReadCLIOptions_InvalidLogLevel(t *testing.T) {
	_, err := readCLIOptions(subcommand(t, "templates", "--log-level", "trace"))
	if err == nil || !strings.Contains(err.Error(), "--log-level") {
		t.Fatalf("expected log-level validation error, got %v", err)
	}
}

func TestReadCLIOptions_InvalidLogFormat(t *testing.T) {
	_, err := readCLIOptions(subcommand(t, "templates", "--log-format", "yaml"))
	if err == nil || !strings.Contains(err.Error(), "--log-format") {
		t.Fatalf("expected log-format validation error, got %v", err)
	}
}

func TestBuildLogger_FormatNormalization(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "info", "JSON")
	logger.Info("test message")
	// JSON format should produce JSON output (starts with '{')
	output := buf.String()
	if len(output) == 0 || output[0] != '{' {
		t.Fatalf("expected JSON output for format 'JSON', got: %s", output)
	}
}

func TestReadRenderOptions_Defaults(t *testing.T) {
	opts, err := readRenderOptionsForTest(t)
	if err != nil {
		t.Fatalf("readRenderOptions() error = %v", err)
	}
	if !opts.IncludeBleed {
		t.Fatal("IncludeBleed = false, want true")
	}
	if opts.DPI != 0 {
		t.Fatalf("DPI = %d, want 0 (document dpi)", opts.DPI)
	}
	if opts.AssetDir != "cards" {
		t.Fatalf("AssetDir = %q, want the document's directory", opts.AssetDir)
	}
	if opts.QRLevel != defaultQRLevel {
		t.Fatalf("QRLevel = %q, want %q", opts.QRLevel, defaultQRLevel)
	}
	if opts.OutputPath != "" || opts.PageID != "" || opts.SkipPreflight {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestReadRenderOptions_CustomFlags(t *testing.T) {
	opts, err := readRenderOptionsForTest(t,
		"--output", "./out/front.png",
		"--page", "back",
		"--dpi", "600",
		"--bleed=false",
		"--assets", "./shared",
		"--payload", "https://example.com/c/1",
		"--qr-level", "h",
		"--skip-preflight",
	)
	if err != nil {
		t.Fatalf("readRenderOptions() error = %v", err)
	}
	if opts.OutputPath != "./out/front.png" || opts.PageID != "back" || opts.DPI != 600 {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.IncludeBleed || !opts.SkipPreflight {
		t.Fatalf("IncludeBleed = %v, SkipPreflight = %v", opts.IncludeBleed, opts.SkipPreflight)
	}
	if opts.AssetDir != "./shared" || opts.CodePayload != "https://example.com/c/1" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestReadRenderOptions_Invalid(t *testing.T) {
	tests := []struct {
		args []string
		flag string
	}{
		{[]string{"--dpi", "-1"}, "--dpi"},
		{[]string{"--qr-level", "X"}, "--qr-level"},
		{[]string{"--log-level", "loud"}, "--log-level"},
	}
	for _, tt := range tests {
		_, err := readRenderOptionsForTest(t, tt.args...)
		if err == nil || !strings.Contains(err.Error(), tt.flag) {
			t.Errorf("args %v: expected %s validation error, got %v", tt.args, tt.flag, err)
		}
	}
}

func TestReadCompositeOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no design", []string{"--code", "c.png", "--rect", "0,0,1,1"}, "--design"},
		{"no code", []string{"--design", "d.png", "--rect", "0,0,1,1"}, "--code or --payload"},
		{"both codes", []string{"--design", "d.png", "--code", "c.png", "--payload", "x", "--rect", "0,0,1,1"}, "--code or --payload"},
		{"no target", []string{"--design", "d.png", "--code", "c.png"}, "--rect or --template"},
		{"bad rect", []string{"--design", "d.png", "--code", "c.png", "--rect", "1,2,3"}, "--rect"},
		{"bad placement", []string{"--design", "d.png", "--code", "c.png", "--template", "t", "--placement", "a,b,c,d"}, "--placement"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readCompositeOptions(subcommand(t, "composite", tt.args...))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefaultOutputPath(t *testing.T) {
	got := defaultOutputPath("./cards/hello.json", "front")
	if got != "./cards/hello-front.png" {
		t.Fatalf("defaultOutputPath() = %q", got)
	}
}

func TestParseRect(t *testing.T) {
	got, err := parseRect("rect", "10, 20.5,30,40")
	if err != nil {
		t.Fatalf("parseRect() error = %v", err)
	}
	if got != [4]float64{10, 20.5, 30, 40} {
		t.Fatalf("parseRect() = %v", got)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	doc := writeDocument(t, dir, true)

	if _, stderr, err := execute(t, "render", doc, "--payload", "https://example.com/c/1"); err != nil {
		t.Fatalf("render error = %v\n%s", err, stderr)
	}
	// Default output is next to the document; bleed is included: 158x108mm at 72 DPI.
	if w, h := pngSize(t, filepath.Join(dir, "card-front.png")); w != 448 || h != 306 {
		t.Fatalf("size = %dx%d, want 448x306", w, h)
	}

	out := filepath.Join(dir, "back.png")
	if _, stderr, err := execute(t, "render", doc, "--page", "back", "--bleed=false", "--dpi", "96", "-o", out); err != nil {
		t.Fatalf("render back error = %v\n%s", err, stderr)
	}
	// 152x102mm at 96 DPI.
	if w, h := pngSize(t, out); w != 574 || h != 386 {
		t.Fatalf("size = %dx%d, want 574x386", w, h)
	}
}

func TestRenderCommand_PreflightFailure(t *testing.T) {
	dir := t.TempDir()
	doc := writeDocument(t, dir, false)
	out := filepath.Join(dir, "back.png")

	_, stderr, err := execute(t, "render", doc, "--page", "back", "-o", out)
	if err == nil {
		t.Fatal("render should fail preflight")
	}
	if !strings.Contains(stderr, "outside the safe area") {
		t.Fatalf("stderr does not list the violation:\n%s", stderr)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output was written despite the failure: %v", err)
	}

	if _, stderr, err := execute(t, "render", doc, "--page", "back", "-o", out, "--skip-preflight"); err != nil {
		t.Fatalf("render --skip-preflight error = %v\n%s", err, stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing with --skip-preflight: %v", err)
	}
}

func TestPreflightCommand(t *testing.T) {
	dir := t.TempDir()

	stdout, _, err := execute(t, "preflight", writeDocument(t, dir, false))
	if !errors.Is(err, errPreflightFailed) {
		t.Fatalf("preflight error = %v, want errPreflightFailed", err)
	}
	var verdict struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal([]byte(stdout), &verdict); err != nil {
		t.Fatalf("stdout is not a verdict: %v\n%s", err, stdout)
	}
	if verdict.IsValid || len(verdict.Errors) != 1 {
		t.Fatalf("verdict = %+v", verdict)
	}

	placed := filepath.Join(dir, "placed.json")
	input := `{"printSpec":{"sides":[{"id":"front","trim_mm":{"w":152,"h":102},"bleed_mm":3,"safe_mm":5}]},
		"sides":{"front":[{"type":"text","x":40,"y":40,"width":100,"height":20,"text":"ok"}]}}`
	if err := os.WriteFile(placed, []byte(input), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, stderr, err := execute(t, "preflight", placed, "--input-kind", "placed"); err != nil {
		t.Fatalf("placed preflight error = %v\n%s", err, stderr)
	}

	if _, _, err := execute(t, "preflight", placed, "--input-kind", "svg"); err == nil || !strings.Contains(err.Error(), "--input-kind") {
		t.Fatalf("expected input-kind error, got %v", err)
	}
}

func TestProofCommand(t *testing.T) {
	dir := t.TempDir()
	doc := writeDocument(t, dir, false)
	outDir := filepath.Join(dir, "proofs")

	_, _, err := execute(t, "proof", doc, "--out-dir", outDir, "--concurrency", "2")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 pages failed") {
		t.Fatalf("proof error = %v, want one failed page", err)
	}
	if w, h := pngSize(t, filepath.Join(outDir, "card-front.png")); w != 448 || h != 306 {
		t.Fatalf("size = %dx%d, want 448x306", w, h)
	}
	if _, err := os.Stat(filepath.Join(outDir, "card-back.png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed page was written: %v", err)
	}
}

func TestCompositeCommand(t *testing.T) {
	dir := t.TempDir()
	design := filepath.Join(dir, "design.png")
	img := image.NewNRGBA(image.Rect(0, 0, 600, 800))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	if err := os.WriteFile(design, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, stderr, err := execute(t, "composite", "--design", design, "--payload", "https://example.com/c/9", "--template", "skeleton-classic"); err != nil {
		t.Fatalf("composite error = %v\n%s", err, stderr)
	}
	out := filepath.Join(dir, "design-code.png")
	if w, h := pngSize(t, out); w != 600 || h != 800 {
		t.Fatalf("size = %dx%d, want 600x800", w, h)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	dark := 0
	b := got.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := color.GrayModel.Convert(got.At(x, y)).(color.Gray); c.Y < 0x80 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatal("no code modules were stamped")
	}

	_, _, err = execute(t, "composite", "--design", design, "--payload", "x", "--rect", "590,790,40,40", "-o", filepath.Join(dir, "bad.png"))
	if err == nil {
		t.Fatal("composite outside the design should fail")
	}
}

func TestTemplatesCommand(t *testing.T) {
	stdout, _, err := execute(t, "templates")
	if err != nil {
		t.Fatalf("templates error = %v", err)
	}
	if !strings.HasPrefix(stdout, "ID") || !strings.Contains(stdout, "skeleton-classic") {
		t.Fatalf("unexpected listing:\n%s", stdout)
	}

	stdout, _, err = execute(t, "templates", "--json")
	if err != nil {
		t.Fatalf("templates --json error = %v", err)
	}
	var defs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(stdout), &defs); err != nil || len(defs) == 0 {
		t.Fatalf("templates --json = %v, %v", defs, err)
	}
}
