// Package proof runs documents through the full export path in parallel:
// preflight gate, render, code stamping and PNG encoding.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yuanying/printkit/internal/compositor"
	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/preflight"
	"github.com/yuanying/printkit/internal/render"
	"github.com/yuanying/printkit/internal/templates"
)

var (
	// ErrPreflightFailed marks an item that was refused before rendering.
	ErrPreflightFailed = errors.New("preflight check failed")
	ErrNoGenerator     = errors.New("no code generator configured")
)

// Item is one page to proof.
type Item struct {
	Key         string // caller's label for the result; defaults to the page id
	Document    *document.Document
	PageID      string
	CodePayload string // stamped into the page template's code region when set
}

// Result is the outcome of one Item. PNG is only set when the item passed
// preflight and rendered; a failed item never carries a partial raster.
type Result struct {
	Key      string
	PageID   string
	Verdict  preflight.Verdict
	PNG      []byte
	Width    int
	Height   int
	Warnings []string
	Err      error
}

// Options configures a Pipeline.
type Options struct {
	Renderer    *render.Renderer
	Render      render.RenderOptions
	Generator   compositor.CodeGenerator // required only for items with a CodePayload
	Catalog     *templates.Catalog
	Concurrency int // 0 means GOMAXPROCS
	Logger      *slog.Logger

	// SkipPreflight renders items without the preflight gate. Verdicts are
	// left empty.
	SkipPreflight bool
}

// Pipeline proofs batches of pages.
type Pipeline struct {
	renderer    *render.Renderer
	renderOpts  render.RenderOptions
	generator   compositor.CodeGenerator
	catalog     *templates.Catalog
	concurrency int
	logger      *slog.Logger
	skipCheck   bool
}

// New creates a pipeline with defaults filled in.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New(render.Options{Catalog: opts.Catalog, Logger: logger})
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		renderer:    renderer,
		renderOpts:  opts.Render,
		generator:   opts.Generator,
		catalog:     opts.Catalog,
		concurrency: concurrency,
		logger:      logger,
		skipCheck:   opts.SkipPreflight,
	}
}

// ItemsForDocument returns one item per page of doc, keyed "<prefix>-<page>".
func ItemsForDocument(prefix string, doc *document.Document, payload string) []Item {
	items := make([]Item, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		items = append(items, Item{
			Key:         prefix + "-" + p.ID,
			Document:    doc,
			PageID:      p.ID,
			CodePayload: payload,
		})
	}
	return items
}

// Run processes items concurrently and returns one result per item in input
// order. Failures are recorded per result. If ctx is cancelled, items that
// had not started carry the context error and Run returns it as well.
func (p *Pipeline) Run(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Key: keyOf(item), PageID: item.PageID, Err: err}
				return nil
			}
			results[i] = p.process(item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("proof batch finished", "items", len(items), "failed", failed)
	return results, ctx.Err()
}

func keyOf(item Item) string {
	if item.Key != "" {
		return item.Key
	}
	return item.PageID
}

func (p *Pipeline) process(item Item) Result {
	res := Result{Key: keyOf(item), PageID: item.PageID}
	fail := func(err error) Result {
		res.Err = err
		p.logger.Warn("proof item failed", "key", res.Key, "page", res.PageID, "error", err)
		return res
	}

	doc := item.Document
	if doc == nil || doc.PrintSpec == nil || len(doc.Pages) == 0 {
		return fail(document.ErrMalformed)
	}
	page, ok := doc.Page(item.PageID)
	if !ok {
		return fail(&render.UnknownPageError{PageID: item.PageID})
	}

	if !p.skipCheck {
		verdict, err := preflight.ValidatePage(doc, item.PageID)
		if err != nil {
			return fail(err)
		}
		res.Verdict = verdict
		if !verdict.IsValid {
			return fail(fmt.Errorf("%w: %s", ErrPreflightFailed, strings.Join(verdict.Errors, "; ")))
		}
	}

	buf, err := p.renderer.Render(doc, item.PageID, p.renderOpts)
	if err != nil {
		return fail(err)
	}
	res.Warnings = buf.Warnings

	if page.Template != nil && item.CodePayload != "" {
		stamped, err := p.stampCode(buf, doc, page, item.CodePayload)
		if err != nil {
			return fail(err)
		}
		buf = stamped
	}

	data, err := buf.PNG()
	if err != nil {
		return fail(err)
	}
	res.PNG = data
	res.Width, res.Height = buf.Width(), buf.Height()
	p.logger.Debug("proof item rendered", "key", res.Key, "page", res.PageID, "width", res.Width, "height", res.Height)
	return res
}

// stampCode places a generated code into the page template's code region.
func (p *Pipeline) stampCode(buf *render.RasterBuffer, doc *document.Document, page *document.Page, payload string) (*render.RasterBuffer, error) {
	if p.generator == nil {
		return nil, ErrNoGenerator
	}
	side, ok := doc.PrintSpec.Side(page.ID)
	if !ok {
		return nil, &render.UnknownPageError{PageID: page.ID, NoSide: true}
	}
	def, frame, err := render.ResolvePlacement(p.catalog, side, page.Template)
	if err != nil {
		return nil, err
	}
	img, err := compositor.ComposeTemplateCode(buf.Image, p.generator, def, buf.PixelRect(frame), payload)
	if err != nil {
		return nil, err
	}
	return &render.RasterBuffer{Image: img, DPI: buf.DPI, Origin: buf.Origin, Warnings: buf.Warnings}, nil
}
