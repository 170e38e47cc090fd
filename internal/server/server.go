// Package server exposes rendering, preflight and code compositing over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuanying/printkit/internal/assets"
	"github.com/yuanying/printkit/internal/compositor"
	"github.com/yuanying/printkit/internal/document"
	"github.com/yuanying/printkit/internal/preflight"
	"github.com/yuanying/printkit/internal/proof"
	"github.com/yuanying/printkit/internal/qrcode"
	"github.com/yuanying/printkit/internal/render"
	"github.com/yuanying/printkit/internal/templates"
	"github.com/yuanying/printkit/internal/units"
)

const (
	defaultMaxBodyBytes = 32 << 20
	shutdownTimeout     = 10 * time.Second

	msgInvalidDocument = "Invalid document: printSpec and pages are required"
	msgPreflightFailed = "Preflight check failed"
)

// Options configures a Server.
type Options struct {
	Catalog        *templates.Catalog // nil means the built-in catalog
	AssetDir       string             // on-disk assets, consulted after inline ones
	OutputDir      string             // where rendered pages are kept; empty disables
	Generator      compositor.CodeGenerator
	MaxAssetPixels int
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Server is an http.Handler serving the printkit API.
type Server struct {
	catalog        *templates.Catalog
	assetDir       string
	outputDir      string
	generator      compositor.CodeGenerator
	maxAssetPixels int
	maxBodyBytes   int64
	logger         *slog.Logger
	mux            *http.ServeMux
}

// New creates a server with defaults filled in.
func New(opts Options) (*Server, error) {
	s := &Server{
		catalog:        opts.Catalog,
		assetDir:       opts.AssetDir,
		outputDir:      opts.OutputDir,
		generator:      opts.Generator,
		maxAssetPixels: opts.MaxAssetPixels,
		maxBodyBytes:   opts.MaxBodyBytes,
		logger:         opts.Logger,
		mux:            http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.catalog == nil {
		cat, err := templates.Default()
		if err != nil {
			return nil, err
		}
		s.catalog = cat
	}
	if s.generator == nil {
		s.generator = qrcode.Generator{}
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	if s.outputDir != "" {
		if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	s.mux.HandleFunc("POST /render", s.handleRender)
	s.mux.HandleFunc("POST /preflight", s.handlePreflight)
	s.mux.HandleFunc("POST /composite", s.handleComposite)
	s.mux.HandleFunc("GET /templates", s.handleTemplates)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return s, nil
}

// ServeHTTP implements http.Handler and logs one line per request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Error string `json:"error"`
}

// preflightFailure always carries both lists, empty or not.
type preflightFailure struct {
	Error    string   `json:"error"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newPreflightFailure(v preflight.Verdict) preflightFailure {
	body := preflightFailure{Error: msgPreflightFailed, Errors: v.Errors, Warnings: v.Warnings}
	if body.Errors == nil {
		body.Errors = []string{}
	}
	if body.Warnings == nil {
		body.Warnings = []string{}
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeBody reads a JSON request body. It writes the error response itself
// and reports whether the handler should continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

type renderRequest struct {
	Document    *document.Document `json:"document"`
	PageID      string             `json:"pageId"`
	Options     *renderOptions     `json:"options,omitempty"`
	Assets      map[string]string  `json:"assets,omitempty"`
	CodePayload string             `json:"codePayload,omitempty"`
}

type renderOptions struct {
	DPI          int   `json:"dpi,omitempty"`
	IncludeBleed *bool `json:"includeBleed,omitempty"`
}

func (o *renderOptions) resolve() render.RenderOptions {
	opts := render.RenderOptions{IncludeBleed: true}
	if o == nil {
		return opts
	}
	opts.DPI = o.DPI
	if o.IncludeBleed != nil {
		opts.IncludeBleed = *o.IncludeBleed
	}
	return opts
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	doc := req.Document
	if doc == nil || doc.PrintSpec == nil || len(doc.Pages) == 0 {
		writeError(w, http.StatusBadRequest, msgInvalidDocument)
		return
	}
	pageID := req.PageID
	if pageID == "" {
		pageID = doc.Pages[0].ID
	}

	resolver, err := s.resolver(req.Assets)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := proof.New(proof.Options{
		Renderer: render.New(render.Options{
			Assets:         resolver,
			Catalog:        s.catalog,
			Logger:         s.logger,
			MaxAssetPixels: s.maxAssetPixels,
		}),
		Render:      req.Options.resolve(),
		Generator:   s.generator,
		Catalog:     s.catalog,
		Concurrency: 1,
		Logger:      s.logger,
	})
	results, err := pipeline.Run(r.Context(), []proof.Item{{
		Document:    doc,
		PageID:      pageID,
		CodePayload: req.CodePayload,
	}})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	res := results[0]
	if res.Err != nil {
		if errors.Is(res.Err, proof.ErrPreflightFailed) {
			writeJSON(w, http.StatusBadRequest, newPreflightFailure(res.Verdict))
			return
		}
		writeError(w, renderStatus(res.Err), res.Err.Error())
		return
	}

	if s.outputDir != "" {
		path := filepath.Join(s.outputDir, uuid.NewString()+".png")
		if err := os.WriteFile(path, res.PNG, 0o644); err != nil {
			s.logger.Error("failed to write rendered page", "path", path, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to write output file")
			return
		}
		w.Header().Set("X-Output-Path", path)
	}
	w.Header().Set("X-Render-Warnings", strconv.Itoa(len(res.Warnings)))
	writePNG(w, res.PNG)
}

// renderStatus classifies render failures: problems with the request are
// 400, everything else is 500.
func renderStatus(err error) int {
	var unknownPage *render.UnknownPageError
	var badGeometry *render.InvalidGeometryError
	switch {
	case errors.Is(err, document.ErrMalformed),
		errors.As(err, &unknownPage),
		errors.As(err, &badGeometry),
		errors.Is(err, templates.ErrNotFound),
		errors.Is(err, templates.ErrInvalidPlacement),
		errors.Is(err, qrcode.ErrEmptyPayload),
		errors.Is(err, qrcode.ErrTooSmall):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// resolver layers inline base64 assets over the asset directory.
func (s *Server) resolver(inline map[string]string) (render.AssetResolver, error) {
	var layers []assets.Resolver
	if len(inline) > 0 {
		m := assets.NewMapResolver()
		for ref, encoded := range inline {
			if _, err := m.AddBase64(ref, encoded); err != nil {
				return nil, err
			}
		}
		layers = append(layers, m)
	}
	if s.assetDir != "" {
		layers = append(layers, assets.DirResolver{Root: s.assetDir})
	}
	return assets.Chain(layers...), nil
}

type preflightRequest struct {
	PrintSpec *document.PrintSpecification         `json:"printSpec"`
	Sides     map[string][]preflight.PlacedElement `json:"sides"`
	Document  *document.Document                   `json:"document,omitempty"`
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	var req preflightRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	spec, sides := req.PrintSpec, req.Sides
	if req.Document != nil {
		spec, sides = req.Document.PrintSpec, preflight.FromDocument(req.Document)
	}
	if spec == nil {
		writeError(w, http.StatusBadRequest, "Invalid request: printSpec is required")
		return
	}
	writeJSON(w, http.StatusOK, preflight.Validate(spec, sides))
}

type pixelRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p pixelRect) rect() units.Rect[units.PrintPx] {
	return units.Rect[units.PrintPx]{
		X: units.PrintPx(p.X),
		Y: units.PrintPx(p.Y),
		W: units.PrintPx(p.Width),
		H: units.PrintPx(p.Height),
	}
}

type compositeRequest struct {
	DesignImage string     `json:"designImage"`
	CodeImage   string     `json:"codeImage,omitempty"`
	CodePayload string     `json:"codePayload,omitempty"`
	TargetRect  *pixelRect `json:"targetRect,omitempty"`
	TemplateID  string     `json:"templateId,omitempty"`
	Placement   *pixelRect `json:"placement,omitempty"` // defaults to the whole design
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	var req compositeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	design, err := decodeBase64("designImage", req.DesignImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := s.compositeTarget(req, design)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var code []byte
	switch {
	case req.CodeImage != "":
		code, err = decodeBase64("codeImage", req.CodeImage)
	case req.CodePayload != "":
		size := int(math.Round(float64(min(target.W, target.H))))
		code, err = s.generator.Generate(req.CodePayload, size)
	}
	if err != nil {
		writeError(w, renderStatus(err), err.Error())
		return
	}

	out, err := compositor.CompositeBytes(design, code, target)
	if err != nil {
		writeError(w, compositeStatus(err), err.Error())
		return
	}
	writePNG(w, out)
}

func (s *Server) compositeTarget(req compositeRequest, design []byte) (units.Rect[units.PrintPx], error) {
	if req.TargetRect != nil {
		return req.TargetRect.rect(), nil
	}
	if req.TemplateID == "" {
		return units.Rect[units.PrintPx]{}, errors.New("targetRect or templateId is required")
	}
	def, err := s.catalog.Get(req.TemplateID)
	if err != nil {
		return units.Rect[units.PrintPx]{}, err
	}
	var placement units.Rect[units.PrintPx]
	if req.Placement != nil {
		placement = req.Placement.rect()
	} else {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(design))
		if err != nil {
			return units.Rect[units.PrintPx]{}, fmt.Errorf("%w: design image: %v", compositor.ErrInvalidImage, err)
		}
		placement = units.Rect[units.PrintPx]{W: units.PrintPx(cfg.Width), H: units.PrintPx(cfg.Height)}
	}
	return compositor.TemplateTarget(def, placement)
}

func compositeStatus(err error) int {
	var cerr *compositor.CompositeError
	switch {
	case errors.As(err, &cerr),
		errors.Is(err, compositor.ErrMissingCode),
		errors.Is(err, compositor.ErrInvalidImage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBase64(field, encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", field, err)
	}
	return data, nil
}

type templateList struct {
	Templates []*templates.Definition `json:"templates"`
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, templateList{Templates: s.catalog.List()})
}
