package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrMalformed marks a document without a print specification or pages.
var ErrMalformed = errors.New("document is missing printSpec or pages")

// ValidationError describes a structural problem with a document.
type ValidationError struct {
	Field  string // JSON path of the offending field, e.g. "pages[1].id"
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the document's structure: a print specification with
// uniquely named sides of positive size, and pages that each map to a side.
// It does not look at element geometry; that is the renderer's and the
// preflight validator's business.
func (d *Document) Validate() error {
	if d == nil || d.PrintSpec == nil {
		return &ValidationError{Field: "printSpec", Reason: "is required", Err: ErrMalformed}
	}
	if len(d.Pages) == 0 {
		return &ValidationError{Field: "pages", Reason: "is required", Err: ErrMalformed}
	}
	if err := d.PrintSpec.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(d.Pages))
	for i, p := range d.Pages {
		field := fmt.Sprintf("pages[%d].id", i)
		if p.ID == "" {
			return &ValidationError{Field: field, Reason: "is empty"}
		}
		if _, dup := seen[p.ID]; dup {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%q is duplicated", p.ID)}
		}
		seen[p.ID] = struct{}{}
		if _, ok := d.PrintSpec.Side(p.ID); !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%q does not match any side", p.ID)}
		}
	}
	return nil
}

// Validate checks the specification's sides and DPI.
func (s *PrintSpecification) Validate() error {
	if len(s.Sides) == 0 {
		return &ValidationError{Field: "printSpec.sides", Reason: "is empty"}
	}
	if s.DPI < 0 {
		return &ValidationError{Field: "printSpec.dpi", Reason: fmt.Sprintf("must not be negative, got %d", s.DPI)}
	}

	seen := make(map[string]struct{}, len(s.Sides))
	for i, side := range s.Sides {
		prefix := fmt.Sprintf("printSpec.sides[%d]", i)
		if side.ID == "" {
			return &ValidationError{Field: prefix + ".id", Reason: "is empty"}
		}
		if _, dup := seen[side.ID]; dup {
			return &ValidationError{Field: prefix + ".id", Reason: fmt.Sprintf("%q is duplicated", side.ID)}
		}
		seen[side.ID] = struct{}{}

		if !positive(float64(side.Trim.W)) || !positive(float64(side.Trim.H)) {
			return &ValidationError{Field: prefix + ".trim_mm", Reason: "must be positive"}
		}
		if !nonNegative(float64(side.Bleed)) {
			return &ValidationError{Field: prefix + ".bleed_mm", Reason: "must not be negative"}
		}
		if !nonNegative(float64(side.Safe)) {
			return &ValidationError{Field: prefix + ".safe_mm", Reason: "must not be negative"}
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// Parse decodes a JSON document. It does not validate it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &doc, nil
}

// ReadFile reads and decodes a JSON document from disk.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return Parse(data)
}
