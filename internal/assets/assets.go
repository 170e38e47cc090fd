// Package assets resolves element asset references to encoded image bytes.
package assets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidRef    = errors.New("invalid asset reference")
)

// normalizeRef turns a reference into a clean slash-separated relative path
// and rejects anything that would leave the asset root.
func normalizeRef(ref string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(ref), `\`, "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	p = path.Clean(p)
	if !fs.ValidPath(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return p, nil
}

// DirResolver reads assets from a directory tree. References are paths
// relative to Root and cannot escape it, including through symlinks.
type DirResolver struct {
	Root string
}

// ReadFile implements render.AssetResolver.
func (d DirResolver) ReadFile(ref string) ([]byte, error) {
	name, err := normalizeRef(ref)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(d.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset directory: %w", err)
	}
	defer root.Close()

	data, err := fs.ReadFile(root.FS(), name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %q: %w", ref, err)
	}
	return data, nil
}

// MapResolver holds assets in memory, keyed by normalized reference. It is
// safe for concurrent use.
type MapResolver struct {
	mu   sync.RWMutex
	refs []string
	data map[string][]byte
}

// NewMapResolver creates an empty MapResolver.
func NewMapResolver() *MapResolver {
	return &MapResolver{data: make(map[string][]byte)}
}

// Add stores data under ref. Duplicate references are skipped and reported
// as false.
func (m *MapResolver) Add(ref string, data []byte) (bool, error) {
	name, err := normalizeRef(ref)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[name]; exists {
		return false, nil
	}
	m.data[name] = data
	m.refs = append(m.refs, name)
	return true, nil
}

// AddBase64 decodes a standard base64 payload, with or without a data URL
// prefix, and stores it under ref.
func (m *MapResolver) AddBase64(ref, encoded string) (bool, error) {
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false, fmt.Errorf("asset %q: invalid base64: %w", ref, err)
	}
	return m.Add(ref, data)
}

// ReadFile implements render.AssetResolver.
func (m *MapResolver) ReadFile(ref string) ([]byte, error) {
	name, err := normalizeRef(ref)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, ref)
	}
	return data, nil
}

// Refs returns the stored references in insertion order.
func (m *MapResolver) Refs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.refs...)
}

// Resolver is the read side shared by every resolver in this package.
type Resolver interface {
	ReadFile(ref string) ([]byte, error)
}

// Chain tries each resolver in order and returns the first hit. Only
// ErrAssetNotFound falls through to the next resolver. Nil interface values
// are dropped; a typed nil such as (*MapResolver)(nil) is kept and must not
// be passed.
func Chain(resolvers ...Resolver) Resolver {
	c := make(chain, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

type chain []Resolver

func (c chain) ReadFile(ref string) ([]byte, error) {
	for _, r := range c {
		data, err := r.ReadFile(ref)
		if errors.Is(err, ErrAssetNotFound) {
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, ref)
}
