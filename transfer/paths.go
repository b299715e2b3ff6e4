package transfer

import (
	"path/filepath"
	"strings"
	"sync"
)

// PathRegistry keeps the unique, normalized paths reported during one batch
// in the order they were first seen.
type PathRegistry struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	ordered []string
}

// NewPathRegistry returns an empty registry.
func NewPathRegistry() *PathRegistry {
	return &PathRegistry{
		seen: make(map[string]struct{}),
	}
}

// Add records raw after normalization. Blank input and duplicates are ignored.
func (r *PathRegistry) Add(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	normalized := NormalizePath(raw)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.seen[normalized]; exists {
		return
	}
	r.seen[normalized] = struct{}{}
	r.ordered = append(r.ordered, normalized)
}

// Contains reports whether raw, once normalized, is already registered.
func (r *PathRegistry) Contains(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	normalized := NormalizePath(raw)

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.seen[normalized]
	return exists
}

// Snapshot returns a copy of the registered paths in insertion order.
func (r *PathRegistry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of unique paths.
func (r *PathRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Clear empties the registry at the start of a new batch.
func (r *PathRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]struct{})
	r.ordered = nil
}

// NormalizePath resolves raw to a canonical absolute path using '/' as the
// only separator. When canonicalization fails, only the separators are fixed.
func NormalizePath(raw string) string {
	slashed := strings.ReplaceAll(raw, `\`, "/")
	canonical, err := canonicalPath(slashed)
	if err != nil {
		return slashed
	}
	return strings.ReplaceAll(filepath.ToSlash(canonical), `\`, "/")
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", err
	}
	// Symlinks only resolve for paths that already exist.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
