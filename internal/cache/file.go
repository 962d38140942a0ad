package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sydlexius/musicmap/internal/filesystem"
)

// FileBackend stores each namespace as a JSON object in
// <dir>/<namespace>_cache.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the file holding ns.
func (b *FileBackend) Path(ns Namespace) string {
	return filepath.Join(b.dir, string(ns)+"_cache.json")
}

// Load reads the namespace file. A missing file is an empty namespace.
func (b *FileBackend) Load(_ context.Context, ns Namespace) (map[string]Entry, error) {
	data, err := os.ReadFile(b.Path(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding cache file %s: %w", filepath.Base(b.Path(ns)), err)
	}
	entries := make(map[string]Entry, len(raw))
	for key, msg := range raw {
		var e Entry
		if err := json.Unmarshal(msg, &e); err != nil {
			// An unreadable entry can never be fresh; skip it.
			continue
		}
		entries[key] = e
	}
	return entries, nil
}

// Persist writes the namespace file atomically.
func (b *FileBackend) Persist(_ context.Context, ns Namespace, entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache file: %w", err)
	}
	if err := filesystem.WriteFileAtomic(b.Path(ns), data, 0o644); err != nil { //nolint:gosec // cache data is not secret
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}
