package suppress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// MemoryKV keeps records in a map.
type MemoryKV struct {
	m map[string]Record
}

// NewMemoryKV returns an empty in-memory KV.
func NewMemoryKV() *MemoryKV { return &MemoryKV{m: make(map[string]Record)} }

func (k *MemoryKV) Get(d string) (Record, bool, error) {
	r, ok := k.m[d]
	return r, ok, nil
}

func (k *MemoryKV) Put(d string, r Record) error { k.m[d] = r; return nil }

func (k *MemoryKV) Delete(d string) error { delete(k.m, d); return nil }

func (k *MemoryKV) All() (map[string]Record, error) {
	out := make(map[string]Record, len(k.m))
	for d, r := range k.m {
		out[d] = r
	}
	return out, nil
}

// FileKV persists the whole map as one JSON object
// {domain: {count, suppress_until}}. It loads once at open and rewrites the
// file atomically on every change.
type FileKV struct {
	path string
	mem  *MemoryKV
}

// OpenFileKV loads path. A missing or unparsable file yields empty state.
func OpenFileKV(path string, logger *slog.Logger) *FileKV {
	if logger == nil {
		logger = slog.Default()
	}
	kv := &FileKV{path: path, mem: NewMemoryKV()}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		logger.Warn("suppress: read file", "path", path, "error", err)
	default:
		if err := json.Unmarshal(data, &kv.mem.m); err != nil {
			logger.Warn("suppress: corrupt file, starting empty", "path", path, "error", err)
			kv.mem.m = make(map[string]Record)
		}
		if kv.mem.m == nil {
			kv.mem.m = make(map[string]Record)
		}
	}
	return kv
}

func (k *FileKV) Get(d string) (Record, bool, error) { return k.mem.Get(d) }

func (k *FileKV) Put(d string, r Record) error {
	k.mem.m[d] = r
	return k.flush()
}

func (k *FileKV) Delete(d string) error {
	if _, ok := k.mem.m[d]; !ok {
		return nil
	}
	delete(k.mem.m, d)
	return k.flush()
}

func (k *FileKV) All() (map[string]Record, error) { return k.mem.All() }

func (k *FileKV) flush() error {
	data, err := json.MarshalIndent(k.mem.m, "", "  ")
	if err != nil {
		return fmt.Errorf("suppress: marshal: %w", err)
	}
	if dir := filepath.Dir(k.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("suppress: mkdir: %w", err)
		}
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("suppress: write: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("suppress: rename: %w", err)
	}
	return nil
}
