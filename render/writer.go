package render

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned when a report file is already present.
var ErrExists = errors.New("render: report file already exists")

// Writer persists report files under Dir as report_<id><ext>.
type Writer struct {
	Dir string
}

// Path returns where WriteOnce stores id with ext (".md", ".pdf").
func (w Writer) Path(id, ext string) string {
	return filepath.Join(w.Dir, "report_"+id+ext)
}

// WriteOnce writes data atomically and never replaces an existing file:
// the content goes to a temp file which is then hard-linked into place.
func (w Writer) WriteOnce(id, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("render: mkdir %s: %w", w.Dir, err)
	}
	target := w.Path(id, ext)

	tmp, err := os.CreateTemp(w.Dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("render: create tmp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("render: write tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("render: close tmp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("render: chmod: %w", err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, target)
		}
		return "", fmt.Errorf("render: link %s: %w", target, err)
	}
	return target, nil
}
