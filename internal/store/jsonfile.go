package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// JSONFile persists a string-keyed mapping as one pretty-printed JSON object.
// Load never fails: a missing, empty, or malformed file reads as an empty mapping.
type JSONFile[V any] struct {
	path   string
	logger *slog.Logger
}

// NewJSONFile returns a mapping stored at path.
func NewJSONFile[V any](path string, logger *slog.Logger) *JSONFile[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFile[V]{path: path, logger: logger}
}

// Path is the backing file location.
func (f *JSONFile[V]) Path() string {
	return f.path
}

func (f *JSONFile[V]) Load(_ context.Context) (map[string]V, error) {
	out := make(map[string]V)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("unreadable state file, starting empty", "path", f.path, "error", err)
		}
		return out, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		f.logger.Warn("malformed state file, starting empty", "path", f.path, "error", err)
		return make(map[string]V), nil
	}
	if out == nil {
		// a literal null decodes to a nil map
		out = make(map[string]V)
	}
	return out, nil
}

func (f *JSONFile[V]) Save(_ context.Context, m map[string]V) error {
	if m == nil {
		m = map[string]V{}
	}
	if err := writeJSONAtomic(f.path, m); err != nil {
		return fmt.Errorf("save %s: %w", f.path, err)
	}
	return nil
}

// writeJSONAtomic writes v to a temp file in the target directory and renames
// it into place, creating the directory first.
func writeJSONAtomic(path string, v any) (err error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}
