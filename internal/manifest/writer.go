package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer persists manifests to the output directory and, when the mirror
// directory exists, to <mirror>/manifest as well.
type Writer struct {
	OutputDir string
	MirrorDir string
	Logger    *slog.Logger
}

// Path returns the primary manifest location.
func (w *Writer) Path() string {
	return filepath.Join(w.OutputDir, FileName)
}

// Write replaces the manifest file(s) and returns the paths written.
func (w *Writer) Write(m *Manifest) ([]string, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}

	primary := w.Path()
	if err := writeFile(primary, data); err != nil {
		return nil, err
	}
	written := []string{primary}

	if w.MirrorDir == "" {
		return written, nil
	}
	info, err := os.Stat(w.MirrorDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return written, nil
	case err != nil:
		return written, fmt.Errorf("checking mirror directory: %w", err)
	case !info.IsDir():
		return written, nil
	}

	mirror := filepath.Join(w.MirrorDir, "manifest", FileName)
	if err := writeFile(mirror, data); err != nil {
		return written, err
	}
	if w.Logger != nil {
		w.Logger.Debug("manifest mirrored", "path", mirror)
	}
	return append(written, mirror), nil
}

// Encode renders a manifest as 2-space indented JSON.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Read loads a previously written manifest.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
