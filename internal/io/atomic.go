// Package io writes output files so that readers never observe a partial
// file: content goes to a temporary file in the target directory which is
// renamed into place once complete.
package io

import (
	"encoding/json"
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
)

// WriteAtomic streams fn's output to path. On any failure the temporary file
// is removed and an existing file at path is left untouched.
func WriteAtomic(path string, fn func(w stdio.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := fn(tmp); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to path atomically
func WriteFileAtomic(path string, data []byte) error {
	return WriteAtomic(path, func(w stdio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteJSONAtomic writes v as indented JSON
func WriteJSONAtomic(path string, v any) error {
	return WriteAtomic(path, func(w stdio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
