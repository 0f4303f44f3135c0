// Package store persists spectra as .ylk documents and keeps the set of
// spectra open in one analysis session.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kacperjurak/goftircore"
)

// Extension of persisted spectrum documents.
const Extension = ".ylk"

// rename is swapped in tests to simulate a crash before the final step.
var rename = os.Rename

// Load reads and decodes the document at path.
func Load(path string) (*goftircore.Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	s, err := goftircore.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Save writes s to path atomically: the document goes to a temporary file in
// the same directory, is synced, then renamed over path. On failure path is
// left as it was.
func Save(s *goftircore.Spectrum, path string) error {
	data, err := goftircore.Encode(s)
	if err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	if err := rename(tmpName, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	committed = true
	return nil
}
