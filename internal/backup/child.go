package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/0xPuncker/jobkvs/internal/kvs"
)

// IsChild reports whether the current process was started as a backup child
// and returns the target path.
func IsChild() (string, bool) {
	path := os.Getenv(TargetEnv)
	return path, path != ""
}

// RunChild reads a JSON snapshot from r and writes it to path.
func RunChild(r io.Reader, path string) error {
	var entries []kvs.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return WriteSnapshot(path, entries)
}

// WriteSnapshot writes one "(key, value)" line per entry. The file appears
// at path only once it is complete.
func WriteSnapshot(path string, entries []kvs.Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write backup entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush backup file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set backup file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close backup file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move backup into place: %w", err)
	}
	return nil
}
