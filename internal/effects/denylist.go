package effects

import (
	"os"
	"path/filepath"
	"strings"
)

// DenylistFileName is the scratch-directory file consumed by the external
// outbound-resolution shim.
const DenylistFileName = ".failure-lambda-denylist"

// WriteDenylist atomically replaces the denylist file with one pattern per
// line, using write-temp + fsync + rename so the external reader never
// observes a partial file.
func WriteDenylist(dir string, patterns []string) error {
	path := filepath.Join(dir, DenylistFileName)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	content := strings.Join(patterns, "\n")
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// RemoveDenylist deletes the denylist file. Idempotent: a missing file is
// not an error.
func RemoveDenylist(dir string) error {
	err := os.Remove(filepath.Join(dir, DenylistFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
