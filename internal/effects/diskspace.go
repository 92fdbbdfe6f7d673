package effects

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// DiskFilePrefix names every scratch file this package creates. Cleanup
// recognizes entries by this prefix alone.
const DiskFilePrefix = "diskspace-failure-"

const chunkSize = 1 << 20 // one MiB

// DefaultDiskSpaceMB is the fill size used when a diskspace flag is enabled
// without an explicit disk_space value.
const DefaultDiskSpaceMB = 100

// FillDiskSpace writes megabytes worth of data into a uniquely-named file
// under dir. Any I/O error is logged and swallowed: a diskspace injection
// that cannot complete must never take the invocation down with it.
func FillDiskSpace(logger *slog.Logger, dir string, megabytes int) {
	if megabytes <= 0 {
		return
	}

	name := fmt.Sprintf("%s%d-%s.tmp", DiskFilePrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		logger.Warn("diskspace injection: failed to create scratch file", "path", path, "error", err)
		return
	}
	defer f.Close()

	chunk := make([]byte, chunkSize)
	for i := 0; i < megabytes; i++ {
		if _, err := f.Write(chunk); err != nil {
			logger.Warn("diskspace injection: write failed, stopping early",
				"path", path, "written_mb", i, "error", err)
			return
		}
	}

	logger.Info("diskspace injection: filled scratch file",
		"path", path, "size", humanize.IBytes(uint64(megabytes)*uint64(chunkSize)))
}

// ClearDiskSpace removes every entry in dir whose name starts with
// DiskFilePrefix. Called at the start of every invocation as a safety net
// against a prior runtime that crashed mid-injection.
func ClearDiskSpace(logger *slog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("diskspace cleanup: failed to read scratch directory", "dir", dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), DiskFilePrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("diskspace cleanup: failed to remove scratch file", "path", path, "error", err)
		}
	}
}
