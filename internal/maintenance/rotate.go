package maintenance

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-ops/agctl/internal/logfields"
)

const rotatedSuffix = ".log.old"

// rotateLogs renames process logs past the size threshold to
// <stem>_<timestamp>.log.old so the fleet keeps appending to a fresh file on
// its next open.
func (r *Runner) rotateLogs(res *Result) error {
	if _, err := os.Stat(r.cfg.LogDir); os.IsNotExist(err) {
		slog.Debug("No log directory, skipping rotation", "dir", r.cfg.LogDir)
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(r.cfg.LogDir, "*.log"))
	if err != nil {
		return fmt.Errorf("glob log directory: %w", err)
	}

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() <= r.cfg.Maintenance.MaxLogSize {
			continue
		}

		stem := strings.TrimSuffix(filepath.Base(path), ".log")
		stamp := time.Now().Format("20060102150405")
		rotated := filepath.Join(r.cfg.LogDir, fmt.Sprintf("%s_%s%s", stem, stamp, rotatedSuffix))
		if err := os.Rename(path, rotated); err != nil {
			return fmt.Errorf("rotate log %s: %w", path, err)
		}
		res.LogsRotated = append(res.LogsRotated, filepath.Base(rotated))
		slog.Info("Log rotated", logfields.LogFile(filepath.Base(path)), "rotated_to", filepath.Base(rotated))
	}
	return nil
}
