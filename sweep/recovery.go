package sweep

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tidemill/inboxd/pipeline"
)

// Recover rescans the staging root after a restart. Job directories
// with provenance and no terminal record are resubmitted; directories
// without provenance are leftovers of an interrupted staging and are
// removed. Returns the number of resubmitted jobs.
func Recover(tempDir string, dispatch Dispatch, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return 0, fmt.Errorf("read staging root: %w", err)
	}

	resubmitted := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hash := e.Name()
		dir := filepath.Join(tempDir, hash)

		info, err := pipeline.ReadSourceInfo(dir)
		if err != nil || info == nil {
			logger.Debug("sweep: removing orphaned job dir", "dir", hash, "error", err)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logger.Warn("sweep: orphan cleanup failed", "dir", hash, "error", rmErr)
			}
			continue
		}

		rec, err := pipeline.ReadRecord(dir)
		if err != nil {
			logger.Warn("sweep: unreadable terminal record, resubmitting", "sha256", hash, "error", err)
		}
		if rec != nil && rec.Status.Terminal() {
			continue
		}

		logger.Info("sweep: resubmitting interrupted job", "sha256", hash, "file", info.OriginalFilename)
		if dispatch != nil {
			go dispatch(hash)
		}
		resubmitted++
	}
	return resubmitted, nil
}
