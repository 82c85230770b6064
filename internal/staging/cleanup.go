package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relingo/internal/logging"
)

// DirName is the per-task directory that holds one scratch directory per
// stage run.
const DirName = ".staging"

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes run staging directories under artifactRoot/<task>/.staging
// that are older than maxAge. Directories named after a run in active are
// kept regardless of age. Emptied .staging directories are removed as well.
func CleanStale(ctx context.Context, artifactRoot string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	artifactRoot = strings.TrimSpace(artifactRoot)
	if artifactRoot == "" || maxAge <= 0 {
		return result
	}

	tasks, err := os.ReadDir(artifactRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: artifactRoot, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, taskEntry := range tasks {
		if ctx.Err() != nil {
			return result
		}
		if !taskEntry.IsDir() {
			continue
		}
		stagingDir := filepath.Join(artifactRoot, taskEntry.Name(), DirName)
		runs, err := os.ReadDir(stagingDir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
			}
			continue
		}

		kept := 0
		for _, entry := range runs {
			if !entry.IsDir() {
				kept++
				continue
			}
			dirPath := filepath.Join(stagingDir, entry.Name())
			if _, ok := active[entry.Name()]; ok {
				kept++
				continue
			}
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
				kept++
				continue
			}
			if !info.ModTime().Before(cutoff) {
				kept++
				continue
			}
			if err := os.RemoveAll(dirPath); err != nil {
				kept++
				result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
				if logger != nil {
					logger.Warn("failed to remove stale staging directory",
						logging.String("path", dirPath),
						logging.Error(err),
						logging.String(logging.FieldEventType, "staging_cleanup_failed"),
						logging.String(logging.FieldErrorHint, "check artifact_root permissions"),
						logging.String(logging.FieldImpact, "disk space not reclaimed"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, dirPath)
			if logger != nil {
				logger.Info("removed stale staging directory",
					logging.String("path", dirPath),
					logging.String(logging.FieldTaskID, taskEntry.Name()),
					logging.Duration("age", time.Since(info.ModTime())),
					logging.String(logging.FieldEventType, "staging_cleanup"),
				)
			}
		}
		if kept == 0 {
			_ = os.Remove(stagingDir)
		}
	}

	return result
}

// DirInfo contains metadata about a run staging directory.
type DirInfo struct {
	TaskID  string
	RunID   string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns every run staging directory under artifactRoot.
func ListDirectories(artifactRoot string) ([]DirInfo, error) {
	artifactRoot = strings.TrimSpace(artifactRoot)
	if artifactRoot == "" {
		return nil, nil
	}

	matches, err := filepath.Glob(filepath.Join(artifactRoot, "*", DirName, "*"))
	if err != nil {
		return nil, err
	}

	var dirs []DirInfo
	for _, dirPath := range matches {
		info, err := os.Stat(dirPath)
		if err != nil || !info.IsDir() {
			continue
		}
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			TaskID:  filepath.Base(filepath.Dir(filepath.Dir(dirPath))),
			RunID:   filepath.Base(dirPath),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
