package services

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// FileCleanupService removes stale files from local working directories.
type FileCleanupService struct {
	dirs     []string
	pattern  string
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	ticker   *time.Ticker
	done     chan struct{}
}

func NewFileCleanupService(maxAge time.Duration, logger *zap.Logger, dirs ...string) *FileCleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileCleanupService{
		dirs:     dirs,
		maxAge:   maxAge,
		interval: time.Hour,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// WithPattern limits sweeping to files whose base name matches the glob.
func (fcs *FileCleanupService) WithPattern(pattern string) *FileCleanupService {
	fcs.pattern = pattern
	return fcs
}

func (fcs *FileCleanupService) matches(name string) bool {
	if fcs.pattern == "" {
		return true
	}
	ok, _ := filepath.Match(fcs.pattern, name)
	return ok
}

func (fcs *FileCleanupService) Start() {
	fcs.ticker = time.NewTicker(fcs.interval)
	go func() {
		for {
			select {
			case <-fcs.done:
				return
			case <-fcs.ticker.C:
				fcs.Sweep()
			}
		}
	}()
	fcs.logger.Info("File cleanup service started", zap.Strings("dirs", fcs.dirs), zap.Duration("max_age", fcs.maxAge))
}

func (fcs *FileCleanupService) Stop() {
	if fcs.ticker != nil {
		fcs.ticker.Stop()
	}
	close(fcs.done)
	fcs.logger.Info("File cleanup service stopped")
}

// Sweep removes matching regular files older than the maximum age and
// returns how many were removed.
func (fcs *FileCleanupService) Sweep() int {
	removed := 0
	for _, dir := range fcs.dirs {
		removed += fcs.cleanupDirectory(dir)
	}
	return removed
}

func (fcs *FileCleanupService) cleanupDirectory(dir string) int {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0
	}

	removed := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && fcs.matches(info.Name()) && fcs.now().Sub(info.ModTime()) > fcs.maxAge {
			if err := os.Remove(path); err != nil {
				return err
			}
			fcs.logger.Debug("Cleaned up old file", zap.String("path", path))
			removed++
		}
		return nil
	})
	if err != nil {
		fcs.logger.Warn("Error during cleanup", zap.String("dir", dir), zap.Error(err))
	}
	return removed
}
