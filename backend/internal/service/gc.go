package service

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/elkarte/forum/shared/logger"
)

// TempGarbageCollector removes staged uploads that were never turned into
// attachments. A staged file lives as long as the temp store keeps its
// record, so anything older than that TTL is abandoned.
type TempGarbageCollector struct {
	mediaStorage     GCMediaStorage
	safetyThreshold  time.Duration
	mu               sync.Mutex
	lastCleanupStats CleanupStats
}

// CleanupStats tracks metrics from the last garbage collection run.
type CleanupStats struct {
	RunAt          time.Time
	FilesScanned   int
	ExpiredFiles   int
	FilesDeleted   int
	BytesReclaimed int64
	DurationMs     int64
	Errors         []string
}

// GCMediaStorage defines the filesystem operations needed for garbage collection.
type GCMediaStorage interface {
	WalkTemp() ([]string, error)
	GetFileModTime(filePath string) (time.Time, error)
	FileSize(filePath string) (int64, error)
	DeleteFile(filePath string) error
}

// NewTempGarbageCollector creates a collector deleting staged files older
// than safetyThreshold.
func NewTempGarbageCollector(mediaStorage GCMediaStorage, safetyThreshold time.Duration) *TempGarbageCollector {
	return &TempGarbageCollector{
		mediaStorage:    mediaStorage,
		safetyThreshold: safetyThreshold,
	}
}

// StartBackgroundCleanup starts a background goroutine that runs cleanup periodically.
func (gc *TempGarbageCollector) StartBackgroundCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started temp attachment cleanup", "interval", interval, "safety_threshold", gc.safetyThreshold)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := gc.RunCleanup(); err != nil {
					logger.Log.Error("temp attachment cleanup failed", "error", err)
					continue
				}
				stats := gc.GetLastCleanupStats()
				logger.Log.Info("temp attachment cleanup completed",
					"scanned", stats.FilesScanned,
					"expired", stats.ExpiredFiles,
					"deleted", stats.FilesDeleted,
					"reclaimed", humanize.IBytes(uint64(stats.BytesReclaimed)),
					"duration_ms", stats.DurationMs,
					"errors", len(stats.Errors),
				)
			case <-ctx.Done():
				logger.Log.Info("temp attachment cleanup shutting down")
				return
			}
		}
	}()
}

// RunCleanup executes a single garbage collection cycle.
func (gc *TempGarbageCollector) RunCleanup() error {
	startTime := time.Now()
	stats := CleanupStats{
		RunAt:  startTime,
		Errors: []string{},
	}

	paths, err := gc.mediaStorage.WalkTemp()
	if err != nil {
		return err
	}
	stats.FilesScanned = len(paths)

	for _, path := range paths {
		modTime, err := gc.mediaStorage.GetFileModTime(path)
		if err != nil {
			stats.Errors = append(stats.Errors, "stat error: "+path+": "+err.Error())
			continue
		}
		// younger files may still belong to a post being written
		if time.Since(modTime) < gc.safetyThreshold {
			continue
		}
		stats.ExpiredFiles++

		size, _ := gc.mediaStorage.FileSize(path)
		if err := gc.mediaStorage.DeleteFile(path); err != nil {
			stats.Errors = append(stats.Errors, "delete error: "+path+": "+err.Error())
			continue
		}
		stats.FilesDeleted++
		stats.BytesReclaimed += size
	}

	stats.DurationMs = time.Since(startTime).Milliseconds()
	gc.mu.Lock()
	gc.lastCleanupStats = stats
	gc.mu.Unlock()
	return nil
}

// GetLastCleanupStats returns statistics from the last cleanup run.
func (gc *TempGarbageCollector) GetLastCleanupStats() CleanupStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.lastCleanupStats
}
