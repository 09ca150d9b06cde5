// Package scanner walks directory trees and feeds FLAC files to the indexer
// through a fixed pool of workers.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"musicmaid/internal/config"
	"musicmaid/internal/indexer"
	"musicmaid/internal/logging"
	"musicmaid/internal/metrics"
	"musicmaid/internal/tracing"
	"musicmaid/internal/utils"
)

// Options configures a FileScanner
type Options struct {
	Workers int
	// FilesPerSecond limits how fast files are handed to workers; 0 disables the limit
	FilesPerSecond float64
	Extensions     []string
	// RemoveMissing deletes the index of files under the root that no longer exist
	RemoveMissing bool
}

// OptionsFromConfig maps the indexer section of the app config
func OptionsFromConfig(cfg config.IndexerConfig) Options {
	return Options{
		Workers:        cfg.Workers,
		FilesPerSecond: cfg.FilesPerSecond,
		Extensions:     cfg.Extensions,
		RemoveMissing:  true,
	}
}

// FileScanner scans a directory tree and indexes the files it selects
type FileScanner struct {
	indexer    *indexer.Indexer
	workers    int
	limiter    *rate.Limiter
	extensions map[string]bool
	opts       Options
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewFileScanner creates a new file scanner
func NewFileScanner(ix *indexer.Indexer, opts Options, m *metrics.Metrics, logger *logging.Logger) *FileScanner {
	if opts.Workers <= 0 {
		opts.Workers = 4 // Default to 4 workers
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".flac", ".opus", ".ogg", ".oga"}
	}
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	extensions := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}

	var limiter *rate.Limiter
	if opts.FilesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.FilesPerSecond), 1)
	}

	return &FileScanner{
		indexer:    ix,
		workers:    opts.Workers,
		limiter:    limiter,
		extensions: extensions,
		opts:       opts,
		metrics:    m,
		logger:     logger,
	}
}

// ScanDirectory indexes every selected file under root. Per-file errors are
// recorded in the stats and never abort the scan. Canceling ctx stops
// feeding new files; files already committed stay indexed.
func (s *FileScanner) ScanDirectory(ctx context.Context, root string) (*ScanStats, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("scan root is not a directory: " + abs)
	}

	stats := &ScanStats{
		ScanID:    uuid.NewString(),
		Root:      abs,
		StartTime: time.Now(),
	}
	log := s.logger.WithContextFields(logging.LogContext{ScanID: stats.ScanID, Module: "scanner"})

	ctx, _, done := tracing.WithTracingContext(ctx, "scanner.ScanDirectory", tracing.ScanTracingAttrs(abs, s.workers)...)
	defer done()

	log.Info().Str("root", abs).Int("workers", s.workers).Msg("Scan started")

	// Channel for file paths to process
	filePaths := make(chan string, s.workers*4)

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[string]bool)

	// Start workers
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range filePaths {
				if ctx.Err() != nil {
					mu.Lock()
					stats.Skipped++
					mu.Unlock()
					continue
				}
				s.indexOne(ctx, path, stats, &mu)
			}
		}()
	}

	// Walk directory tree
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return err
			}
			mu.Lock()
			stats.Failures = append(stats.Failures, Failure{Path: path, Reason: utils.Reason(err), Error: err.Error()})
			mu.Unlock()
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !s.selects(path) {
			return nil
		}

		mu.Lock()
		stats.Discovered++
		seen[path] = true
		mu.Unlock()

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		select {
		case filePaths <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	close(filePaths)
	wg.Wait()

	if walkErr == nil && s.opts.RemoveMissing {
		removed, err := s.removeMissing(ctx, abs, seen)
		if err != nil {
			log.Error().Err(err).Msg("Failed to remove missing files")
			walkErr = err
		}
		stats.Removed = removed
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.FilesPerSecond = float64(stats.Indexed) / secs
	}

	tracing.AddEvent(ctx, "scan.completed")
	log.Info().
		Int("discovered", stats.Discovered).
		Int("indexed", stats.Indexed).
		Int("failed", stats.Failed()).
		Int("skipped", stats.Skipped).
		Int("removed", stats.Removed).
		Dur("duration", stats.Duration).
		Msg("Scan finished")

	if walkErr != nil {
		tracing.SetSpanError(ctx, walkErr)
		return stats, walkErr
	}
	return stats, nil
}

func (s *FileScanner) indexOne(ctx context.Context, path string, stats *ScanStats, mu *sync.Mutex) {
	s.metrics.ScanInFlight.Inc()
	defer s.metrics.ScanInFlight.Dec()

	result, err := s.indexer.IndexFile(ctx, path)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			stats.Skipped++
			return
		}
		stats.Failures = append(stats.Failures, Failure{Path: path, Reason: utils.Reason(err), Error: err.Error()})
		return
	}
	stats.Indexed++
	stats.Comments += len(result.Index.Comments)
	stats.Pictures += len(result.Index.Pictures)
}

// removeMissing drops the index of files below root that the walk did not select
func (s *FileScanner) removeMissing(ctx context.Context, root string, seen map[string]bool) (int, error) {
	files, err := s.indexer.Repository().ListFiles(ctx)
	if err != nil {
		return 0, err
	}

	prefix := root + string(filepath.Separator)
	removed := 0
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) || seen[f.Path] {
			continue
		}
		if _, err := os.Stat(f.Path); err == nil {
			continue
		}
		ok, err := s.indexer.RemoveFile(ctx, f.Path)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// selects checks if a file has one of the configured extensions
func (s *FileScanner) selects(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}
