package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor prunes remote downloads from the resolver cache once they outlive the TTL.
type Janitor struct {
	logger   *slog.Logger
	cacheDir string
	ttl      time.Duration
	cron     *cron.Cron
	now      func() time.Time
}

func NewJanitor(logger *slog.Logger, cacheDir string, ttl time.Duration) *Janitor {
	return &Janitor{
		logger:   logger.With("module", "resolver_janitor"),
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start schedules Prune with a standard cron expression.
func (j *Janitor) Start(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", schedule, err)
	}

	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Prune(); err != nil {
			j.logger.Error("Failed to prune resolver cache", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Resolver cache janitor started", "schedule", schedule, "ttl", j.ttl)

	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}

	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Prune removes cached files older than the TTL and any revision directory left empty.
func (j *Janitor) Prune() (int, error) {
	cutoff := j.now().Add(-j.ttl)
	removed := 0

	entries, err := os.ReadDir(j.cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(j.cacheDir, entry.Name())

		files, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("read cache directory %s: %w", dir, err)
		}

		kept := 0

		for _, file := range files {
			info, err := file.Info()
			if err != nil {
				kept++

				continue
			}

			if file.IsDir() || !info.ModTime().Before(cutoff) {
				kept++

				continue
			}

			if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
				j.logger.Warn("Failed to remove cached artifact", "path", file.Name(), "error", err)
				kept++

				continue
			}

			removed++
		}

		if kept == 0 {
			_ = os.Remove(dir)
		}
	}

	if removed > 0 {
		j.logger.Info("Pruned resolver cache", "removed", removed)
	}

	return removed, nil
}
