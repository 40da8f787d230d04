package debuglog

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/conduit/internal/logger"
)

// Sweeper prunes old turn files on a schedule.
type Sweeper struct {
	dir       string
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper creates a sweeper that deletes turn files not modified
// within retention. A zero retention disables pruning entirely.
func NewSweeper(dir string, retention time.Duration) *Sweeper {
	return &Sweeper{
		dir:       dir,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start runs one immediate sweep and schedules a daily one.
func (s *Sweeper) Start() {
	if s.retention <= 0 {
		return
	}
	s.Sweep()
	_, _ = s.cron.AddFunc("@daily", s.Sweep)
	s.cron.Start()
}

// Stop halts the schedule. Idempotent.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep removes turn files older than the retention window.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.retention)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		logger.Info("pruned %d debug turn file(s) older than %s", removed, s.retention)
	}
}
