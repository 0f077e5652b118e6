package pofp

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gitvfsd/gitvfsd/internal/logger"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// TempDir is the directory Fetcher writes temp pack files into.
	TempDir string

	// Interval is how often the sweeper scans for abandoned temp packs.
	Interval time.Duration

	// MaxAge is how old an orphaned temp pack must be before the
	// sweeper removes it — a pack currently being indexed is still
	// young, so this must exceed any realistic indexing duration.
	MaxAge time.Duration
}

// Sweeper periodically removes orphaned temp-pack files left behind by a
// Fetcher that crashed (or was killed) between CreateTemp and the
// indexer taking ownership of the file. Indexed packs are moved out of
// TempDir by the indexer, so anything still present past MaxAge is
// presumed abandoned. Grounded on pkg/gc's periodic-collector shape,
// adapted from content-store orphan scanning to filesystem temp-file
// scanning.
type Sweeper struct {
	cfg    SweeperConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a Sweeper from cfg, applying defaults for any zero
// fields.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Hour
	}
	return &Sweeper{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	go s.worker()
}

// Stop signals the sweeper to stop and waits for the current sweep, if
// any, to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		logger.Error("temp-pack sweep failed to list %s: %v", s.cfg.TempDir, err)
		return
	}

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.cfg.TempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("temp-pack sweep failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("temp-pack sweep removed %d abandoned file(s) from %s", removed, s.cfg.TempDir)
	}
}
