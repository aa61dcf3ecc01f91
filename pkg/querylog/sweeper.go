package querylog

import (
	"context"
	"strconv"
	"time"

	"localdns/pkg/logging"
	"localdns/pkg/storage"
)

// DefaultRetentionDays applies when the stored setting is missing or
// unparseable.
const DefaultRetentionDays = 7

// DefaultSweepInterval is how often retention is enforced.
const DefaultSweepInterval = time.Hour

// Sweeper periodically deletes query log rows older than the configured
// retention window. The retention setting is re-read on every cycle so
// changes take effect without a restart.
type Sweeper struct {
	store    Store
	logger   *logging.Logger
	interval time.Duration
}

// NewSweeper creates a retention sweeper. A non-positive interval falls
// back to the default.
func NewSweeper(store Store, logger *logging.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = logging.NewDefault()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps once immediately, then on every tick until the context is
// canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Query log retention sweeper started",
		"interval", s.interval)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Query log retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	retention := s.retentionDays(ctx)

	deleted, err := s.store.CleanupOldLogs(ctx, retention)
	if err != nil {
		s.logger.Error("Query log cleanup failed",
			"retention_days", retention,
			"error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Removed old query logs",
			"deleted", deleted,
			"retention_days", retention)
	}
}

// retentionDays reads the current retention setting, falling back to the
// default on any failure so a bad setting never stops the sweep.
func (s *Sweeper) retentionDays(ctx context.Context) int {
	value, ok, err := s.store.GetSetting(ctx, storage.SettingLogRetentionDays)
	if err != nil {
		s.logger.Warn("Failed to read log retention setting",
			"error", err)
		return DefaultRetentionDays
	}
	if !ok {
		return DefaultRetentionDays
	}

	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 {
		s.logger.Warn("Invalid log retention setting, using default",
			"value", value,
			"default", DefaultRetentionDays)
		return DefaultRetentionDays
	}
	return days
}
