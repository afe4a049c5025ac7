// Package jobs contains the periodic leveling jobs run by the scheduler.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOOSTER SYNC JOB
// ══════════════════════════════════════════════════════════════════════════════

// BoostApplier is the part of the leveling service the sync job drives.
type BoostApplier interface {
	ListGuilds(ctx context.Context) ([]shared.GuildID, error)
	ApplyBoosterSnapshot(ctx context.Context, snapshot leveling.BoosterSnapshot, grace time.Duration) (progression.BoostSyncResult, error)
}

// BoosterSyncJob pulls booster membership for every tracked guild and
// writes boost status. A failing guild is logged and retried next period;
// it never aborts the scan of the others.
type BoosterSyncJob struct {
	service BoostApplier
	source  leveling.MembershipSource
	logger  *logger.Logger
	config  BoosterSyncConfig

	lastStats atomic.Pointer[BoosterSyncStats]
}

// BoosterSyncConfig contains configuration for the sync job.
type BoosterSyncConfig struct {
	// Grace is added to the snapshot time to get boost_expires_at.
	// It should exceed the job interval so boosts survive until the next run.
	Grace time.Duration

	// Concurrency is the number of guilds synced in parallel.
	Concurrency int

	// GuildTimeout bounds one guild's fetch and apply.
	GuildTimeout time.Duration

	// Timeout is the maximum duration for the entire run.
	Timeout time.Duration
}

// DefaultBoosterSyncConfig returns sensible defaults for a 6h period.
func DefaultBoosterSyncConfig() BoosterSyncConfig {
	return BoosterSyncConfig{
		Grace:        7 * time.Hour,
		Concurrency:  4,
		GuildTimeout: 2 * time.Minute,
		Timeout:      30 * time.Minute,
	}
}

// BoosterSyncStats contains statistics from a sync run.
type BoosterSyncStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Guilds       int
	GuildsSynced int
	GuildsFailed int

	Boosters    int
	Activated   int
	Deactivated int
	Refreshed   int
	Untracked   int

	Errors []GuildSyncError
}

// GuildSyncError records one guild's failure.
type GuildSyncError struct {
	GuildID shared.GuildID
	Err     error
}

// NewBoosterSyncJob creates a new booster sync job.
func NewBoosterSyncJob(service BoostApplier, source leveling.MembershipSource, log *logger.Logger, config BoosterSyncConfig) *BoosterSyncJob {
	if log == nil {
		log = logger.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &BoosterSyncJob{
		service: service,
		source:  source,
		logger:  log.With(logger.Component("booster_sync")),
		config:  config,
	}
}

// Name returns the job name.
func (j *BoosterSyncJob) Name() string {
	return "booster_sync"
}

// Description returns a human-readable description.
func (j *BoosterSyncJob) Description() string {
	return "Syncs server booster status from the membership source for every tracked guild"
}

// Run executes one scan. It fails only when the guild list cannot be read.
func (j *BoosterSyncJob) Run(ctx context.Context) error {
	stats := &BoosterSyncStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	guilds, err := j.service.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guilds: %w", err)
	}
	stats.Guilds = len(guilds)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, guildID := range guilds {
		g.Go(func() error {
			result, err := j.syncGuild(gctx, guildID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.GuildsFailed++
				stats.Errors = append(stats.Errors, GuildSyncError{GuildID: guildID, Err: err})
				j.logger.Warn("booster sync failed for guild", logger.GuildID(guildID), logger.Err(err))
				return nil
			}
			stats.GuildsSynced++
			stats.Boosters += result.Boosters
			stats.Activated += result.Activated
			stats.Deactivated += result.Deactivated
			stats.Refreshed += result.Refreshed
			stats.Untracked += result.Untracked
			return nil
		})
	}
	_ = g.Wait()

	j.logger.Info("booster sync completed",
		logger.Int("guilds", stats.Guilds),
		logger.Int("synced", stats.GuildsSynced),
		logger.Int("failed", stats.GuildsFailed),
		logger.Int("activated", stats.Activated),
		logger.Int("deactivated", stats.Deactivated),
		logger.Int("untracked", stats.Untracked),
	)
	return nil
}

func (j *BoosterSyncJob) syncGuild(ctx context.Context, guildID shared.GuildID) (progression.BoostSyncResult, error) {
	if j.config.GuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.GuildTimeout)
		defer cancel()
	}

	snapshot, err := j.source.Boosters(ctx, guildID)
	if err != nil {
		return progression.BoostSyncResult{}, fmt.Errorf("failed to fetch boosters: %w", err)
	}
	snapshot.GuildID = guildID

	result, err := j.service.ApplyBoosterSnapshot(ctx, snapshot, j.config.Grace)
	if err != nil {
		return result, fmt.Errorf("failed to apply snapshot: %w", err)
	}
	return result, nil
}

// LastStats returns statistics of the last completed run, or nil.
func (j *BoosterSyncJob) LastStats() *BoosterSyncStats {
	return j.lastStats.Load()
}
