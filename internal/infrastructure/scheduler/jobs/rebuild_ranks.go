package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RankRebuilder is the part of the leveling service the rank job drives.
type RankRebuilder interface {
	ListGuilds(ctx context.Context) ([]shared.GuildID, error)
	RebuildRanks(ctx context.Context, guildID shared.GuildID, now time.Time) (int, error)
}

// RebuildRanksJob stores leaderboard positions on every record so rank
// achievements (best rank, rank improvement) can be evaluated.
type RebuildRanksJob struct {
	service RankRebuilder
	logger  *logger.Logger
	timeout time.Duration
	now     func() time.Time

	lastStats atomic.Pointer[RebuildRanksStats]
}

// RebuildRanksStats contains statistics from a rebuild run.
type RebuildRanksStats struct {
	StartedAt    time.Time
	Duration     time.Duration
	Guilds       int
	GuildsFailed int
	RanksUpdated int
}

// NewRebuildRanksJob creates the job. A zero timeout means no limit.
func NewRebuildRanksJob(service RankRebuilder, log *logger.Logger, timeout time.Duration) *RebuildRanksJob {
	if log == nil {
		log = logger.Default()
	}
	return &RebuildRanksJob{
		service: service,
		logger:  log.With(logger.Component("rebuild_ranks")),
		timeout: timeout,
		now:     time.Now,
	}
}

// Name returns the job name.
func (j *RebuildRanksJob) Name() string {
	return "rebuild_ranks"
}

// Description returns a human-readable description.
func (j *RebuildRanksJob) Description() string {
	return "Recomputes per-guild leaderboard ranks and stores current, previous and best rank"
}

// Run rebuilds every guild sequentially. Guild failures are logged and skipped.
func (j *RebuildRanksJob) Run(ctx context.Context) error {
	started := j.now()
	stats := &RebuildRanksStats{StartedAt: started}
	defer func() {
		stats.Duration = time.Since(started)
		j.lastStats.Store(stats)
	}()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	guilds, err := j.service.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guilds: %w", err)
	}
	stats.Guilds = len(guilds)

	for _, guildID := range guilds {
		if err := ctx.Err(); err != nil {
			return err
		}
		updated, err := j.service.RebuildRanks(ctx, guildID, started)
		stats.RanksUpdated += updated
		if err != nil {
			stats.GuildsFailed++
			j.logger.Warn("rank rebuild failed for guild", logger.GuildID(guildID), logger.Err(err))
		}
	}

	j.logger.Info("rank rebuild completed",
		logger.Int("guilds", stats.Guilds),
		logger.Int("failed", stats.GuildsFailed),
		logger.Int("updated", stats.RanksUpdated),
	)
	return nil
}

// LastStats returns statistics of the last completed run, or nil.
func (j *RebuildRanksJob) LastStats() *RebuildRanksStats {
	return j.lastStats.Load()
}
