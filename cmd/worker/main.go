// Package main runs the leveling background jobs without the HTTP API.
//
// Jobs:
//   - rebuild_ranks: recomputes best-rank records for every guild
//   - booster_sync: applies booster snapshots from the platform adapter
//
// Run one worker per storage backend; the bot process can disable its own
// scheduler with SCHEDULER_ENABLED=false when a worker is deployed. The worker
// and the bot share user records through the store's version check: a job
// write that raced a bot award is rejected and re-applied on a fresh read.
// Daily goals are written only by the bot, so run a single bot per store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildkit/guild-leveling/config"
	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/infrastructure/catalog"
	"github.com/guildkit/guild-leveling/internal/infrastructure/external/membership"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence"
	"github.com/guildkit/guild-leveling/internal/infrastructure/scheduler"
	"github.com/guildkit/guild-leveling/internal/infrastructure/scheduler/jobs"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

func main() {
	once := flag.String("run", "", "run a single job by name and exit (rebuild_ranks, booster_sync)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LoggerOptions()).Named("worker")
	defer func() { _ = log.Sync() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE & SERVICE
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := persistence.Open(ctx, cfg.StorageOptions(), log)
	if err != nil {
		return err
	}
	defer storage.Close()

	cat, err := catalog.NewLoader(cfg.Catalog.Path).LoadAchievementCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load achievement catalog: %w", err)
	}

	serviceCfg := cfg.ServiceConfig()
	service := progression.NewService(
		storage.Store,
		achievement.NewEngine(cat, serviceCfg.Curve),
		serviceCfg,
		progression.WithLogger(log),
		progression.WithCalendar(timeutil.NewCalendar(cfg.Location())),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := scheduler.NewScheduler(cfg.SchedulerConfig(log))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Register(jobs.NewRebuildRanksJob(service, log, cfg.JobTimeout()), cfg.Scheduler.RankRebuildInterval, true); err != nil {
		return err
	}
	if cfg.Membership.URL != "" {
		source := membership.NewClient(cfg.MembershipClientConfig(), log)
		job := jobs.NewBoosterSyncJob(service, source, log, cfg.BoosterSyncConfig())
		if err := sched.Register(job, cfg.Scheduler.BoosterSyncInterval, true); err != nil {
			return err
		}
	} else {
		log.Warn("MEMBERSHIP_URL is not set, booster sync will not run")
	}

	if once != "" {
		return runOnce(ctx, sched, once, log)
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, info := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", info.Name),
			logger.Duration("interval", info.Interval),
			logger.String("description", info.Description))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stopped with error", logger.Err(err))
	}

	m := sched.GetMetrics().Snapshot()
	log.Info("worker stopped",
		logger.Int64("runs", m.TotalExecutions),
		logger.Int64("failures", m.TotalFailures))
	return nil
}

// runOnce executes one job synchronously, for cron-driven deployments.
func runOnce(ctx context.Context, sched *scheduler.Scheduler, name string, log *logger.Logger) error {
	result, err := sched.RunNow(ctx, name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return fmt.Errorf("unknown job %q", name)
	}
	if err != nil {
		return fmt.Errorf("job %s failed after %s: %w", name, result.Duration, err)
	}
	log.Info("job finished", logger.String("job", name), logger.Duration("duration", result.Duration))
	return nil
}
