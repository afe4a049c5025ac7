// Package main is the leveling service host: the adapter HTTP API plus the
// in-process background jobs (rank rebuild, booster sync).
package main

import (
	"context"
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
	httpapi "github.com/guildkit/guild-leveling/internal/interface/http"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(cfg.LoggerOptions())
	defer func() { _ = log.Sync() }()

	log.Info("starting leveling service",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.Location().String()),
		logger.String("storage", cfg.Storage.Backend),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := persistence.Open(ctx, cfg.StorageOptions(), log)
	if err != nil {
		return err
	}
	defer storage.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ACHIEVEMENT CATALOG
	// ─────────────────────────────────────────────────────────────────────────
	cat, err := catalog.NewLoader(cfg.Catalog.Path).LoadAchievementCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load achievement catalog: %w", err)
	}
	log.Info("achievement catalog loaded", logger.Int("achievements", cat.Len()))

	// ─────────────────────────────────────────────────────────────────────────
	// 5. LEVELING SERVICE
	// ─────────────────────────────────────────────────────────────────────────
	serviceCfg := cfg.ServiceConfig()
	service := progression.NewService(
		storage.Store,
		achievement.NewEngine(cat, serviceCfg.Curve),
		serviceCfg,
		progression.WithLogger(log),
		progression.WithCalendar(timeutil.NewCalendar(cfg.Location())),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. BACKGROUND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(cfg, service, log)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stopped with error", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(cfg.HTTPServerConfig(), httpapi.Dependencies{
		Leveling: service,
		Logger:   log,
	})
	errCh := server.StartAsync()
	log.Info("leveling service is running", logger.String("http_address", cfg.HTTPServerConfig().Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", logger.Err(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
	}
	log.Info("shutdown completed")
	return nil
}

// newScheduler registers the rank rebuild and, when an adapter is configured,
// the booster sync.
func newScheduler(cfg *config.Config, service *progression.Service, log *logger.Logger) (*scheduler.Scheduler, error) {
	sched, err := scheduler.NewScheduler(cfg.SchedulerConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	rebuild := jobs.NewRebuildRanksJob(service, log, cfg.JobTimeout())
	if err := sched.Register(rebuild, cfg.Scheduler.RankRebuildInterval, true); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", rebuild.Name(), err)
	}

	if !cfg.BoosterSyncEnabled() {
		log.Info("booster sync disabled, MEMBERSHIP_URL is not set")
		return sched, nil
	}
	source := membership.NewClient(cfg.MembershipClientConfig(), log)
	boosters := jobs.NewBoosterSyncJob(service, source, log, cfg.BoosterSyncConfig())
	if err := sched.Register(boosters, cfg.Scheduler.BoosterSyncInterval, true); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", boosters.Name(), err)
	}
	return sched, nil
}
