package config

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/infrastructure/external/membership"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/postgres"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/redis"
	"github.com/guildkit/guild-leveling/internal/infrastructure/scheduler"
	"github.com/guildkit/guild-leveling/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/guildkit/guild-leveling/internal/interface/http"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPONENT SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// LoggerOptions maps the log settings. Unknown levels fall back to info.
func (c *Config) LoggerOptions() logger.Options {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(c.App.LogLevel)
	if c.App.LogFormat == "console" {
		opts.Format = "console"
	}
	return opts
}

// ServiceConfig maps the reward tuning onto the leveling service config.
func (c *Config) ServiceConfig() progression.Config {
	l := c.Leveling
	cfg := progression.DefaultConfig()
	cfg.Curve = leveling.LevelCurve{A: l.CurveA, B: l.CurveB}
	cfg.MessageReward = leveling.MessageReward{Min: l.MessageXPMin, Max: l.MessageXPMax}
	cfg.Cooldown = l.Cooldown
	cfg.Boost = leveling.BoostPolicy{MultiplierPercent: l.BoostPercent}
	cfg.Daily = leveling.DailyRewardPolicy{
		Base:       l.DailyBase,
		StreakStep: l.StreakBonusStep,
		StreakCap:  l.StreakBonusCap,
	}
	cfg.Goal = leveling.GoalPolicy{
		MemberRatio: l.GoalMemberRatio,
		Cap:         l.GoalCap,
		BonusXP:     l.GoalBonusXP,
	}
	cfg.HistoryCap = l.HistoryCap
	if l.MaxPageSize > 0 {
		cfg.MaxPageSize = l.MaxPageSize
	}
	return cfg
}

// PoolOptions maps the Postgres pool settings.
func (c *Config) PoolOptions() postgres.PoolOptions {
	opts := postgres.DefaultPoolOptions()
	opts.MaxConns = c.Storage.DBMaxConns
	opts.MinConns = c.Storage.DBMinConns
	if c.Storage.DBConnLifetime > 0 {
		opts.MaxConnLifetime = c.Storage.DBConnLifetime
	}
	return opts
}

// StorageOptions describes the selected backend for persistence.Open.
func (c *Config) StorageOptions() persistence.Options {
	return persistence.Options{
		Backend:     c.Storage.Backend,
		DatabaseURL: c.Storage.DatabaseURL,
		Pool:        c.PoolOptions(),
		AutoMigrate: c.Storage.DBAutoMigrate,
		Redis:       c.RedisConfig(),
	}
}

// RedisConfig maps the Redis settings.
func (c *Config) RedisConfig() redis.Config {
	cfg := redis.DefaultConfig()
	cfg.Host = c.Storage.RedisHost
	cfg.Port = c.Storage.RedisPort
	cfg.Password = c.Storage.RedisPassword
	cfg.DB = c.Storage.RedisDB
	if c.Storage.RedisPoolSize > 0 {
		cfg.PoolSize = c.Storage.RedisPoolSize
	}
	cfg.KeyPrefix = c.Storage.RedisKeyPrefix
	cfg.EventRetention = c.Storage.RedisEventRetention
	return cfg
}

// MembershipClientConfig maps the adapter client settings.
func (c *Config) MembershipClientConfig() membership.ClientConfig {
	cfg := membership.DefaultClientConfig(c.Membership.URL)
	cfg.Token = c.Membership.Token
	if c.Membership.Timeout > 0 {
		cfg.Timeout = c.Membership.Timeout
	}
	if c.Membership.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Membership.MaxAttempts
	}
	if c.Membership.FailureThreshold > 0 {
		cfg.FailureThreshold = c.Membership.FailureThreshold
	}
	if c.Membership.OpenTimeout > 0 {
		cfg.OpenTimeout = c.Membership.OpenTimeout
	}
	return cfg
}

// SchedulerConfig maps the scheduler settings.
func (c *Config) SchedulerConfig(log *logger.Logger) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.Logger = log
	cfg.Timezone = c.Location()
	return cfg
}

// BoosterSyncConfig maps the booster job settings.
func (c *Config) BoosterSyncConfig() jobs.BoosterSyncConfig {
	cfg := jobs.DefaultBoosterSyncConfig()
	cfg.Grace = c.Scheduler.BoostGrace
	if c.Scheduler.BoosterConcurrency > 0 {
		cfg.Concurrency = c.Scheduler.BoosterConcurrency
	}
	if c.Scheduler.JobTimeout > 0 {
		cfg.Timeout = c.Scheduler.JobTimeout
	}
	return cfg
}

// HTTPServerConfig maps the API server settings.
func (c *Config) HTTPServerConfig() httpapi.Config {
	cfg := httpapi.DefaultConfig()
	cfg.Host = c.HTTP.Host
	cfg.Port = c.HTTP.Port
	cfg.ReadTimeout = c.HTTP.ReadTimeout
	cfg.WriteTimeout = c.HTTP.WriteTimeout
	cfg.RequestTimeout = c.HTTP.RequestTimeout
	cfg.APIKeys = c.HTTP.APIKeys
	if c.App.Environment == EnvDevelopment {
		cfg.Mode = gin.DebugMode
	}
	return cfg
}

// JobTimeout bounds one scheduled run.
func (c *Config) JobTimeout() time.Duration {
	if c.Scheduler.JobTimeout <= 0 {
		return 30 * time.Minute
	}
	return c.Scheduler.JobTimeout
}
