package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

func TestLoadFromMap_Defaults(t *testing.T) {
	cfg, err := LoadFromMap(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Empty(t, cfg.HTTP.APIKeys)
	assert.False(t, cfg.BoosterSyncEnabled(), "no membership url")

	// Environment defaults reproduce the built-in service tuning.
	assert.Equal(t, progression.DefaultConfig(), cfg.ServiceConfig())
}

func TestLoadFromMap_Overrides(t *testing.T) {
	cfg, err := LoadFromMap(map[string]string{
		"APP_TIMEZONE":             "Europe/Berlin",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "console",
		"STORAGE_BACKEND":          "redis",
		"REDIS_HOST":               "cache",
		"REDIS_PORT":               "6380",
		"REDIS_KEY_PREFIX":         "lv:",
		"LEVEL_CURVE_A":            "10",
		"MESSAGE_COOLDOWN":         "30s",
		"BOOST_MULTIPLIER_PERCENT": "200",
		"GOAL_CAP":                 "0",
		"MEMBERSHIP_URL":           "http://adapter:8081/",
		"MEMBERSHIP_TOKEN":         "tok",
		"HTTP_API_KEYS":            "a,b",
	})
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, logger.LevelDebug, cfg.LoggerOptions().Level)
	assert.Equal(t, "console", cfg.LoggerOptions().Format)

	svc := cfg.ServiceConfig()
	assert.Equal(t, int64(10), svc.Curve.A)
	assert.Equal(t, int64(50), svc.Curve.B)
	assert.Equal(t, 30*time.Second, svc.Cooldown)
	assert.Equal(t, int64(200), svc.Boost.MultiplierPercent)
	assert.Equal(t, 0, svc.Goal.Cap)

	rc := cfg.RedisConfig()
	assert.Equal(t, "cache:6380", rc.Addr())
	assert.Equal(t, "lv:", rc.KeyPrefix)
	assert.Zero(t, rc.EventRetention, "events are kept by default")

	mc := cfg.MembershipClientConfig()
	assert.Equal(t, "http://adapter:8081", mc.BaseURL)
	assert.Equal(t, "tok", mc.Token)

	assert.True(t, cfg.BoosterSyncEnabled())
	assert.Equal(t, []string{"a", "b"}, cfg.HTTPServerConfig().APIKeys)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	_, err := LoadFromMap(map[string]string{
		"APP_TIMEZONE":    "Mars/Olympus",
		"STORAGE_BACKEND": "postgres",
		"MESSAGE_XP_MIN":  "30",
		"MESSAGE_XP_MAX":  "10",
		"HTTP_PORT":       "0",
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "APP_TIMEZONE")
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "MESSAGE_XP_MIN")
	assert.Contains(t, msg, "HTTP_PORT")
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{
			name: "unknown backend",
			vars: map[string]string{"STORAGE_BACKEND": "sqlite"},
			want: "STORAGE_BACKEND must be",
		},
		{
			name: "memory in production",
			vars: map[string]string{"APP_ENV": "production"},
			want: "not allowed in production",
		},
		{
			name: "boost below identity",
			vars: map[string]string{"BOOST_MULTIPLIER_PERCENT": "90"},
			want: "BOOST_MULTIPLIER_PERCENT",
		},
		{
			name: "flat curve",
			vars: map[string]string{"LEVEL_CURVE_A": "0", "LEVEL_CURVE_B": "0"},
			want: "LEVEL_CURVE_A",
		},
		{
			name: "event retention shorter than stats window",
			vars: map[string]string{"REDIS_EVENT_RETENTION": "24h"},
			want: "REDIS_EVENT_RETENTION",
		},
		{
			name: "grace shorter than sync interval",
			vars: map[string]string{
				"MEMBERSHIP_URL":        "http://adapter",
				"BOOSTER_SYNC_INTERVAL": "6h",
				"BOOST_GRACE":           "1h",
			},
			want: "BOOST_GRACE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromMap(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromMap_BadValue(t *testing.T) {
	_, err := LoadFromMap(map[string]string{"HTTP_PORT": "eighty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse environment")
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.RedisConfig().DB)
}
