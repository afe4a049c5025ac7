// Package http exposes the leveling facade to the platform adapter over a
// small JSON API built on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each handler's context.
	RequestTimeout time.Duration

	// APIKeys guard every /v1 route. Empty disables authentication.
	APIKeys []string

	// Mode is the gin mode: debug, release or test.
	Mode string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
		Mode:           gin.ReleaseMode,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Leveling is the facade surface the API serves.
type Leveling interface {
	AwardMessageXP(ctx context.Context, guildID GuildID, userID UserID, content MessageContent, now time.Time) (*progression.AwardOutcome, error)
	RecordCommand(ctx context.Context, guildID GuildID, userID UserID, now time.Time) (*progression.AwardOutcome, error)
	AwardXP(ctx context.Context, guildID GuildID, userID UserID, amount int64, reason string, now time.Time) (*progression.AwardOutcome, error)
	ClaimDaily(ctx context.Context, guildID GuildID, userID UserID, now time.Time) (*progression.ClaimOutcome, error)
	GetDailyGoal(ctx context.Context, guildID GuildID, now time.Time) (progression.GoalState, error)
	GetProfile(ctx context.Context, guildID GuildID, userID UserID) (*progression.Profile, error)
	GetAchievements(ctx context.Context, guildID GuildID, userID UserID) (unlocked, locked []Achievement, err error)
	GetNextAchievement(ctx context.Context, guildID GuildID, userID UserID) (*progression.NextAchievement, error)
	GetLeaderboard(ctx context.Context, guildID GuildID, page, pageSize int) (*progression.LeaderboardPage, error)
	GetXPStats(ctx context.Context, guildID GuildID, userID UserID, window time.Duration, now time.Time) (XPStats, error)
	GetXPHistory(ctx context.Context, guildID GuildID, userID UserID) ([]XPEvent, error)
	ListGuilds(ctx context.Context) ([]GuildID, error)
	Ping(ctx context.Context) error
}

var _ Leveling = (*progression.Service)(nil)

// Dependencies contains everything the handlers need.
type Dependencies struct {
	Leveling Leveling
	Logger   *logger.Logger

	// Clock supplies "now" for facade calls. Defaults to time.Now.
	Clock func() time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	handlers   *handlers
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s := &Server{
		config: config,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.handlers = &handlers{leveling: deps.Leveling, now: deps.Clock, logger: s.logger}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.Use(requestID(), recovery(s.logger), requestLogger(s.logger))

	s.engine.GET("/health", s.handlers.health)

	v1 := s.engine.Group("/v1")
	v1.Use(apiKeyAuth(s.config.APIKeys), timeout(s.config.RequestTimeout))
	{
		v1.GET("/guilds", s.handlers.listGuilds)

		guild := v1.Group("/guilds/:guild")
		guild.GET("/leaderboard", s.handlers.leaderboard)
		guild.GET("/goal", s.handlers.dailyGoal)

		user := guild.Group("/users/:user")
		user.GET("", s.handlers.profile)
		user.POST("/messages", s.handlers.awardMessage)
		user.POST("/commands", s.handlers.recordCommand)
		user.POST("/daily", s.handlers.claimDaily)
		user.POST("/xp", s.handlers.awardXP)
		user.GET("/achievements", s.handlers.achievements)
		user.GET("/achievements/next", s.handlers.nextAchievement)
		user.GET("/stats", s.handlers.stats)
		user.GET("/history", s.handlers.history)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
