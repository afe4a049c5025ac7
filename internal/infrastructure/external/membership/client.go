// Package membership fetches guild booster lists from the platform adapter.
// Calls are retried with backoff and guarded by a circuit breaker so a dead
// adapter does not stall the booster sync job.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/circuitbreaker"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig configures the adapter client.
type ClientConfig struct {
	// BaseURL is the adapter root, e.g. "http://adapter:8081".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	Timeout time.Duration

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	FailureThreshold int
	OpenTimeout      time.Duration
}

// DefaultClientConfig returns conservative settings for a periodic job.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		Timeout:          10 * time.Second,
		MaxAttempts:      3,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements leveling.MembershipSource over HTTP.
type Client struct {
	config  ClientConfig
	http    *http.Client
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
	now     func() time.Time
}

var _ leveling.MembershipSource = (*Client)(nil)

// NewClient creates a client. A nil logger disables logging.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(logger.Component("membership"))

	c := &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: log,
		now:    time.Now,
	}
	c.retrier = retry.New(
		retry.WithMaxAttempts(config.MaxAttempts),
		retry.WithBackoff(config.InitialDelay, config.MaxDelay, 2),
		retry.WithJitter(0.2),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying membership request",
				logger.Int("attempt", attempt), logger.Duration("delay", delay), logger.Err(err))
		}),
	)
	c.breaker = circuitbreaker.New("membership",
		circuitbreaker.WithFailureThreshold(config.FailureThreshold),
		circuitbreaker.WithOpenTimeout(config.OpenTimeout),
		circuitbreaker.WithIsFailure(func(err error) bool { return !shared.IsNotFound(err) }),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name), logger.String("from", from.String()), logger.String("to", to.String()))
		}),
	)
	return c
}

// Boosters returns the guild's current boosters. TakenAt is the time the
// response was received.
func (c *Client) Boosters(ctx context.Context, guildID shared.GuildID) (leveling.BoosterSnapshot, error) {
	if !guildID.IsValid() {
		return leveling.BoosterSnapshot{}, shared.ErrInvalidGuildID
	}

	var resp BoostersResponseDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.get(ctx, fmt.Sprintf("/guilds/%s/boosters", guildID), &resp)
		})
	})
	if err != nil {
		return leveling.BoosterSnapshot{}, c.wrap(guildID, err)
	}

	snapshot, skipped := resp.toSnapshot(guildID, c.now().UTC())
	if skipped > 0 {
		c.logger.Warn("skipped boosters with invalid ids",
			logger.GuildID(guildID), logger.Int("skipped", skipped))
	}
	return snapshot, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *Client) wrap(guildID shared.GuildID, err error) error {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("membership", "Boosters", shared.ErrServiceUnavailable, "membership adapter circuit open", err)
	case shared.IsNotFound(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("membership", "Boosters", shared.ErrTimeout, "guild "+guildID.String(), err)
	default:
		return shared.WrapError("membership", "Boosters", shared.ErrExternalService, "guild "+guildID.String(), err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// transport
// ─────────────────────────────────────────────────────────────────────────────

// get performs one request. Transient failures come back marked retry.Retryable.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(shared.WrapError("membership", "Boosters", shared.ErrNotFound, "guild not known to adapter", nil))
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(shared.WrapError("membership", "Boosters", shared.ErrRateLimited, "adapter rate limit", statusError(resp.StatusCode, body)))
	case resp.StatusCode >= 500:
		return retry.Retryable(statusError(resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return retry.Permanent(statusError(resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(status int, body []byte) error {
	var apiErr APIErrorDTO
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("status %d: %w", status, &apiErr)
	}
	return fmt.Errorf("membership api: status %d", status)
}
