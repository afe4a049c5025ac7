package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements leveling.Store. Ids are stored as BIGINT; platform
// snowflakes fit in the positive int64 range.
type Store struct {
	conn *Connection
}

// NewStore creates a Store on an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

var _ leveling.Store = (*Store)(nil)

const progressColumns = `
	guild_id, user_id, total_xp, level,
	message_count, command_count, images_shared, long_messages, links_shared, last_message_at,
	streak_count, last_claim_date, daily_claims, goals_completed,
	boost_active, boost_expires_at, boost_days, first_boost_at,
	achievements,
	current_rank, previous_rank, best_rank, rank_improvement,
	created_at, updated_at, version`

const upsertProgressSQL = `
	INSERT INTO user_progress (` + progressColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	ON CONFLICT (guild_id, user_id) DO UPDATE SET
		total_xp = EXCLUDED.total_xp,
		level = EXCLUDED.level,
		message_count = EXCLUDED.message_count,
		command_count = EXCLUDED.command_count,
		images_shared = EXCLUDED.images_shared,
		long_messages = EXCLUDED.long_messages,
		links_shared = EXCLUDED.links_shared,
		last_message_at = EXCLUDED.last_message_at,
		streak_count = EXCLUDED.streak_count,
		last_claim_date = EXCLUDED.last_claim_date,
		daily_claims = EXCLUDED.daily_claims,
		goals_completed = EXCLUDED.goals_completed,
		boost_active = EXCLUDED.boost_active,
		boost_expires_at = EXCLUDED.boost_expires_at,
		boost_days = EXCLUDED.boost_days,
		first_boost_at = EXCLUDED.first_boost_at,
		achievements = EXCLUDED.achievements,
		current_rank = EXCLUDED.current_rank,
		previous_rank = EXCLUDED.previous_rank,
		best_rank = EXCLUDED.best_rank,
		rank_improvement = EXCLUDED.rank_improvement,
		updated_at = EXCLUDED.updated_at,
		version = EXCLUDED.version`

// commitProgressSQL only replaces a row still at the version the caller read.
const commitProgressSQL = upsertProgressSQL + `
	WHERE user_progress.version = $27`

const insertEventSQL = `
	INSERT INTO xp_events (id, guild_id, user_id, amount, source, reference, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// ─────────────────────────────────────────────────────────────────────────────
// USER PROGRESS
// ─────────────────────────────────────────────────────────────────────────────

// GetUserData loads one record.
func (s *Store) GetUserData(ctx context.Context, key shared.MemberKey) (*leveling.UserProgress, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+progressColumns+` FROM user_progress WHERE guild_id = $1 AND user_id = $2`,
		int64(key.GuildID), int64(key.UserID))

	p, err := scanProgress(row)
	if IsNoRows(err) {
		return nil, leveling.ErrProgressNotFound
	}
	if err != nil {
		return nil, shared.StorageError("postgres", "GetUserData", fmt.Errorf("failed to get user progress: %w", err))
	}
	return p, nil
}

// SaveUserData upserts one record regardless of its version.
func (s *Store) SaveUserData(ctx context.Context, progress *leveling.UserProgress) error {
	next := progress.Version + 1
	if _, err := s.conn.Exec(ctx, upsertProgressSQL, progressArgs(progress, next)...); err != nil {
		return shared.StorageError("postgres", "SaveUserData", fmt.Errorf("failed to save user progress: %w", err))
	}
	progress.Version = next
	return nil
}

// CommitProgress upserts the record and inserts its events in one transaction.
// The upsert is conditional on the stored version; when it touches no row the
// transaction rolls back with leveling.ErrStaleProgress.
func (s *Store) CommitProgress(ctx context.Context, progress *leveling.UserProgress, events []leveling.XPEvent) error {
	next := progress.Version + 1
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, commitProgressSQL, append(progressArgs(progress, next), progress.Version)...)
		if err != nil {
			return fmt.Errorf("failed to upsert user progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return leveling.ErrStaleProgress
		}
		if len(events) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, e := range events {
			batch.Queue(insertEventSQL, eventArgs(e)...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to insert xp event %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if shared.IsConflict(err) {
		return err
	}
	if err != nil {
		return shared.StorageError("postgres", "CommitProgress", err)
	}
	progress.Version = next
	return nil
}

// ListUsers returns all records of a guild, ordered by user id.
func (s *Store) ListUsers(ctx context.Context, guildID shared.GuildID) ([]*leveling.UserProgress, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+progressColumns+` FROM user_progress WHERE guild_id = $1 ORDER BY user_id`,
		int64(guildID))
	if err != nil {
		return nil, shared.StorageError("postgres", "ListUsers", fmt.Errorf("failed to list users: %w", err))
	}
	list, err := collectProgress(rows)
	if err != nil {
		return nil, shared.StorageError("postgres", "ListUsers", err)
	}
	return list, nil
}

// CountUsers returns the number of tracked users in the guild.
func (s *Store) CountUsers(ctx context.Context, guildID shared.GuildID) (int, error) {
	var n int
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_progress WHERE guild_id = $1`, int64(guildID)).Scan(&n); err != nil {
		return 0, shared.StorageError("postgres", "CountUsers", fmt.Errorf("failed to count users: %w", err))
	}
	return n, nil
}

// ListGuilds returns every guild with at least one record.
func (s *Store) ListGuilds(ctx context.Context) ([]shared.GuildID, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT guild_id FROM user_progress ORDER BY guild_id`)
	if err != nil {
		return nil, shared.StorageError("postgres", "ListGuilds", fmt.Errorf("failed to list guilds: %w", err))
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.GuildID, error) {
		var id int64
		err := row.Scan(&id)
		return shared.GuildID(id), err
	})
	if err != nil {
		return nil, shared.StorageError("postgres", "ListGuilds", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// LEADERBOARD
// ─────────────────────────────────────────────────────────────────────────────

// GetLeaderboard pages over the leaderboard index.
func (s *Store) GetLeaderboard(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]*leveling.UserProgress, int, error) {
	total, err := s.CountUsers(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.conn.Query(ctx, `
		SELECT `+progressColumns+`
		FROM user_progress
		WHERE guild_id = $1
		ORDER BY total_xp DESC, user_id ASC
		OFFSET $2 LIMIT $3
	`, int64(guildID), max(offset, 0), lim)
	if err != nil {
		return nil, 0, shared.StorageError("postgres", "GetLeaderboard", fmt.Errorf("failed to query leaderboard: %w", err))
	}
	list, err := collectProgress(rows)
	if err != nil {
		return nil, 0, shared.StorageError("postgres", "GetLeaderboard", err)
	}
	return list, total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// EVENTS
// ─────────────────────────────────────────────────────────────────────────────

// AppendEvent inserts one event.
func (s *Store) AppendEvent(ctx context.Context, event leveling.XPEvent) error {
	if _, err := s.conn.Exec(ctx, insertEventSQL, eventArgs(event)...); err != nil {
		return shared.StorageError("postgres", "AppendEvent", fmt.Errorf("failed to insert xp event: %w", err))
	}
	return nil
}

// ListEvents returns events at or after since, newest first.
func (s *Store) ListEvents(ctx context.Context, key shared.MemberKey, since time.Time, limit int) ([]leveling.XPEvent, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, guild_id, user_id, amount, source, reference, occurred_at
		FROM xp_events
		WHERE guild_id = $1 AND user_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $4
	`, int64(key.GuildID), int64(key.UserID), since, lim)
	if err != nil {
		return nil, shared.StorageError("postgres", "ListEvents", fmt.Errorf("failed to query xp events: %w", err))
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leveling.XPEvent, error) {
		var (
			e               leveling.XPEvent
			guildID, userID int64
			source          string
		)
		err := row.Scan(&e.ID, &guildID, &userID, &e.Amount, &source, &e.Reference, &e.Timestamp)
		e.GuildID = shared.GuildID(guildID)
		e.UserID = shared.UserID(userID)
		e.Source = leveling.XPSource(source)
		return e, err
	})
	if err != nil {
		return nil, shared.StorageError("postgres", "ListEvents", err)
	}
	return events, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DAILY GOALS
// ─────────────────────────────────────────────────────────────────────────────

// GetDailyGoal loads the goal for the guild and date.
func (s *Store) GetDailyGoal(ctx context.Context, guildID shared.GuildID, date timeutil.Date) (*leveling.DailyGoal, error) {
	goal := leveling.DailyGoal{GuildID: guildID, Date: date}
	var (
		claimers     []int64
		bonusAwarded []int64
		completedAt  *time.Time
	)
	err := s.conn.QueryRow(ctx, `
		SELECT target, progress, claimers, completed, completed_at, bonus_awarded_to
		FROM daily_goals
		WHERE guild_id = $1 AND goal_date = $2
	`, int64(guildID), date.Time(time.UTC)).Scan(
		&goal.Target, &goal.Progress, &claimers, &goal.Completed, &completedAt, &bonusAwarded,
	)
	if IsNoRows(err) {
		return nil, shared.ErrGoalNotFound
	}
	if err != nil {
		return nil, shared.StorageError("postgres", "GetDailyGoal", fmt.Errorf("failed to get daily goal: %w", err))
	}

	goal.Claimers = toUserIDs(claimers)
	goal.BonusAwardedTo = toUserIDs(bonusAwarded)
	goal.CompletedAt = derefTime(completedAt)
	return &goal, nil
}

// SaveDailyGoal upserts the goal.
func (s *Store) SaveDailyGoal(ctx context.Context, goal *leveling.DailyGoal) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO daily_goals (guild_id, goal_date, target, progress, claimers, completed, completed_at, bonus_awarded_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guild_id, goal_date) DO UPDATE SET
			progress = EXCLUDED.progress,
			claimers = EXCLUDED.claimers,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			bonus_awarded_to = EXCLUDED.bonus_awarded_to
	`,
		int64(goal.GuildID),
		goal.Date.Time(time.UTC),
		goal.Target,
		goal.Progress,
		fromUserIDs(goal.Claimers),
		goal.Completed,
		nullTime(goal.CompletedAt),
		fromUserIDs(goal.BonusAwardedTo),
	)
	if err != nil {
		return shared.StorageError("postgres", "SaveDailyGoal", fmt.Errorf("failed to save daily goal: %w", err))
	}
	return nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return shared.StorageError("postgres", "Ping", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func progressArgs(p *leveling.UserProgress, version int64) []any {
	var lastClaim *time.Time
	if !p.LastClaimDate.IsZero() {
		t := p.LastClaimDate.Time(time.UTC)
		lastClaim = &t
	}
	achievements := p.Achievements
	if achievements == nil {
		achievements = []string{}
	}
	return []any{
		int64(p.GuildID), int64(p.UserID), p.TotalXP, p.Level,
		p.MessageCount, p.CommandCount, p.Content.ImagesShared, p.Content.LongMessages, p.Content.LinksShared, nullTime(p.LastMessageAt),
		p.StreakCount, lastClaim, p.DailyClaims, p.GoalsCompleted,
		p.BoostActive, nullTime(p.BoostExpiresAt), p.BoostDays, nullTime(p.FirstBoostAt),
		achievements,
		p.CurrentRank, p.PreviousRank, p.BestRank, p.RankImprovement,
		p.CreatedAt, p.UpdatedAt, version,
	}
}

func eventArgs(e leveling.XPEvent) []any {
	return []any{e.ID, int64(e.GuildID), int64(e.UserID), e.Amount, string(e.Source), e.Reference, e.Timestamp}
}

func scanProgress(row pgx.Row) (*leveling.UserProgress, error) {
	var (
		p               leveling.UserProgress
		guildID, userID int64
		lastMessage     *time.Time
		lastClaim       *time.Time
		boostExpires    *time.Time
		firstBoost      *time.Time
	)
	err := row.Scan(
		&guildID, &userID, &p.TotalXP, &p.Level,
		&p.MessageCount, &p.CommandCount, &p.Content.ImagesShared, &p.Content.LongMessages, &p.Content.LinksShared, &lastMessage,
		&p.StreakCount, &lastClaim, &p.DailyClaims, &p.GoalsCompleted,
		&p.BoostActive, &boostExpires, &p.BoostDays, &firstBoost,
		&p.Achievements,
		&p.CurrentRank, &p.PreviousRank, &p.BestRank, &p.RankImprovement,
		&p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}

	p.GuildID = shared.GuildID(guildID)
	p.UserID = shared.UserID(userID)
	p.LastMessageAt = derefTime(lastMessage)
	p.BoostExpiresAt = derefTime(boostExpires)
	p.FirstBoostAt = derefTime(firstBoost)
	if lastClaim != nil {
		p.LastClaimDate = timeutil.DateOf(*lastClaim, time.UTC)
	}
	if len(p.Achievements) == 0 {
		p.Achievements = nil
	}
	return &p, nil
}

func collectProgress(rows pgx.Rows) ([]*leveling.UserProgress, error) {
	defer rows.Close()

	var list []*leveling.UserProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user progress: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toUserIDs(ids []int64) []shared.UserID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]shared.UserID, len(ids))
	for i, id := range ids {
		out[i] = shared.UserID(id)
	}
	return out
}

func fromUserIDs(ids []shared.UserID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
