package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// mgetChunk bounds the number of keys per MGET.
const mgetChunk = 500

// Store implements leveling.Store. A commit is a single MULTI/EXEC, so the
// record, its leaderboard score and its events land together. Events are
// never trimmed unless Config.EventRetention is set.
type Store struct {
	client redis.UniversalClient
	cfg    Config
}

// NewStore wraps an open client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

var _ leveling.Store = (*Store)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) userKey(guildID shared.GuildID, userID shared.UserID) string {
	return fmt.Sprintf("%suser:%d:%d", s.cfg.KeyPrefix, guildID, userID)
}

func (s *Store) boardKey(guildID shared.GuildID) string {
	return fmt.Sprintf("%sboard:%d", s.cfg.KeyPrefix, guildID)
}

func (s *Store) guildsKey() string {
	return s.cfg.KeyPrefix + "guilds"
}

func (s *Store) eventsKey(key shared.MemberKey) string {
	return fmt.Sprintf("%sevents:%d:%d", s.cfg.KeyPrefix, key.GuildID, key.UserID)
}

func (s *Store) goalKey(guildID shared.GuildID, date timeutil.Date) string {
	return fmt.Sprintf("%sgoal:%d:%s", s.cfg.KeyPrefix, guildID, date)
}

// boardMember pads the id so equal scores sort by ascending user id.
func boardMember(userID shared.UserID) string {
	return fmt.Sprintf("%020d", uint64(userID))
}

func boardScore(totalXP int64) float64 {
	return -float64(totalXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// GetUserData loads one record.
func (s *Store) GetUserData(ctx context.Context, key shared.MemberKey) (*leveling.UserProgress, error) {
	data, err := s.client.Get(ctx, s.userKey(key.GuildID, key.UserID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, leveling.ErrProgressNotFound
	}
	if err != nil {
		return nil, shared.StorageError("redis", "GetUserData", err)
	}

	var p leveling.UserProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, shared.StorageError("redis", "GetUserData", fmt.Errorf("failed to decode user progress: %w", err))
	}
	return &p, nil
}

// SaveUserData replaces one record regardless of its version.
func (s *Store) SaveUserData(ctx context.Context, progress *leveling.UserProgress) error {
	w, err := s.encode(progress, nil)
	if err != nil {
		return shared.StorageError("redis", "SaveUserData", err)
	}
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, w)
		return nil
	}); err != nil {
		return shared.StorageError("redis", "SaveUserData", err)
	}
	progress.Version = w.version
	return nil
}

// CommitProgress writes the record, its score and its events in one
// MULTI/EXEC, guarded by WATCH on the record so a concurrent writer in
// another process turns this commit into leveling.ErrStaleProgress.
func (s *Store) CommitProgress(ctx context.Context, progress *leveling.UserProgress, events []leveling.XPEvent) error {
	w, err := s.encode(progress, events)
	if err != nil {
		return shared.StorageError("redis", "CommitProgress", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.storedVersion(ctx, tx, w.userKey)
		if err != nil {
			return err
		}
		if stored != progress.Version {
			return leveling.ErrStaleProgress
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrite(ctx, pipe, w)
			return nil
		})
		return err
	}, w.userKey)

	switch {
	case err == nil:
		progress.Version = w.version
		return nil
	case errors.Is(err, redis.TxFailedErr), shared.IsConflict(err):
		return leveling.ErrStaleProgress
	default:
		return shared.StorageError("redis", "CommitProgress", err)
	}
}

// pendingWrite is an encoded record plus its events.
type pendingWrite struct {
	key     shared.MemberKey
	userKey string
	record  []byte
	version int64
	totalXP int64
	events  []redis.Z
	newest  time.Time
}

func (s *Store) encode(progress *leveling.UserProgress, events []leveling.XPEvent) (*pendingWrite, error) {
	next := *progress
	next.Version++
	record, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user progress: %w", err)
	}

	key := progress.Key()
	w := &pendingWrite{
		key:     key,
		userKey: s.userKey(key.GuildID, key.UserID),
		record:  record,
		version: next.Version,
		totalXP: progress.TotalXP,
		events:  make([]redis.Z, 0, len(events)),
	}
	for i, e := range events {
		z, err := eventMember(e, i)
		if err != nil {
			return nil, err
		}
		w.events = append(w.events, z)
		if e.Timestamp.After(w.newest) {
			w.newest = e.Timestamp
		}
	}
	return w, nil
}

func (s *Store) queueWrite(ctx context.Context, pipe redis.Pipeliner, w *pendingWrite) {
	pipe.Set(ctx, w.userKey, w.record, 0)
	pipe.ZAdd(ctx, s.boardKey(w.key.GuildID), redis.Z{Score: boardScore(w.totalXP), Member: boardMember(w.key.UserID)})
	pipe.SAdd(ctx, s.guildsKey(), w.key.GuildID.String())
	if len(w.events) > 0 {
		s.queueEvents(ctx, pipe, w.key, w.events, w.newest)
	}
}

// storedVersion reads the version of the watched record; 0 when absent.
func (s *Store) storedVersion(ctx context.Context, tx *redis.Tx, userKey string) (int64, error) {
	data, err := tx.Get(ctx, userKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to decode user progress: %w", err)
	}
	return head.Version, nil
}

// ListUsers returns all records of a guild, ordered by user id.
func (s *Store) ListUsers(ctx context.Context, guildID shared.GuildID) ([]*leveling.UserProgress, error) {
	members, err := s.client.ZRange(ctx, s.boardKey(guildID), 0, -1).Result()
	if err != nil {
		return nil, shared.StorageError("redis", "ListUsers", err)
	}
	list, err := s.loadMembers(ctx, guildID, members)
	if err != nil {
		return nil, shared.StorageError("redis", "ListUsers", err)
	}
	slices.SortFunc(list, func(a, b *leveling.UserProgress) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return list, nil
}

// CountUsers returns the size of the guild's leaderboard set.
func (s *Store) CountUsers(ctx context.Context, guildID shared.GuildID) (int, error) {
	n, err := s.client.ZCard(ctx, s.boardKey(guildID)).Result()
	if err != nil {
		return 0, shared.StorageError("redis", "CountUsers", err)
	}
	return int(n), nil
}

// ListGuilds returns guild ids in ascending order.
func (s *Store) ListGuilds(ctx context.Context) ([]shared.GuildID, error) {
	raw, err := s.client.SMembers(ctx, s.guildsKey()).Result()
	if err != nil {
		return nil, shared.StorageError("redis", "ListGuilds", err)
	}
	out := make([]shared.GuildID, 0, len(raw))
	for _, r := range raw {
		id, err := shared.ParseGuildID(r)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboard reads a slice of the sorted set in ascending score order,
// which is descending XP with ascending user id on ties.
func (s *Store) GetLeaderboard(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]*leveling.UserProgress, int, error) {
	total, err := s.CountUsers(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}
	offset = max(offset, 0)
	if offset >= total {
		return []*leveling.UserProgress{}, total, nil
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	members, err := s.client.ZRange(ctx, s.boardKey(guildID), int64(offset), stop).Result()
	if err != nil {
		return nil, 0, shared.StorageError("redis", "GetLeaderboard", err)
	}
	list, err := s.loadMembers(ctx, guildID, members)
	if err != nil {
		return nil, 0, shared.StorageError("redis", "GetLeaderboard", err)
	}
	return list, total, nil
}

// loadMembers resolves board members to records, preserving order.
func (s *Store) loadMembers(ctx context.Context, guildID shared.GuildID, members []string) ([]*leveling.UserProgress, error) {
	out := make([]*leveling.UserProgress, 0, len(members))
	for start := 0; start < len(members); start += mgetChunk {
		chunk := members[start:min(start+mgetChunk, len(members))]

		keys := make([]string, 0, len(chunk))
		for _, m := range chunk {
			id, err := strconv.ParseUint(m, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid leaderboard member %q: %w", m, err)
			}
			keys = append(keys, s.userKey(guildID, shared.UserID(id)))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var p leveling.UserProgress
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
			}
			out = append(out, &p)
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// AppendEvent adds one event to the member's set.
func (s *Store) AppendEvent(ctx context.Context, event leveling.XPEvent) error {
	z, err := eventMember(event, 0)
	if err != nil {
		return shared.StorageError("redis", "AppendEvent", err)
	}
	key := shared.MemberKey{GuildID: event.GuildID, UserID: event.UserID}

	pipe := s.client.TxPipeline()
	s.queueEvents(ctx, pipe, key, []redis.Z{z}, event.Timestamp)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.StorageError("redis", "AppendEvent", err)
	}
	return nil
}

// queueEvents adds events and, with EventRetention set, drops those older
// than the retention measured back from newest.
func (s *Store) queueEvents(ctx context.Context, pipe redis.Pipeliner, key shared.MemberKey, events []redis.Z, newest time.Time) {
	eventsKey := s.eventsKey(key)
	pipe.ZAdd(ctx, eventsKey, events...)
	if s.cfg.EventRetention > 0 {
		cutoff := newest.Add(-s.cfg.EventRetention).UnixMicro()
		pipe.ZRemRangeByScore(ctx, eventsKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
}

// eventMember encodes an event; index orders events sharing a timestamp.
func eventMember(e leveling.XPEvent, index int) (redis.Z, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return redis.Z{}, fmt.Errorf("failed to encode xp event: %w", err)
	}
	member := fmt.Sprintf("%019d.%04d|%s", e.Timestamp.UnixNano(), index, data)
	return redis.Z{Score: float64(e.Timestamp.UnixMicro()), Member: member}, nil
}

// ListEvents returns events at or after since, newest first.
func (s *Store) ListEvents(ctx context.Context, key shared.MemberKey, since time.Time, limit int) ([]leveling.XPEvent, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !since.IsZero() {
		opt.Min = strconv.FormatInt(since.UnixMicro(), 10)
	} else if limit > 0 {
		opt.Count = int64(limit)
	}
	raw, err := s.client.ZRevRangeByScore(ctx, s.eventsKey(key), opt).Result()
	if err != nil {
		return nil, shared.StorageError("redis", "ListEvents", err)
	}

	out := make([]leveling.XPEvent, 0, len(raw))
	for _, r := range raw {
		_, data, ok := strings.Cut(r, "|")
		if !ok {
			return nil, shared.StorageError("redis", "ListEvents", fmt.Errorf("malformed xp event member %q", r))
		}
		var e leveling.XPEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, shared.StorageError("redis", "ListEvents", fmt.Errorf("failed to decode xp event: %w", err))
		}
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyGoal loads the goal for the guild and date.
func (s *Store) GetDailyGoal(ctx context.Context, guildID shared.GuildID, date timeutil.Date) (*leveling.DailyGoal, error) {
	data, err := s.client.Get(ctx, s.goalKey(guildID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrGoalNotFound
	}
	if err != nil {
		return nil, shared.StorageError("redis", "GetDailyGoal", err)
	}

	var goal leveling.DailyGoal
	if err := json.Unmarshal(data, &goal); err != nil {
		return nil, shared.StorageError("redis", "GetDailyGoal", fmt.Errorf("failed to decode daily goal: %w", err))
	}
	return &goal, nil
}

// SaveDailyGoal stores the goal with GoalTTL.
func (s *Store) SaveDailyGoal(ctx context.Context, goal *leveling.DailyGoal) error {
	data, err := json.Marshal(goal)
	if err != nil {
		return shared.StorageError("redis", "SaveDailyGoal", fmt.Errorf("failed to encode daily goal: %w", err))
	}
	if err := s.client.Set(ctx, s.goalKey(goal.GuildID, goal.Date), data, s.cfg.GoalTTL).Err(); err != nil {
		return shared.StorageError("redis", "SaveDailyGoal", err)
	}
	return nil
}

// Ping checks the server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return shared.StorageError("redis", "Ping", err)
	}
	return nil
}
