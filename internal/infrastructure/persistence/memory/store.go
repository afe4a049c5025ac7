// Package memory implements the leveling store in process memory.
// Data lives for the process lifetime only.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

type goalKey struct {
	guildID shared.GuildID
	date    timeutil.Date
}

// Store is a non-durable leveling.Store. Records are copied on the way in
// and out so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	users  map[shared.GuildID]map[shared.UserID]*leveling.UserProgress
	events map[shared.MemberKey][]leveling.XPEvent
	goals  map[goalKey]*leveling.DailyGoal
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:  make(map[shared.GuildID]map[shared.UserID]*leveling.UserProgress),
		events: make(map[shared.MemberKey][]leveling.XPEvent),
		goals:  make(map[goalKey]*leveling.DailyGoal),
	}
}

var _ leveling.Store = (*Store)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// GetUserData returns a copy of the record.
func (s *Store) GetUserData(ctx context.Context, key shared.MemberKey) (*leveling.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("memory", "GetUserData", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[key.GuildID][key.UserID]
	if !ok {
		return nil, leveling.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// SaveUserData replaces the record regardless of its version.
func (s *Store) SaveUserData(ctx context.Context, progress *leveling.UserProgress) error {
	if err := ctx.Err(); err != nil {
		return shared.StorageError("memory", "SaveUserData", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(progress)
	return nil
}

// CommitProgress checks the version, replaces the record and appends events under one lock.
func (s *Store) CommitProgress(ctx context.Context, progress *leveling.UserProgress, events []leveling.XPEvent) error {
	if err := ctx.Err(); err != nil {
		return shared.StorageError("memory", "CommitProgress", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if p, ok := s.users[progress.GuildID][progress.UserID]; ok {
		stored = p.Version
	}
	if stored != progress.Version {
		return leveling.ErrStaleProgress
	}

	s.put(progress)
	key := progress.Key()
	s.events[key] = append(s.events[key], events...)
	return nil
}

// put must be called with mu held.
func (s *Store) put(progress *leveling.UserProgress) {
	guild, ok := s.users[progress.GuildID]
	if !ok {
		guild = make(map[shared.UserID]*leveling.UserProgress)
		s.users[progress.GuildID] = guild
	}
	progress.Version++
	guild[progress.UserID] = progress.Clone()
}

// ListUsers returns copies of all records of a guild, ordered by user id.
func (s *Store) ListUsers(ctx context.Context, guildID shared.GuildID) ([]*leveling.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("memory", "ListUsers", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*leveling.UserProgress, 0, len(s.users[guildID]))
	for _, p := range s.users[guildID] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CountUsers returns the number of tracked users in the guild.
func (s *Store) CountUsers(ctx context.Context, guildID shared.GuildID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, shared.StorageError("memory", "CountUsers", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[guildID]), nil
}

// ListGuilds returns guild ids in ascending order.
func (s *Store) ListGuilds(ctx context.Context) ([]shared.GuildID, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("memory", "ListGuilds", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]shared.GuildID, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboard sorts on read.
func (s *Store) GetLeaderboard(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]*leveling.UserProgress, int, error) {
	all, err := s.ListUsers(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}
	leveling.SortForLeaderboard(all)

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*leveling.UserProgress{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// AppendEvent appends one event.
func (s *Store) AppendEvent(ctx context.Context, event leveling.XPEvent) error {
	if err := ctx.Err(); err != nil {
		return shared.StorageError("memory", "AppendEvent", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shared.MemberKey{GuildID: event.GuildID, UserID: event.UserID}
	s.events[key] = append(s.events[key], event)
	return nil
}

// ListEvents returns events at or after since, newest first.
func (s *Store) ListEvents(ctx context.Context, key shared.MemberKey, since time.Time, limit int) ([]leveling.XPEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("memory", "ListEvents", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[key]
	out := make([]leveling.XPEvent, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Timestamp.Before(since) {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyGoal returns a copy of the goal.
func (s *Store) GetDailyGoal(ctx context.Context, guildID shared.GuildID, date timeutil.Date) (*leveling.DailyGoal, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("memory", "GetDailyGoal", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.goals[goalKey{guildID: guildID, date: date}]
	if !ok {
		return nil, shared.ErrGoalNotFound
	}
	return g.Clone(), nil
}

// SaveDailyGoal stores a copy of the goal.
func (s *Store) SaveDailyGoal(ctx context.Context, goal *leveling.DailyGoal) error {
	if err := ctx.Err(); err != nil {
		return shared.StorageError("memory", "SaveDailyGoal", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.goals[goalKey{guildID: goal.GuildID, date: goal.Date}] = goal.Clone()
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}
