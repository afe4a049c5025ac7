package shared

import (
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID is a chat-platform user identifier (snowflake).
type UserID uint64

// IsValid checks if the user ID is set.
func (u UserID) IsValid() bool {
	return u > 0
}

// String returns the decimal representation.
func (u UserID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// ParseUserID parses a decimal snowflake.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, ErrInvalidUserID
	}
	return UserID(v), nil
}

// GuildID is a chat-platform community (guild) identifier.
type GuildID uint64

// IsValid checks if the guild ID is set.
func (g GuildID) IsValid() bool {
	return g > 0
}

// String returns the decimal representation.
func (g GuildID) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// ParseGuildID parses a decimal snowflake.
func ParseGuildID(s string) (GuildID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, ErrInvalidGuildID
	}
	return GuildID(v), nil
}

// MemberKey identifies one user record inside one guild.
type MemberKey struct {
	GuildID GuildID
	UserID  UserID
}

// NewMemberKey validates both parts of the key.
func NewMemberKey(guildID GuildID, userID UserID) (MemberKey, error) {
	if !guildID.IsValid() {
		return MemberKey{}, ErrInvalidGuildID
	}
	if !userID.IsValid() {
		return MemberKey{}, ErrInvalidUserID
	}
	return MemberKey{GuildID: guildID, UserID: userID}, nil
}

// String returns "guild:user".
func (k MemberKey) String() string {
	return k.GuildID.String() + ":" + k.UserID.String()
}
