package http

import (
	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// Aliases keep the Leveling interface readable.
type (
	GuildID        = shared.GuildID
	UserID         = shared.UserID
	MessageContent = leveling.MessageContent
	XPStats        = leveling.XPStats
	XPEvent        = leveling.XPEvent
	Achievement    = achievement.Achievement
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// MessageRequest describes the message that earned XP. All fields are optional.
type MessageRequest struct {
	HasImage bool `json:"has_image"`
	Length   int  `json:"length" binding:"gte=0"`
	HasLink  bool `json:"has_link"`
}

// AwardXPRequest is an administrative grant or correction.
type AwardXPRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"max=200"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// AchievementsResponse splits the catalog for one user.
type AchievementsResponse struct {
	Unlocked []Achievement `json:"unlocked"`
	Locked   []Achievement `json:"locked"`
}
