package membership

import (
	"fmt"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// BoostersResponseDTO is the adapter's booster listing.
// Snowflake ids arrive as strings.
type BoostersResponseDTO struct {
	GuildID  string       `json:"guild_id"`
	Boosters []BoosterDTO `json:"boosters"`
}

// BoosterDTO is one member currently boosting the guild.
type BoosterDTO struct {
	UserID       string    `json:"user_id"`
	PremiumSince time.Time `json:"premium_since"`
}

// APIErrorDTO is the adapter's error body.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIErrorDTO) Error() string {
	return fmt.Sprintf("membership api: %s: %s", e.Code, e.Message)
}

// toSnapshot maps the response, skipping entries with unusable ids.
func (r BoostersResponseDTO) toSnapshot(guildID shared.GuildID, takenAt time.Time) (leveling.BoosterSnapshot, int) {
	snapshot := leveling.BoosterSnapshot{
		GuildID:  guildID,
		TakenAt:  takenAt,
		Boosters: make([]leveling.Booster, 0, len(r.Boosters)),
	}
	skipped := 0
	for _, b := range r.Boosters {
		id, err := shared.ParseUserID(b.UserID)
		if err != nil {
			skipped++
			continue
		}
		snapshot.Boosters = append(snapshot.Boosters, leveling.Booster{UserID: id, Since: b.PremiumSince.UTC()})
	}
	return snapshot, skipped
}
