package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

func TestDefaultCatalog(t *testing.T) {
	catalog, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 38, catalog.Len())

	first := catalog.All()[0]
	assert.Equal(t, "first_steps", first.ID)
	assert.Equal(t, achievement.KindLevelAtLeast, first.Criteria.Kind)
	assert.Equal(t, int64(5), first.Criteria.Value)

	wellRounded, ok := catalog.Get("well_rounded")
	require.True(t, ok)
	assert.Equal(t, achievement.KindAllOf, wellRounded.Criteria.Kind)
	assert.Len(t, wellRounded.Criteria.AllOf, 3)

	podium, ok := catalog.Get("podium_finish")
	require.True(t, ok)
	assert.Equal(t, achievement.KindBestRankAtMost, podium.Criteria.Kind)
}

func TestLoader_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "achievements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
achievements:
  - id: chatterbox
    name: Chatterbox
    category: messages
    criteria:
      kind: message_count_at_least
      value: 100
    reward_xp: 25
`), 0o600))

	catalog, err := NewLoader(path).LoadAchievementCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
}

func TestLoader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"unknown key", "achievements:\n  - id: a\n    category: xp\n    criterion: {kind: total_xp_at_least, value: 1}\n"},
		{"bad yaml", "achievements: [\n"},
		{"no achievements", "achievements: []\n"},
		{"unknown kind", "achievements:\n  - id: a\n    category: xp\n    criteria: {kind: vibes, value: 1}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidAchievementCatalog)
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader("/nonexistent/achievements.yaml").LoadAchievementCatalog(context.Background())
	assert.ErrorIs(t, err, shared.ErrInvalidAchievementCatalog)
}
