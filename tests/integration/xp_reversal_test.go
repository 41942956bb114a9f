package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironpathAPI/internal/quest"
	"ironpathAPI/services"
	"ironpathAPI/tests/helpers"
)

// TestAwardReverseRoundTrip completes a quest and resets it again, checking
// that the reversal restores total XP, level and the stat score exactly while
// both ledger rows remain on record.
func TestAwardReverseRoundTrip(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	cfg := testConfig()
	locks := services.NewUserLocks()
	progressionService := services.NewProgressionService(cfg)
	questService := services.NewQuestService(pool, progressionService, locks, cfg)
	playerService := services.NewPlayerService(pool, nil, progressionService, cfg)

	ctx := context.Background()

	username := "test_reverse_" + time.Now().Format("20060102150405")
	p, err := playerService.CreatePlayer(ctx, username, "UTC")
	require.NoError(t, err)

	// Base XP above the first curve threshold so the award crosses a level
	// and the reversal has to walk it back down.
	templateID := uuid.New()
	_, err = pool.Exec(ctx, `
	INSERT INTO quest_templates (id, name, description, category, cadence,
		requirement_type, metric, operator, threshold, deadline,
		base_xp, stat, stat_bonus, partial_allowed, partial_min_percent,
		core, rotation_day, active)
	VALUES ($1, 'Heavy squats (reversal test)', '', 'strength', 'DAILY',
		'NUMERIC', 'squats', 'GTE', 60, '',
		120, 'strength', 10, false, 0,
		true, 0, true)
	`, templateID)
	require.NoError(t, err)
	defer pool.Exec(ctx, `DELETE FROM quest_templates WHERE id = $1`, templateID)

	board, err := questService.ListQuests(ctx, p.ID, "")
	require.NoError(t, err)
	var inst *quest.InstanceWithTemplate
	for _, q := range board {
		if q.TemplateID == templateID {
			inst = q
		}
	}
	require.NotNil(t, inst)

	completed, event, err := questService.SubmitProgress(ctx, p.ID, inst.ID, 60)
	require.NoError(t, err)
	require.Equal(t, quest.StatusCompleted, completed.Status)
	require.NotNil(t, event)
	assert.Greater(t, event.LevelAfter, event.LevelBefore)

	awarded, err := playerService.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, event.FinalAmount, awarded.Player.TotalXP)
	assert.Equal(t, event.LevelAfter, awarded.Player.Level)
	assert.Equal(t, 10, awarded.Player.Stats.Strength)

	reset, reversal, err := questService.Reset(ctx, p.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, quest.StatusActive, reset.Status)
	assert.Nil(t, reset.XPAwarded)
	require.NotNil(t, reversal)
	assert.Equal(t, -event.FinalAmount, reversal.FinalAmount)
	assert.Equal(t, event.ID, *reversal.ReversesID)

	restored, err := playerService.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.Player.TotalXP)
	assert.Equal(t, 0, restored.Player.Level)
	assert.Equal(t, 0, restored.Player.Stats.Strength)

	// Both the award and its reversal stay in the append-only ledger.
	events, err := playerService.GetXPEvents(ctx, p.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
