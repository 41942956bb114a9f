package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/quest"
	"ironpathAPI/services"
	"ironpathAPI/tests/helpers"
)

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:       "unused",
		JWTSecret:         helpers.TestJWTSecret,
		DefaultTimezone:   "UTC",
		QualifyThreshold:  0.8,
		PartialMinPercent: 50,
		GraceTokenEvery:   7,
		GraceTokenCap:     3,
		CurveCoefficient:  100,
		WeekendBonus:      1.1,
		HardModeBonus:     1.25,
		SeasonalBonus:     1.0,
	}
}

// TestFullDayFlow walks one player through a complete day: board
// materialization, progress to completion, XP settlement and the
// irreversible close.
func TestFullDayFlow(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	cfg := testConfig()
	locks := services.NewUserLocks()
	progressionService := services.NewProgressionService(cfg)
	questService := services.NewQuestService(pool, progressionService, locks, cfg)
	streakService := services.NewStreakService(pool, locks, cfg)
	dayService := services.NewDayService(pool, questService, progressionService, streakService, locks, cfg)
	playerService := services.NewPlayerService(pool, nil, progressionService, cfg)

	ctx := context.Background()

	// Step 1: Provision a player. The zone puts their local clock at 21:xx
	// so the explicit close later in the test lands in the night phase.
	username := "test_flow_" + time.Now().Format("20060102150405")
	p, err := playerService.CreatePlayer(ctx, username, helpers.TimezoneAtHour(21))
	require.NoError(t, err)

	// Step 2: Seed one core daily quest template.
	templateID := uuid.New()
	_, err = pool.Exec(ctx, `
	INSERT INTO quest_templates (id, name, description, category, cadence,
		requirement_type, metric, operator, threshold, deadline,
		base_xp, stat, stat_bonus, partial_allowed, partial_min_percent,
		core, rotation_day, active)
	VALUES ($1, 'Walk 10k steps (flow test)', '', 'movement', 'DAILY',
		'NUMERIC', 'steps', 'GTE', 10000, '',
		50, 'vitality', 5, true, 40,
		true, 0, true)
	`, templateID)
	require.NoError(t, err)
	defer pool.Exec(ctx, `DELETE FROM quest_templates WHERE id = $1`, templateID)

	// Step 3: First board read materializes today's instance.
	board, err := questService.ListQuests(ctx, p.ID, "")
	require.NoError(t, err)

	var inst *quest.InstanceWithTemplate
	for _, q := range board {
		if q.TemplateID == templateID {
			inst = q
		}
	}
	require.NotNil(t, inst, "materialized instance for seeded template")
	assert.Equal(t, quest.StatusActive, inst.Status)

	// Step 4: Re-reading the board must not duplicate the instance.
	board2, err := questService.ListQuests(ctx, p.ID, "")
	require.NoError(t, err)
	count := 0
	for _, q := range board2 {
		if q.TemplateID == templateID {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// Step 5: Partial progress keeps the quest ACTIVE.
	updated, event, err := questService.SubmitProgress(ctx, p.ID, inst.ID, 6000)
	require.NoError(t, err)
	assert.Equal(t, quest.StatusActive, updated.Status)
	assert.Nil(t, event)
	assert.InDelta(t, 60.0, updated.Percent, 0.001)

	// Step 6: Reaching the threshold completes and awards XP.
	updated, event, err = questService.SubmitProgress(ctx, p.ID, inst.ID, 10000)
	require.NoError(t, err)
	assert.Equal(t, quest.StatusCompleted, updated.Status)
	require.NotNil(t, event)
	assert.Greater(t, event.FinalAmount, 0)

	profile, err := playerService.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, event.FinalAmount, profile.Player.TotalXP)
	assert.Equal(t, 5, profile.Player.Stats.Vitality)

	// Step 7: A completed quest rejects further progress.
	_, _, err = questService.SubmitProgress(ctx, p.ID, inst.ID, 12000)
	assert.True(t, apperr.IsConflict(err))

	// Step 8: Close the day. Every core quest completed, so it qualifies.
	result, err := dayService.CloseDay(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, result.Qualified)

	profile, err = playerService.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Player.Streak.Current)

	// Step 9: The close is irreversible.
	_, err = dayService.CloseDay(ctx, p.ID)
	assert.True(t, apperr.IsConflict(err))

	// Step 10: So is the closed board: no more submissions.
	_, _, err = questService.SubmitProgress(ctx, p.ID, inst.ID, 15000)
	assert.True(t, apperr.IsConflict(err))
}
