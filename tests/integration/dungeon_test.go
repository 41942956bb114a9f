package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/quest"
	"ironpathAPI/internal/timedrun"
	"ironpathAPI/services"
	"ironpathAPI/tests/helpers"
)

// TestSingleActiveRunConflict holds one run slot per player: a second entry
// while a run is live is rejected, and a terminal resolution frees the slot.
func TestSingleActiveRunConflict(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	cfg := testConfig()
	locks := services.NewUserLocks()
	progressionService := services.NewProgressionService(cfg)
	dungeonService := services.NewDungeonService(pool, progressionService, locks, cfg)
	playerService := services.NewPlayerService(pool, nil, progressionService, cfg)

	ctx := context.Background()

	username := "test_dungeon_" + time.Now().Format("20060102150405")
	p, err := playerService.CreatePlayer(ctx, username, "UTC")
	require.NoError(t, err)

	objectives, err := json.Marshal([]timedrun.ObjectiveSpec{
		{
			Label: "Squats",
			Requirement: quest.Requirement{
				Type:      quest.RequirementNumeric,
				Metric:    "squats",
				Operator:  quest.OperatorGTE,
				Threshold: 60,
			},
			Target: 100,
		},
	})
	require.NoError(t, err)

	defID := uuid.New()
	_, err = pool.Exec(ctx, `
	INSERT INTO run_definitions (id, name, rank, tier, boss, duration_seconds,
		required_level, requires_clear, reward_xp, reward_title, objectives, active)
	VALUES ($1, 'Goblin Cellar (conflict test)', 'E', 1, false, 3600,
		0, NULL, 200, '', $2, true)
	`, defID, objectives)
	require.NoError(t, err)
	defer func() {
		pool.Exec(ctx, `DELETE FROM timed_runs WHERE definition_id = $1`, defID)
		pool.Exec(ctx, `DELETE FROM run_definitions WHERE id = $1`, defID)
	}()

	run, err := dungeonService.Enter(ctx, p.ID, defID)
	require.NoError(t, err)
	assert.Equal(t, timedrun.StatusActive, run.Status)

	// Second entry while the first run is live.
	_, err = dungeonService.Enter(ctx, p.ID, defID)
	assert.True(t, apperr.IsConflict(err))

	// Abandoning is terminal and releases the slot.
	abandoned, err := dungeonService.Abandon(ctx, p.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, timedrun.StatusAbandoned, abandoned.Status)

	rerun, err := dungeonService.Enter(ctx, p.ID, defID)
	require.NoError(t, err)
	assert.Equal(t, timedrun.StatusActive, rerun.Status)
	assert.NotEqual(t, run.ID, rerun.ID)
}
