package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironpathAPI/services"
	"ironpathAPI/tests/helpers"
)

// TestNewPlayerProfileReadback reads a freshly provisioned player straight
// back. The row must scan cleanly with every streak field at its zero value;
// a registration leaving any column unset would fail here on the first read.
func TestNewPlayerProfileReadback(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	cfg := testConfig()
	progressionService := services.NewProgressionService(cfg)
	playerService := services.NewPlayerService(pool, nil, progressionService, cfg)

	ctx := context.Background()

	username := "test_readback_" + time.Now().Format("20060102150405")
	p, err := playerService.CreatePlayer(ctx, username, "UTC")
	require.NoError(t, err)

	profile, err := playerService.GetProfile(ctx, p.ID)
	require.NoError(t, err)

	got := profile.Player
	assert.Equal(t, 0, got.Level)
	assert.Equal(t, 0, got.TotalXP)
	assert.Equal(t, 0, got.Streak.Current)
	assert.Equal(t, 0, got.Streak.GraceTokens)
	assert.Equal(t, 0, got.Streak.BrokenStreak)
	assert.Nil(t, got.Streak.RecoverableUntil)
	assert.Empty(t, got.Titles)
}
