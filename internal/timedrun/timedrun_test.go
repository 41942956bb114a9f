package timedrun

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironpathAPI/internal/quest"
)

func testDefinition() *Definition {
	return &Definition{
		ID:       uuid.New(),
		Name:     "Iron Temple",
		Rank:     "C",
		Tier:     2,
		Duration: 45 * time.Minute,
		RewardXP: 400,
		Objectives: []ObjectiveSpec{
			{
				Label:       "Squats",
				Requirement: quest.Requirement{Type: quest.RequirementNumeric, Metric: "squats", Operator: quest.OperatorGTE, Threshold: 60},
				Target:      100,
			},
			{
				Label:       "Plank",
				Requirement: quest.Requirement{Type: quest.RequirementBoolean, Metric: "plank_held"},
			},
		},
		Active: true,
	}
}

func TestNewRun(t *testing.T) {
	def := testDefinition()
	now := time.Now()
	userID := uuid.New()

	run := NewRun(userID, def, now)

	assert.Equal(t, userID, run.UserID)
	assert.Equal(t, def.ID, run.DefinitionID)
	assert.Equal(t, StatusActive, run.Status)
	assert.Equal(t, now.Add(45*time.Minute), run.ExpiresAt)
	require.Len(t, run.Objectives, 2)

	// The explicit target overrides the reusable predicate's threshold.
	assert.Equal(t, 100.0, run.Objectives[0].Target)
	assert.Equal(t, 100.0, run.Objectives[0].Requirement.Threshold)
	assert.Equal(t, 0.0, run.Objectives[0].Current)
}

func TestNewRunTargetDefaultsToThreshold(t *testing.T) {
	def := testDefinition()
	def.Objectives[0].Target = 0

	run := NewRun(uuid.New(), def, time.Now())
	assert.Equal(t, 60.0, run.Objectives[0].Target)
	assert.Equal(t, 60.0, run.Objectives[0].Requirement.Threshold)
}

func TestExpiredAt(t *testing.T) {
	now := time.Now()
	run := NewRun(uuid.New(), testDefinition(), now)

	assert.False(t, run.ExpiredAt(now))
	assert.False(t, run.ExpiredAt(now.Add(44*time.Minute)))
	assert.True(t, run.ExpiredAt(now.Add(45*time.Minute)))
	assert.True(t, run.ExpiredAt(now.Add(time.Hour)))
}

func TestProgressAndComplete(t *testing.T) {
	run := NewRun(uuid.New(), testDefinition(), time.Now())

	assert.Equal(t, 0.0, run.Progress())
	assert.False(t, run.Complete())

	run.Objectives[0].Current = 50
	assert.InDelta(t, 25.0, run.Progress(), 0.01)

	run.Objectives[1].Current = 1
	assert.InDelta(t, 75.0, run.Progress(), 0.01)
	assert.False(t, run.Complete())

	run.Objectives[0].Current = 100
	assert.Equal(t, 100.0, run.Progress())
	assert.True(t, run.Complete())
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusAbandoned.Terminal())
}
