package progression

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"ironpathAPI/internal/quest"
)

func TestXPRequiredForLevel(t *testing.T) {
	c := NewCurve(DefaultCurveCoefficient)

	assert.Equal(t, 0, c.XPRequiredForLevel(0))
	assert.Equal(t, 100, c.XPRequiredForLevel(1))
	// 100 * 2^1.5 = 282.84..., rounded up
	assert.Equal(t, 283, c.XPRequiredForLevel(2))
	assert.Equal(t, 520, c.XPRequiredForLevel(3))

	// Thresholds are strictly increasing.
	prev := 0
	for l := 1; l <= 50; l++ {
		req := c.XPRequiredForLevel(l)
		assert.Greater(t, req, prev, "level %d", l)
		prev = req
	}
}

func TestLevelForTotalXP(t *testing.T) {
	c := NewCurve(DefaultCurveCoefficient)

	assert.Equal(t, 0, c.LevelForTotalXP(0))
	assert.Equal(t, 0, c.LevelForTotalXP(99))
	assert.Equal(t, 1, c.LevelForTotalXP(100))
	assert.Equal(t, 1, c.LevelForTotalXP(282))
	assert.Equal(t, 2, c.LevelForTotalXP(283))

	// Exactly at a threshold means the level is reached.
	for l := 1; l <= 30; l++ {
		req := c.XPRequiredForLevel(l)
		assert.Equal(t, l, c.LevelForTotalXP(req))
		assert.Equal(t, l-1, c.LevelForTotalXP(req-1))
	}
}

func TestLevelsCrossed(t *testing.T) {
	assert.Nil(t, LevelsCrossed(5, 5))
	assert.Nil(t, LevelsCrossed(5, 3))
	assert.Equal(t, []int{6}, LevelsCrossed(5, 6))
	assert.Equal(t, []int{4, 5, 6}, LevelsCrossed(3, 6))
}

func TestLevelCrossingWithSmallCurve(t *testing.T) {
	// Curve tuned so 950 XP sits below a 1000 XP threshold: coef 10 gives
	// threshold(21) = ceil(10 * 21^1.5) = 963, threshold(22) = 1032.
	c := NewCurve(10)

	before := c.LevelForTotalXP(950)
	after := c.LevelForTotalXP(1050)
	assert.Equal(t, 20, before)
	assert.Equal(t, 22, after)
	assert.Equal(t, []int{21, 22}, LevelsCrossed(before, after))
}

func TestActiveModifiersOrderAndGating(t *testing.T) {
	cfg := ModifierConfig{WeekendBonus: 1.5, HardModeBonus: 1.25, SeasonalBonus: 1.1}
	saturday := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mods := ActiveModifiers(saturday, true, 15, cfg)
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	assert.Equal(t, []string{ModifierWeekend, ModifierHardMode, ModifierStreakTier, ModifierSeasonal}, names)

	// Streak tier picks the highest reached threshold.
	assert.Equal(t, 1.10, mods[2].Multiplier)

	monday := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	mods = ActiveModifiers(monday, false, 3, cfg)
	assert.Len(t, mods, 1)
	assert.Equal(t, ModifierSeasonal, mods[0].Name)

	// A multiplier of 1 disables its slot entirely.
	mods = ActiveModifiers(saturday, true, 0, ModifierConfig{WeekendBonus: 1, HardModeBonus: 1, SeasonalBonus: 1})
	assert.Empty(t, mods)
}

func TestSortModifiersIsStableOrder(t *testing.T) {
	mods := []Modifier{
		{Name: ModifierSeasonal, Multiplier: 1.1},
		{Name: ModifierWeekend, Multiplier: 1.5},
		{Name: ModifierHardMode, Multiplier: 1.25},
	}
	sorted := SortModifiers(mods)
	assert.Equal(t, ModifierWeekend, sorted[0].Name)
	assert.Equal(t, ModifierHardMode, sorted[1].Name)
	assert.Equal(t, ModifierSeasonal, sorted[2].Name)
	// Input slice untouched.
	assert.Equal(t, ModifierSeasonal, mods[0].Name)
}

func TestBaseAmount(t *testing.T) {
	tmpl := &quest.Template{BaseXP: 50, StatBonus: 10}

	// 50 + 10*(1 + 4*0.05) = 62
	assert.Equal(t, 62, BaseAmount(tmpl, 4, 100))

	// Partial credit scales linearly and floors.
	assert.Equal(t, 37, BaseAmount(tmpl, 4, 60))

	assert.Equal(t, 0, BaseAmount(tmpl, 4, 0))
	assert.Equal(t, 62, BaseAmount(tmpl, 4, 140))
}

func TestFinalAmountFloorsOnce(t *testing.T) {
	mods := []Modifier{
		{Name: ModifierWeekend, Multiplier: 1.5},
		{Name: ModifierStreakTier, Multiplier: 1.05},
	}
	// 62 * 1.5 * 1.05 = 97.65
	assert.Equal(t, 97, FinalAmount(62, mods))
	assert.Equal(t, 62, FinalAmount(62, nil))
}

func TestReversalOffsetsOriginal(t *testing.T) {
	original := &XPEvent{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Source:      SourceQuestCompletion,
		BaseAmount:  62,
		FinalAmount: 97,
		Modifiers:   []Modifier{{Name: ModifierWeekend, Multiplier: 1.5}},
	}

	rev := Reversal(original)
	assert.Equal(t, SourceReversal, rev.Source)
	assert.Equal(t, -62, rev.BaseAmount)
	assert.Equal(t, -97, rev.FinalAmount)
	assert.Equal(t, original.ID, *rev.ReversesID)
	assert.Equal(t, original.FinalAmount+rev.FinalAmount, 0)
}
