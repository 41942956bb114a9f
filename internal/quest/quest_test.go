package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyProgressNumericIsMonotonic(t *testing.T) {
	r := Requirement{Type: RequirementNumeric, Metric: "steps", Operator: OperatorGTE, Threshold: 10000}

	current := r.ApplyProgress(0, 6000)
	assert.Equal(t, 6000.0, current)

	// A stale counter read must never walk progress backwards.
	current = r.ApplyProgress(current, 4000)
	assert.Equal(t, 6000.0, current)

	current = r.ApplyProgress(current, 10000)
	assert.Equal(t, 10000.0, current)
}

func TestApplyProgressBooleanOverwrites(t *testing.T) {
	r := Requirement{Type: RequirementBoolean, Metric: "stretched"}

	assert.Equal(t, 1.0, r.ApplyProgress(0, 5))
	assert.Equal(t, 0.0, r.ApplyProgress(1, 0))
}

func TestEvaluateNumericGTE(t *testing.T) {
	r := Requirement{Type: RequirementNumeric, Metric: "steps", Operator: OperatorGTE, Threshold: 10000}
	now := time.Now()

	ev := r.Evaluate(6000, now)
	assert.Equal(t, StatusActive, ev.Status)
	assert.InDelta(t, 60.0, ev.Percent, 0.001)

	ev = r.Evaluate(10000, now)
	assert.Equal(t, StatusCompleted, ev.Status)
	assert.Equal(t, 100.0, ev.Percent)

	ev = r.Evaluate(14000, now)
	assert.Equal(t, StatusCompleted, ev.Status)
	assert.Equal(t, 100.0, ev.Percent)
}

func TestEvaluateNumericGTAtThresholdStaysActive(t *testing.T) {
	r := Requirement{Type: RequirementNumeric, Metric: "pushups", Operator: OperatorGT, Threshold: 50}
	now := time.Now()

	ev := r.Evaluate(50, now)
	assert.Equal(t, StatusActive, ev.Status)
	assert.Less(t, ev.Percent, 100.0)

	ev = r.Evaluate(51, now)
	assert.Equal(t, StatusCompleted, ev.Status)
}

func TestEvaluateNumericUpperBound(t *testing.T) {
	r := Requirement{Type: RequirementNumeric, Metric: "screen_minutes", Operator: OperatorLTE, Threshold: 120}
	now := time.Now()

	assert.Equal(t, StatusCompleted, r.Evaluate(90, now).Status)
	assert.Equal(t, StatusCompleted, r.Evaluate(120, now).Status)
	assert.Equal(t, StatusActive, r.Evaluate(121, now).Status)
	assert.Equal(t, 0.0, r.Evaluate(121, now).Percent)
}

func TestEvaluateTimeBound(t *testing.T) {
	r := Requirement{Type: RequirementTimeBound, Metric: "woke_up", Deadline: "07:00"}
	loc, err := time.LoadLocation("Europe/Sofia")
	require.NoError(t, err)

	before := time.Date(2026, 3, 10, 6, 45, 0, 0, loc)
	after := time.Date(2026, 3, 10, 7, 15, 0, 0, loc)

	assert.Equal(t, StatusCompleted, r.Evaluate(1, before).Status)
	assert.Equal(t, StatusActive, r.Evaluate(1, after).Status)
	assert.Equal(t, StatusActive, r.Evaluate(0, before).Status)
}

func TestRequirementValidate(t *testing.T) {
	valid := Requirement{Type: RequirementNumeric, Metric: "steps", Operator: OperatorGTE, Threshold: 10000}
	assert.NoError(t, valid.Validate())

	noMetric := Requirement{Type: RequirementBoolean}
	assert.Error(t, noMetric.Validate())

	badOperator := Requirement{Type: RequirementNumeric, Metric: "steps", Operator: "BETWEEN"}
	assert.Error(t, badOperator.Validate())

	badDeadline := Requirement{Type: RequirementTimeBound, Metric: "woke_up", Deadline: "25:99"}
	assert.Error(t, badDeadline.Validate())
}

func TestEligibleOn(t *testing.T) {
	// 2026-03-09 is a Monday.
	monday := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)

	daily := &Template{Cadence: CadenceDaily}
	assert.True(t, daily.EligibleOn(monday))
	assert.True(t, daily.EligibleOn(tuesday))

	weekly := &Template{Cadence: CadenceWeekly, RotationDay: 1}
	assert.True(t, weekly.EligibleOn(monday))
	assert.False(t, weekly.EligibleOn(tuesday))

	rotating := &Template{Cadence: CadenceRotating, RotationDay: monday.YearDay() % 7}
	assert.True(t, rotating.EligibleOn(monday))
	assert.False(t, rotating.EligibleOn(tuesday))

	dungeon := &Template{Cadence: CadenceDungeon}
	assert.False(t, dungeon.EligibleOn(monday))
}

func TestPartialEligible(t *testing.T) {
	tmpl := &Template{PartialAllowed: true, PartialMinPercent: 50}

	assert.True(t, tmpl.PartialEligible(60, 40))
	assert.False(t, tmpl.PartialEligible(49, 40))
	assert.False(t, tmpl.PartialEligible(100, 40))

	noPartial := &Template{PartialAllowed: false}
	assert.False(t, noPartial.PartialEligible(90, 40))

	fallback := &Template{PartialAllowed: true}
	assert.True(t, fallback.PartialEligible(45, 40))
	assert.False(t, fallback.PartialEligible(35, 40))
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusExpired.Terminal())
}
