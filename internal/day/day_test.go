package day

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseAt(t *testing.T) {
	cases := []struct {
		hour int
		want Phase
	}{
		{0, PhaseMorning},
		{10, PhaseMorning},
		{11, PhaseMidday},
		{13, PhaseMidday},
		{14, PhaseAfternoon},
		{16, PhaseAfternoon},
		{17, PhaseEvening},
		{20, PhaseEvening},
		{21, PhaseNight},
		{23, PhaseNight},
	}
	for _, tc := range cases {
		local := time.Date(2026, 3, 10, tc.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tc.want, PhaseAt(local), "hour %d", tc.hour)
	}
}

func TestDateKeyUsesLocalCalendar(t *testing.T) {
	sofia, err := time.LoadLocation("Europe/Sofia")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Sofia.
	utc := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-10", DateKey(utc))
	assert.Equal(t, "2026-03-11", DateKey(utc.In(sofia)))
}

func TestParseDateKey(t *testing.T) {
	d, err := ParseDateKey("2026-03-10", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.March, d.Month())
	assert.Equal(t, 10, d.Day())

	_, err = ParseDateKey("10/03/2026", time.UTC)
	assert.Error(t, err)
}

func TestNextMidnight(t *testing.T) {
	local := time.Date(2026, 3, 10, 18, 45, 12, 0, time.UTC)
	next := NextMidnight(local)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestMinutesToMidnight(t *testing.T) {
	local := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, 60, MinutesToMidnight(local))

	local = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1440, MinutesToMidnight(local))
}

func TestReconciliationDue(t *testing.T) {
	assert.True(t, ReconciliationDue(PhaseEvening, 2))
	assert.True(t, ReconciliationDue(PhaseNight, 1))
	assert.False(t, ReconciliationDue(PhaseEvening, 0))
	assert.False(t, ReconciliationDue(PhaseMorning, 3))
	assert.False(t, ReconciliationDue(PhaseAfternoon, 3))
}
