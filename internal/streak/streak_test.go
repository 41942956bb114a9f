package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeQualifies(t *testing.T) {
	// 4 of 5 core quests at the 0.8 threshold is exactly enough.
	o := Outcome{CoreTotal: 5, CoreCompleted: 4}
	assert.True(t, o.Qualifies(0.8))

	o = Outcome{CoreTotal: 5, CoreCompleted: 3}
	assert.False(t, o.Qualifies(0.8))

	// Allowed partials count toward qualification.
	o = Outcome{CoreTotal: 5, CoreCompleted: 3, CorePartial: 1}
	assert.True(t, o.Qualifies(0.8))

	// A day with no core quests has nothing to miss.
	assert.True(t, Outcome{}.Qualifies(0.8))
}

func TestOutcomePerfect(t *testing.T) {
	assert.True(t, Outcome{CoreTotal: 3, CoreCompleted: 3}.Perfect())
	assert.False(t, Outcome{CoreTotal: 3, CoreCompleted: 2, CorePartial: 1}.Perfect())
	assert.False(t, Outcome{}.Perfect())
}

func TestAdvance(t *testing.T) {
	s := &State{Current: 5, Longest: 10}

	s.Advance(true, 7, 3)
	assert.Equal(t, 6, s.Current)
	assert.Equal(t, 10, s.Longest)
	assert.Equal(t, 1, s.Perfect)
	assert.Equal(t, 0, s.GraceTokens)

	// Day 7 mints a token.
	s.Advance(false, 7, 3)
	assert.Equal(t, 7, s.Current)
	assert.Equal(t, 0, s.Perfect)
	assert.Equal(t, 1, s.GraceTokens)
}

func TestAdvanceTokenCap(t *testing.T) {
	s := &State{Current: 6, GraceTokens: 3}

	s.Advance(false, 7, 3)
	assert.Equal(t, 7, s.Current)
	assert.Equal(t, 3, s.GraceTokens)
}

func TestAdvanceUpdatesLongest(t *testing.T) {
	s := &State{Current: 10, Longest: 10}
	s.Advance(false, 7, 3)
	assert.Equal(t, 11, s.Longest)
}

func TestAdvanceLapsesOpenRecoveryWindow(t *testing.T) {
	until := time.Now().Add(24 * time.Hour)
	s := &State{Current: 1, BrokenStreak: 12, RecoverableUntil: &until, GraceTokens: 1}

	s.Advance(false, 7, 3)
	assert.Equal(t, 0, s.BrokenStreak)
	assert.Nil(t, s.RecoverableUntil)
}

func TestBreakAndRecover(t *testing.T) {
	now := time.Now()
	deadline := now.Add(48 * time.Hour)

	s := &State{Current: 12, Longest: 12, Perfect: 4, GraceTokens: 2}
	s.Break(deadline)

	assert.Equal(t, 0, s.Current)
	assert.Equal(t, 0, s.Perfect)
	assert.Equal(t, 12, s.BrokenStreak)
	assert.Equal(t, 12, s.Longest)

	assert.True(t, s.CanRecover(now))
	assert.True(t, s.Recover(now))

	assert.Equal(t, 12, s.Current)
	assert.Equal(t, 1, s.GraceTokens)
	assert.Equal(t, 0, s.BrokenStreak)
	assert.Nil(t, s.RecoverableUntil)

	// Recovery is one-shot per break.
	assert.False(t, s.Recover(now))
}

func TestRecoverWithoutTokens(t *testing.T) {
	deadline := time.Now().Add(48 * time.Hour)
	s := &State{Current: 9}
	s.Break(deadline)

	assert.False(t, s.Recover(time.Now()))
	assert.Equal(t, 0, s.Current)
	assert.Equal(t, 9, s.BrokenStreak)
}

func TestRecoverAfterWindowCloses(t *testing.T) {
	now := time.Now()
	s := &State{Current: 9, GraceTokens: 1}
	s.Break(now.Add(time.Hour))

	late := now.Add(2 * time.Hour)
	assert.False(t, s.CanRecover(late))
	assert.False(t, s.Recover(late))
	assert.Equal(t, 1, s.GraceTokens)
}
