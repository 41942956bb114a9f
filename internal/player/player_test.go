package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsScoreAndAdd(t *testing.T) {
	s := &Stats{Strength: 4, Discipline: 2}

	assert.Equal(t, 4, s.Score("strength"))
	assert.Equal(t, 0, s.Score("agility"))
	assert.Equal(t, 0, s.Score("unknown"))

	s.Add("strength", 1)
	assert.Equal(t, 5, s.Strength)

	// Reversals floor at zero rather than going negative.
	s.Add("discipline", -5)
	assert.Equal(t, 0, s.Discipline)

	s.Add("unknown", 3)
	assert.Equal(t, Stats{Strength: 5}, *s)
}

func TestHasTitle(t *testing.T) {
	p := &Player{Titles: []string{"Gate Breaker"}}

	assert.True(t, p.HasTitle("Gate Breaker"))
	assert.False(t, p.HasTitle("Shadow Monarch"))
}
