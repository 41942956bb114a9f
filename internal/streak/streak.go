package streak

import (
	"time"
)

// Outcome summarizes a day's core quest instances at close time.
type Outcome struct {
	CoreTotal     int `json:"coreTotal"`
	CoreCompleted int `json:"coreCompleted"`
	CorePartial   int `json:"corePartial"`
}

// Qualifies reports whether the day keeps the streak alive: at least
// threshold of core instances finished COMPLETED or allowed-partial. A day
// with no core instances has nothing to miss and qualifies.
func (o Outcome) Qualifies(threshold float64) bool {
	if o.CoreTotal == 0 {
		return true
	}
	return float64(o.CoreCompleted+o.CorePartial)/float64(o.CoreTotal) >= threshold
}

// Perfect requires every core instance fully COMPLETED, partials excluded.
func (o Outcome) Perfect() bool {
	return o.CoreTotal > 0 && o.CoreCompleted == o.CoreTotal
}

// State is the streak bookkeeping carried on the player row. BrokenStreak
// parks the pre-break value while the recovery window is open; recovery is
// one-shot per break and the window expires irreversibly.
type State struct {
	Current          int        `json:"current" db:"current_streak"`
	Longest          int        `json:"longest" db:"longest_streak"`
	Perfect          int        `json:"perfect" db:"perfect_streak"`
	GraceTokens      int        `json:"graceTokens" db:"grace_tokens"`
	BrokenStreak     int        `json:"brokenStreak" db:"broken_streak"`
	RecoverableUntil *time.Time `json:"recoverableUntil,omitempty" db:"recoverable_until"`
}

// Advance records a qualifying day. Tokens regenerate after every tokenEvery
// consecutive qualifying days, capped at tokenCap. Longest is a monotonic
// high-water mark. An open recovery window from an earlier break lapses: the
// streak continued from its reset value, so the parked one is gone.
func (s *State) Advance(perfect bool, tokenEvery, tokenCap int) {
	s.Current++
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	if perfect {
		s.Perfect++
	} else {
		s.Perfect = 0
	}
	if tokenEvery > 0 && s.Current%tokenEvery == 0 && s.GraceTokens < tokenCap {
		s.GraceTokens++
	}
	s.BrokenStreak = 0
	s.RecoverableUntil = nil
}

// Break records a non-qualifying day: the current value is parked for
// recovery until the given deadline and the live streak resets to zero.
func (s *State) Break(recoverableUntil time.Time) {
	s.BrokenStreak = s.Current
	s.Current = 0
	s.Perfect = 0
	until := recoverableUntil
	s.RecoverableUntil = &until
}

// CanRecover reports whether a grace recovery is still possible.
func (s *State) CanRecover(now time.Time) bool {
	return s.BrokenStreak > 0 &&
		s.GraceTokens > 0 &&
		s.RecoverableUntil != nil &&
		now.Before(*s.RecoverableUntil)
}

// Recover consumes one grace token and restores the parked streak value
// unchanged. Returns false when no recovery is possible (already used, no
// tokens, or window closed).
func (s *State) Recover(now time.Time) bool {
	if !s.CanRecover(now) {
		return false
	}
	s.GraceTokens--
	s.Current = s.BrokenStreak
	s.BrokenStreak = 0
	s.RecoverableUntil = nil
	return true
}
