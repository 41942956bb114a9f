package player

import (
	"time"

	"github.com/google/uuid"

	"ironpathAPI/internal/streak"
)

// Player is the lifetime aggregate, one row per user. It is only mutated
// through the progression ledger and the streak manager, under per-user
// serialization.
type Player struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Timezone  string    `json:"timezone" db:"timezone"`
	Level     int       `json:"level" db:"level"`
	TotalXP   int       `json:"totalXp" db:"total_xp"`
	HardMode  bool      `json:"hardMode" db:"hard_mode"`
	Titles    []string  `json:"titles" db:"titles"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Stats  Stats        `json:"stats"`
	Streak streak.State `json:"streak"`
}

// Stats are the four trainable scores. A quest's stat bonus lands here on
// completion and is removed again on reset.
type Stats struct {
	Strength   int `json:"strength" db:"stat_strength"`
	Agility    int `json:"agility" db:"stat_agility"`
	Vitality   int `json:"vitality" db:"stat_vitality"`
	Discipline int `json:"discipline" db:"stat_discipline"`
}

// Score returns the current value of the named stat; unknown names score 0.
func (s *Stats) Score(name string) int {
	switch name {
	case "strength":
		return s.Strength
	case "agility":
		return s.Agility
	case "vitality":
		return s.Vitality
	case "discipline":
		return s.Discipline
	default:
		return 0
	}
}

// Add applies delta to the named stat, flooring at zero.
func (s *Stats) Add(name string, delta int) {
	apply := func(v int) int {
		v += delta
		if v < 0 {
			v = 0
		}
		return v
	}
	switch name {
	case "strength":
		s.Strength = apply(s.Strength)
	case "agility":
		s.Agility = apply(s.Agility)
	case "vitality":
		s.Vitality = apply(s.Vitality)
	case "discipline":
		s.Discipline = apply(s.Discipline)
	}
}

// HasTitle reports whether the player already earned the given title.
func (p *Player) HasTitle(title string) bool {
	for _, t := range p.Titles {
		if t == title {
			return true
		}
	}
	return false
}
