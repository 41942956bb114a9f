package progression

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"ironpathAPI/internal/quest"
)

const (
	// DefaultCurveCoefficient is the default for XP_req = coef * (Level^1.5).
	DefaultCurveCoefficient = 100.0

	// CurveExponent shapes the level curve; cumulative thresholds are
	// strictly increasing for any positive coefficient.
	CurveExponent = 1.5

	// StatBonusRate is the per-stat-point scaling applied to a template's
	// stat bonus when computing the base award.
	StatBonusRate = 0.05
)

// Curve maps total XP to level. Level 0 requires 0 XP.
type Curve struct {
	Coefficient float64
}

func NewCurve(coefficient float64) Curve {
	if coefficient <= 0 {
		coefficient = DefaultCurveCoefficient
	}
	return Curve{Coefficient: coefficient}
}

// XPRequiredForLevel returns the cumulative XP threshold for the given level.
// Ceil keeps floating point rounding from ever making a threshold easier.
func (c Curve) XPRequiredForLevel(level int) int {
	if level <= 0 {
		return 0
	}
	return int(math.Ceil(c.Coefficient * math.Pow(float64(level), CurveExponent)))
}

// LevelForTotalXP returns the highest level L with totalXP >= threshold(L).
func (c Curve) LevelForTotalXP(totalXP int) int {
	if totalXP <= 0 {
		return 0
	}

	// Exponential search for an upper bound, then binary search.
	low := 0
	high := 1
	for c.XPRequiredForLevel(high) <= totalXP {
		low = high
		high *= 2
		if high > 1_000_000 {
			break
		}
	}

	for low+1 < high {
		mid := low + (high-low)/2
		if c.XPRequiredForLevel(mid) <= totalXP {
			low = mid
		} else {
			high = mid
		}
	}
	return low
}

// LevelsCrossed lists every level entered between two level readings, in
// ascending order, for milestone messaging. Empty when no level was gained.
func LevelsCrossed(before, after int) []int {
	if after <= before {
		return nil
	}
	crossed := make([]int, 0, after-before)
	for l := before + 1; l <= after; l++ {
		crossed = append(crossed, l)
	}
	return crossed
}

// Named modifier slots. ModifierOrder is the stacking order: multipliers are
// applied multiplicatively in exactly this sequence and the final amount is
// floor-rounded once at the end, so totals are reproducible.
const (
	ModifierWeekend    = "weekend_bonus"
	ModifierHardMode   = "hard_mode"
	ModifierStreakTier = "streak_tier"
	ModifierSeasonal   = "seasonal_bonus"
)

var ModifierOrder = []string{
	ModifierWeekend,
	ModifierHardMode,
	ModifierStreakTier,
	ModifierSeasonal,
}

type Modifier struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
}

// ModifierConfig carries the toggleable multiplier values; a multiplier of 1
// (or less than or equal to 0) disables its slot.
type ModifierConfig struct {
	WeekendBonus  float64
	HardModeBonus float64
	SeasonalBonus float64
}

// Streak tier thresholds: the longest tier the current streak reaches wins.
var streakTiers = []struct {
	MinDays    int
	Multiplier float64
}{
	{30, 1.15},
	{14, 1.10},
	{7, 1.05},
}

// ActiveModifiers assembles the modifier list for an award on the given local
// date, already sorted into ModifierOrder.
func ActiveModifiers(date time.Time, hardMode bool, currentStreak int, cfg ModifierConfig) []Modifier {
	var mods []Modifier
	if wd := date.Weekday(); (wd == time.Saturday || wd == time.Sunday) && enabled(cfg.WeekendBonus) {
		mods = append(mods, Modifier{Name: ModifierWeekend, Multiplier: cfg.WeekendBonus})
	}
	if hardMode && enabled(cfg.HardModeBonus) {
		mods = append(mods, Modifier{Name: ModifierHardMode, Multiplier: cfg.HardModeBonus})
	}
	for _, tier := range streakTiers {
		if currentStreak >= tier.MinDays {
			mods = append(mods, Modifier{Name: ModifierStreakTier, Multiplier: tier.Multiplier})
			break
		}
	}
	if enabled(cfg.SeasonalBonus) {
		mods = append(mods, Modifier{Name: ModifierSeasonal, Multiplier: cfg.SeasonalBonus})
	}
	return SortModifiers(mods)
}

func enabled(multiplier float64) bool {
	return multiplier > 0 && multiplier != 1
}

func modifierRank(name string) int {
	for i, n := range ModifierOrder {
		if n == name {
			return i
		}
	}
	return len(ModifierOrder)
}

// SortModifiers returns the modifiers in the documented stacking order.
func SortModifiers(mods []Modifier) []Modifier {
	out := make([]Modifier, len(mods))
	copy(out, mods)
	sort.SliceStable(out, func(i, j int) bool {
		return modifierRank(out[i].Name) < modifierRank(out[j].Name)
	})
	return out
}

// BaseAmount computes the unmodified award for a template: base XP plus the
// stat bonus scaled by the player's current score in the associated stat.
// Partial completions scale the whole base linearly by completion percent.
func BaseAmount(t *quest.Template, statScore int, percent float64) int {
	if percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	scaledBonus := float64(t.StatBonus) * (1 + float64(statScore)*StatBonusRate)
	base := (float64(t.BaseXP) + scaledBonus) * percent / 100
	return int(math.Floor(base))
}

// FinalAmount applies the modifier stack to a base amount. Multipliers
// compose multiplicatively in list order; the result is floor-rounded.
func FinalAmount(base int, mods []Modifier) int {
	amount := float64(base)
	for _, m := range mods {
		amount *= m.Multiplier
	}
	return int(math.Floor(amount))
}

type Source string

const (
	SourceQuestCompletion  Source = "QUEST_COMPLETION"
	SourceStreakBonus      Source = "STREAK_BONUS"
	SourceRunReward        Source = "RUN_REWARD"
	SourceManualAdjustment Source = "MANUAL_ADJUSTMENT"
	SourceReversal         Source = "REVERSAL"
)

// XPEvent is one append-only ledger row. A reset writes an offsetting
// negative event referencing the original; history is never edited.
type XPEvent struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"userId" db:"user_id"`
	Source      Source     `json:"source" db:"source"`
	ReferenceID *uuid.UUID `json:"referenceId,omitempty" db:"reference_id"`
	ReversesID  *uuid.UUID `json:"reversesId,omitempty" db:"reverses_id"`
	BaseAmount  int        `json:"baseAmount" db:"base_amount"`
	Modifiers   []Modifier `json:"modifiers" db:"modifiers"`
	FinalAmount int        `json:"finalAmount" db:"final_amount"`
	LevelBefore int        `json:"levelBefore" db:"level_before"`
	LevelAfter  int        `json:"levelAfter" db:"level_after"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// Reversal builds the offsetting event for ev. Level before/after are filled
// in by the caller once the player's new totals are known.
func Reversal(ev *XPEvent) *XPEvent {
	return &XPEvent{
		ID:          uuid.New(),
		UserID:      ev.UserID,
		Source:      SourceReversal,
		ReferenceID: ev.ReferenceID,
		ReversesID:  &ev.ID,
		BaseAmount:  -ev.BaseAmount,
		Modifiers:   ev.Modifiers,
		FinalAmount: -ev.FinalAmount,
	}
}
