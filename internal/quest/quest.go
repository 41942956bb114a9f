package quest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Category string
type Cadence string
type Stat string
type RequirementType string
type Operator string
type InstanceStatus string

const (
	CategoryMovement   Category = "movement"
	CategoryStrength   Category = "strength"
	CategoryRecovery   Category = "recovery"
	CategoryNutrition  Category = "nutrition"
	CategoryDiscipline Category = "discipline"

	CadenceDaily    Cadence = "DAILY"
	CadenceWeekly   Cadence = "WEEKLY"
	CadenceRotating Cadence = "ROTATING"
	CadenceBonus    Cadence = "BONUS"
	CadenceDungeon  Cadence = "DUNGEON"
	CadenceBoss     Cadence = "BOSS"

	StatStrength   Stat = "strength"
	StatAgility    Stat = "agility"
	StatVitality   Stat = "vitality"
	StatDiscipline Stat = "discipline"

	RequirementNumeric   RequirementType = "NUMERIC"
	RequirementBoolean   RequirementType = "BOOLEAN"
	RequirementTimeBound RequirementType = "TIME_BOUND"

	OperatorGTE Operator = "GTE"
	OperatorGT  Operator = "GT"
	OperatorLTE Operator = "LTE"
	OperatorLT  Operator = "LT"
	OperatorEQ  Operator = "EQ"

	StatusActive    InstanceStatus = "ACTIVE"    // Still open for progress
	StatusCompleted InstanceStatus = "COMPLETED" // Requirement fully met
	StatusFailed    InstanceStatus = "FAILED"    // Missed with no partial credit
	StatusExpired   InstanceStatus = "EXPIRED"   // Day closed; partial credit may apply
)

// Terminal reports whether an instance status can no longer change without an
// explicit reset.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Requirement is the closed predicate vocabulary shared by quest templates
// and timed-run objectives. Deadline is a local "HH:MM" wall-clock time and
// only set for TIME_BOUND requirements.
type Requirement struct {
	Type      RequirementType `json:"type" db:"requirement_type"`
	Metric    string          `json:"metric" db:"metric"`
	Operator  Operator        `json:"operator,omitempty" db:"operator"`
	Threshold float64         `json:"threshold,omitempty" db:"threshold"`
	Deadline  string          `json:"deadline,omitempty" db:"deadline"`
}

// Template is an immutable quest definition owned by content configuration.
type Template struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	Description       string      `json:"description" db:"description"`
	Category          Category    `json:"category" db:"category"`
	Cadence           Cadence     `json:"cadence" db:"cadence"`
	Requirement       Requirement `json:"requirement"`
	BaseXP            int         `json:"baseXp" db:"base_xp"`
	Stat              Stat        `json:"stat" db:"stat"`
	StatBonus         int         `json:"statBonus" db:"stat_bonus"`
	PartialAllowed    bool        `json:"partialAllowed" db:"partial_allowed"`
	PartialMinPercent float64     `json:"partialMinPercent" db:"partial_min_percent"`
	Core              bool        `json:"core" db:"core"`
	RotationDay       int         `json:"rotationDay" db:"rotation_day"`
	Active            bool        `json:"active" db:"active"`
	CreatedAt         time.Time   `json:"createdAt" db:"created_at"`
}

// EligibleOn reports whether the template materializes an instance on the
// given local calendar day. Dungeon and boss templates never materialize as
// daily instances; they enter through timed runs.
func (t *Template) EligibleOn(d time.Time) bool {
	switch t.Cadence {
	case CadenceDaily, CadenceBonus:
		return true
	case CadenceWeekly:
		return int(d.Weekday()) == t.RotationDay%7
	case CadenceRotating:
		return d.YearDay()%7 == t.RotationDay%7
	default:
		return false
	}
}

// Instance binds a template to one user and one local calendar date. Never
// deleted, only transitioned.
type Instance struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	UserID       uuid.UUID      `json:"userId" db:"user_id"`
	TemplateID   uuid.UUID      `json:"templateId" db:"template_id"`
	Date         string         `json:"date" db:"date"`
	Status       InstanceStatus `json:"status" db:"status"`
	CurrentValue float64        `json:"currentValue" db:"current_value"`
	TargetValue  float64        `json:"targetValue" db:"target_value"`
	Percent      float64        `json:"percent" db:"percent"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
	XPAwarded    *int           `json:"xpAwarded,omitempty" db:"xp_awarded"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

type InstanceWithTemplate struct {
	Instance
	Template *Template `json:"template"`
}

type Evaluation struct {
	Status  InstanceStatus `json:"status"`
	Percent float64        `json:"percent"`
}

// ApplyProgress merges a submitted value into the recorded one. Numeric
// metrics come from cumulative counters, so a lower re-submission never
// decreases recorded progress. Boolean (and time-bound) metrics overwrite.
func (r Requirement) ApplyProgress(current, submitted float64) float64 {
	if r.Type == RequirementNumeric {
		return math.Max(current, submitted)
	}
	if submitted != 0 {
		return 1
	}
	return 0
}

// Evaluate judges recorded progress against the requirement. submittedAt must
// already be in the user's local zone; it only matters for TIME_BOUND
// requirements. Percent 100 always means COMPLETED.
func (r Requirement) Evaluate(current float64, submittedAt time.Time) Evaluation {
	percent := r.percent(current, submittedAt)
	if percent >= 100 {
		return Evaluation{Status: StatusCompleted, Percent: 100}
	}
	return Evaluation{Status: StatusActive, Percent: percent}
}

func (r Requirement) percent(current float64, submittedAt time.Time) float64 {
	switch r.Type {
	case RequirementNumeric:
		return r.numericPercent(current)
	case RequirementBoolean:
		if current != 0 {
			return 100
		}
		return 0
	case RequirementTimeBound:
		if current == 0 {
			return 0
		}
		deadline, err := r.DeadlineOn(submittedAt)
		if err != nil || !submittedAt.Before(deadline) {
			// A completion logged after the deadline does not count; the
			// instance stays open and fails at close.
			return 0
		}
		return 100
	default:
		return 0
	}
}

func (r Requirement) numericPercent(current float64) float64 {
	switch r.Operator {
	case OperatorGTE, OperatorGT:
		if r.Threshold <= 0 {
			return 100
		}
		p := current / r.Threshold * 100
		if r.Operator == OperatorGT && current <= r.Threshold {
			// current == threshold satisfies GTE but not GT; keep the
			// percent below 100 so the status stays ACTIVE.
			p = math.Min(p, 99)
		}
		return math.Min(p, 100)
	case OperatorLTE:
		if current <= r.Threshold {
			return 100
		}
		return 0
	case OperatorLT:
		if current < r.Threshold {
			return 100
		}
		return 0
	case OperatorEQ:
		if current == r.Threshold {
			return 100
		}
		return 0
	default:
		return 0
	}
}

// DeadlineOn resolves the "HH:MM" deadline onto the calendar day of t, in
// t's location.
func (r Requirement) DeadlineOn(t time.Time) (time.Time, error) {
	parts := strings.SplitN(r.Deadline, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid deadline %q", r.Deadline)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("invalid deadline hour %q", r.Deadline)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid deadline minute %q", r.Deadline)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location()), nil
}

// Validate rejects malformed requirements at template load time rather than
// at evaluation time.
func (r Requirement) Validate() error {
	if r.Metric == "" {
		return fmt.Errorf("requirement metric is empty")
	}
	switch r.Type {
	case RequirementNumeric:
		switch r.Operator {
		case OperatorGTE, OperatorGT, OperatorLTE, OperatorLT, OperatorEQ:
		default:
			return fmt.Errorf("invalid numeric operator %q", r.Operator)
		}
		if r.Threshold < 0 {
			return fmt.Errorf("numeric threshold must not be negative")
		}
	case RequirementBoolean:
	case RequirementTimeBound:
		if _, err := r.DeadlineOn(time.Now()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid requirement type %q", r.Type)
	}
	return nil
}

// PartialEligible reports whether an ACTIVE instance at the given percent
// earns reduced proportional XP at day close. fallbackMin applies when the
// template allows partial credit without configuring its own minimum.
func (t *Template) PartialEligible(percent, fallbackMin float64) bool {
	if !t.PartialAllowed || percent >= 100 {
		return false
	}
	minPercent := t.PartialMinPercent
	if minPercent <= 0 {
		minPercent = fallbackMin
	}
	return percent >= minPercent
}
