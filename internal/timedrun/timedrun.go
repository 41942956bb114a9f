package timedrun

import (
	"math"
	"time"

	"github.com/google/uuid"

	"ironpathAPI/internal/quest"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal statuses release the single-active-run slot.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusAbandoned
}

// Definition is the content configuration for a dungeon or boss: objectives,
// a hard time budget independent of calendar days, unlock prerequisites and
// the lump reward.
type Definition struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Rank          string          `json:"rank" db:"rank"`
	Tier          int             `json:"tier" db:"tier"`
	Boss          bool            `json:"boss" db:"boss"`
	Duration      time.Duration   `json:"duration" db:"duration_seconds"`
	RequiredLevel int             `json:"requiredLevel" db:"required_level"`
	RequiresClear *uuid.UUID      `json:"requiresClear,omitempty" db:"requires_clear"`
	RewardXP      int             `json:"rewardXp" db:"reward_xp"`
	RewardTitle   string          `json:"rewardTitle" db:"reward_title"`
	Objectives    []ObjectiveSpec `json:"objectives"`
	Active        bool            `json:"active" db:"active"`
}

type ObjectiveSpec struct {
	Label       string            `json:"label"`
	Requirement quest.Requirement `json:"requirement"`
	Target      float64           `json:"target"`
}

// Objective tracks one predicate inside a run. Same monotonic update rules
// as daily quest instances.
type Objective struct {
	Label       string            `json:"label"`
	Requirement quest.Requirement `json:"requirement"`
	Current     float64           `json:"current"`
	Target      float64           `json:"target"`
}

func (o *Objective) Percent() float64 {
	eval := o.Requirement.Evaluate(o.Current, time.Time{})
	return eval.Percent
}

// Run is one attempt at a definition. At most one non-terminal run per user.
type Run struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       uuid.UUID   `json:"userId" db:"user_id"`
	DefinitionID uuid.UUID   `json:"definitionId" db:"definition_id"`
	Rank         string      `json:"rank" db:"rank"`
	Tier         int         `json:"tier" db:"tier"`
	Status       Status      `json:"status" db:"status"`
	Objectives   []Objective `json:"objectives" db:"objectives"`
	StartedAt    time.Time   `json:"startedAt" db:"started_at"`
	ExpiresAt    time.Time   `json:"expiresAt" db:"expires_at"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty" db:"resolved_at"`
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time   `json:"updatedAt" db:"updated_at"`
}

// NewRun materializes a run from its definition.
func NewRun(userID uuid.UUID, def *Definition, now time.Time) *Run {
	objectives := make([]Objective, len(def.Objectives))
	for i, spec := range def.Objectives {
		req := spec.Requirement
		target := spec.Target
		if req.Type == quest.RequirementNumeric {
			// An explicit target overrides the requirement threshold so one
			// predicate can be reused across tiers with different numbers.
			if target > 0 {
				req.Threshold = target
			} else {
				target = req.Threshold
			}
		}
		objectives[i] = Objective{
			Label:       spec.Label,
			Requirement: req,
			Target:      target,
		}
	}
	return &Run{
		ID:           uuid.New(),
		UserID:       userID,
		DefinitionID: def.ID,
		Rank:         def.Rank,
		Tier:         def.Tier,
		Status:       StatusActive,
		Objectives:   objectives,
		StartedAt:    now,
		ExpiresAt:    now.Add(def.Duration),
	}
}

// ExpiredAt reports whether the run's clock has elapsed. Expiry is always
// re-checked against the wall clock at write time; a client's claim that the
// run is still active is never trusted.
func (r *Run) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Progress is the derived overall completion: the mean of the objective
// percents. It is never stored; the objectives are the canonical form.
func (r *Run) Progress() float64 {
	if len(r.Objectives) == 0 {
		return 0
	}
	var sum float64
	for i := range r.Objectives {
		sum += r.Objectives[i].Percent()
	}
	return math.Floor(sum/float64(len(r.Objectives))*100) / 100
}

// Complete reports whether every objective reached 100 percent.
func (r *Run) Complete() bool {
	if len(r.Objectives) == 0 {
		return false
	}
	for i := range r.Objectives {
		if r.Objectives[i].Percent() < 100 {
			return false
		}
	}
	return true
}
