package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/day"
	"ironpathAPI/internal/progression"
	"ironpathAPI/internal/quest"
)

// QuestService materializes dated instances from active templates and judges
// submitted progress against them.
type QuestService struct {
	db          *pgxpool.Pool
	progression *ProgressionService
	locks       *UserLocks
	cfg         *config.Config
}

func NewQuestService(db *pgxpool.Pool, progressionService *ProgressionService, locks *UserLocks, cfg *config.Config) *QuestService {
	return &QuestService{
		db:          db,
		progression: progressionService,
		locks:       locks,
		cfg:         cfg,
	}
}

const instanceColumns = `
	i.id, i.user_id, i.template_id, i.date, i.status,
	i.current_value, i.target_value, i.percent,
	i.completed_at, i.xp_awarded, i.created_at, i.updated_at`

// MaterializeDaily creates exactly one instance per active template eligible
// on the given local date. Idempotent: the unique (user, template, date) key
// plus ON CONFLICT DO NOTHING makes re-invocation a no-op per template.
func (s *QuestService) MaterializeDaily(ctx context.Context, q queryer, userID uuid.UUID, localDate time.Time) error {
	query := `
	SELECT` + templateColumns + `
	FROM quest_templates t
	WHERE t.active = true AND t.cadence NOT IN ('DUNGEON', 'BOSS')
	`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to load active templates: %w", err)
	}
	defer rows.Close()

	var templates []*quest.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating templates: %w", err)
	}

	insert := `
	INSERT INTO quest_instances (id, user_id, template_id, date, status,
		current_value, target_value, percent, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 0, $6, 0, NOW(), NOW())
	ON CONFLICT (user_id, template_id, date) DO NOTHING
	`
	for _, t := range templates {
		if !t.EligibleOn(localDate) {
			continue
		}
		target := 1.0
		if t.Requirement.Type == quest.RequirementNumeric {
			target = t.Requirement.Threshold
		}
		_, err := q.Exec(ctx, insert,
			uuid.New(), userID, t.ID, localDate.Format("2006-01-02"),
			quest.StatusActive, target,
		)
		if err != nil {
			return fmt.Errorf("failed to materialize instance for template %s: %w", t.ID, err)
		}
	}
	return nil
}

// ListQuests returns the user's instances for a date (today when empty),
// materializing first so a fresh day is never empty.
func (s *QuestService) ListQuests(ctx context.Context, userID uuid.UUID, dateKey string) ([]*quest.InstanceWithTemplate, error) {
	p, err := getPlayer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)

	var localDate time.Time
	if dateKey == "" {
		localDate = time.Now().In(loc)
	} else {
		localDate, err = day.ParseDateKey(dateKey, loc)
		if err != nil {
			return nil, apperr.Validationf("invalid date %q", dateKey)
		}
	}

	// Only materialize the current day; historical reads stay reads.
	if day.DateKey(localDate) == day.DateKey(time.Now().In(loc)) {
		if err := s.MaterializeDaily(ctx, s.db, userID, localDate); err != nil {
			return nil, err
		}
	}

	return s.listInstances(ctx, s.db, userID, day.DateKey(localDate), false)
}

func (s *QuestService) listInstances(ctx context.Context, q queryer, userID uuid.UUID, dateKey string, activeOnly bool) ([]*quest.InstanceWithTemplate, error) {
	query := `
	SELECT` + instanceColumns + `,` + templateColumns + `
	FROM quest_instances i
	JOIN quest_templates t ON t.id = i.template_id
	WHERE i.user_id = $1 AND i.date = $2
	`
	if activeOnly {
		query += ` AND i.status = 'ACTIVE'`
	}
	query += ` ORDER BY t.core DESC, t.name`

	rows, err := q.Query(ctx, query, userID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instances: %w", err)
	}
	defer rows.Close()

	var out []*quest.InstanceWithTemplate
	for rows.Next() {
		item, err := scanInstanceWithTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	if out == nil {
		out = []*quest.InstanceWithTemplate{}
	}
	return out, nil
}

func scanInstanceWithTemplate(rows pgx.Rows) (*quest.InstanceWithTemplate, error) {
	item := &quest.InstanceWithTemplate{Template: &quest.Template{}}
	inst := &item.Instance
	t := item.Template
	var date time.Time
	err := rows.Scan(
		&inst.ID, &inst.UserID, &inst.TemplateID, &date, &inst.Status,
		&inst.CurrentValue, &inst.TargetValue, &inst.Percent,
		&inst.CompletedAt, &inst.XPAwarded, &inst.CreatedAt, &inst.UpdatedAt,
		&t.ID, &t.Name, &t.Description, &t.Category, &t.Cadence,
		&t.Requirement.Type, &t.Requirement.Metric, &t.Requirement.Operator,
		&t.Requirement.Threshold, &t.Requirement.Deadline,
		&t.BaseXP, &t.Stat, &t.StatBonus, &t.PartialAllowed, &t.PartialMinPercent,
		&t.Core, &t.RotationDay, &t.Active, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	inst.Date = day.DateKey(date)
	return item, nil
}

// getInstanceForUpdate row-locks one instance with its template inside tx.
func getInstanceForUpdate(ctx context.Context, q queryer, userID, instanceID uuid.UUID) (*quest.InstanceWithTemplate, error) {
	query := `
	SELECT` + instanceColumns + `,` + templateColumns + `
	FROM quest_instances i
	JOIN quest_templates t ON t.id = i.template_id
	WHERE i.id = $1 AND i.user_id = $2
	FOR UPDATE OF i
	`
	rows, err := q.Query(ctx, query, instanceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instance: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch instance: %w", err)
		}
		return nil, apperr.NotFoundf("quest instance not found")
	}
	return scanInstanceWithTemplate(rows)
}

func dayClosed(ctx context.Context, q queryer, userID uuid.UUID, dateKey string) (bool, error) {
	var closed bool
	err := q.QueryRow(ctx,
		`SELECT closed FROM day_records WHERE user_id = $1 AND date = $2`,
		userID, dateKey,
	).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check day record: %w", err)
	}
	return closed, nil
}

func updateInstance(ctx context.Context, q queryer, inst *quest.Instance) error {
	query := `
	UPDATE quest_instances
	SET status = $2, current_value = $3, percent = $4,
		completed_at = $5, xp_awarded = $6, updated_at = NOW()
	WHERE id = $1
	`
	_, err := q.Exec(ctx, query,
		inst.ID, inst.Status, inst.CurrentValue, inst.Percent,
		inst.CompletedAt, inst.XPAwarded,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// SubmitProgress merges a progress value into an instance and resolves it
// when the requirement is met. Numeric metrics are monotonic: a lower
// cumulative value never decreases recorded progress.
func (s *QuestService) SubmitProgress(ctx context.Context, userID, instanceID uuid.UUID, value float64) (*quest.InstanceWithTemplate, *progression.XPEvent, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, nil, apperr.Validationf("progress value must be a finite number")
	}
	if value < 0 {
		return nil, nil, apperr.Validationf("progress value must not be negative")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := getInstanceForUpdate(ctx, tx, userID, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if item.Status.Terminal() {
		return nil, nil, apperr.Conflictf("quest instance already resolved")
	}

	closed, err := dayClosed(ctx, tx, userID, item.Date)
	if err != nil {
		return nil, nil, err
	}
	if closed {
		return nil, nil, apperr.Conflictf("day already closed")
	}

	p, err := getPlayerForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)
	nowLocal := time.Now().In(loc)

	req := item.Template.Requirement
	item.CurrentValue = req.ApplyProgress(item.CurrentValue, value)
	eval := req.Evaluate(item.CurrentValue, nowLocal)
	item.Percent = eval.Percent
	item.Status = eval.Status

	var event *progression.XPEvent
	if eval.Status == quest.StatusCompleted {
		completedAt := time.Now()
		item.CompletedAt = &completedAt
		event, err = s.progression.AwardQuest(ctx, tx, p, item.Template, &item.Instance, 100, nowLocal)
		if err != nil {
			return nil, nil, err
		}
		item.XPAwarded = &event.FinalAmount
		questsResolved.WithLabelValues(string(quest.StatusCompleted)).Inc()
	}

	if err := updateInstance(ctx, tx, &item.Instance); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit progress: %w", err)
	}
	return item, event, nil
}

// Reset returns a resolved instance to ACTIVE and voids its XP with a
// reversing ledger event. Rejected once the instance's day is closed.
func (s *QuestService) Reset(ctx context.Context, userID, instanceID uuid.UUID) (*quest.InstanceWithTemplate, *progression.XPEvent, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := getInstanceForUpdate(ctx, tx, userID, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if !item.Status.Terminal() {
		return nil, nil, apperr.Conflictf("quest instance is not resolved")
	}

	closed, err := dayClosed(ctx, tx, userID, item.Date)
	if err != nil {
		return nil, nil, err
	}
	if closed {
		return nil, nil, apperr.Conflictf("day already closed")
	}

	p, err := getPlayerForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	var reversal *progression.XPEvent
	if item.XPAwarded != nil && *item.XPAwarded != 0 {
		original, err := unreversedEventForInstance(ctx, tx, item.ID)
		if err != nil {
			return nil, nil, err
		}
		if original == nil {
			err := apperr.Invariantf(nil, "instance %s has xp_awarded but no live ledger event", item.ID)
			log.Printf("Reset: %v", err)
			return nil, nil, err
		}
		fullCompletion := item.Status == quest.StatusCompleted
		reversal, err = s.progression.Reverse(ctx, tx, p, original, item.Template, fullCompletion)
		if err != nil {
			return nil, nil, err
		}
	}

	item.Status = quest.StatusActive
	item.CurrentValue = 0
	item.Percent = 0
	item.CompletedAt = nil
	item.XPAwarded = nil
	if err := updateInstance(ctx, tx, &item.Instance); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return item, reversal, nil
}
