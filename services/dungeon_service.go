package services

import (
	"context"
	"encoding/json"
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
	"ironpathAPI/internal/progression"
	"ironpathAPI/internal/timedrun"
)

// DungeonService runs the timed-run lifecycle: entry against unlock
// prerequisites, objective progress under the hard expiry clock, and the
// three terminal resolutions.
type DungeonService struct {
	db          *pgxpool.Pool
	progression *ProgressionService
	locks       *UserLocks
	cfg         *config.Config
}

func NewDungeonService(db *pgxpool.Pool, progressionService *ProgressionService, locks *UserLocks, cfg *config.Config) *DungeonService {
	return &DungeonService{
		db:          db,
		progression: progressionService,
		locks:       locks,
		cfg:         cfg,
	}
}

const definitionColumns = `
	id, name, rank, tier, boss, duration_seconds, required_level,
	requires_clear, reward_xp, reward_title, objectives, active`

func scanDefinition(row pgx.Row) (*timedrun.Definition, error) {
	def := &timedrun.Definition{}
	var durationSeconds int64
	var objectives []byte
	err := row.Scan(
		&def.ID, &def.Name, &def.Rank, &def.Tier, &def.Boss,
		&durationSeconds, &def.RequiredLevel, &def.RequiresClear,
		&def.RewardXP, &def.RewardTitle, &objectives, &def.Active,
	)
	if err != nil {
		return nil, err
	}
	def.Duration = time.Duration(durationSeconds) * time.Second
	if err := json.Unmarshal(objectives, &def.Objectives); err != nil {
		return nil, fmt.Errorf("failed to unmarshal objectives: %w", err)
	}
	return def, nil
}

const runColumns = `
	id, user_id, definition_id, rank, tier, status, objectives,
	started_at, expires_at, resolved_at, created_at, updated_at`

func scanRun(row pgx.Row) (*timedrun.Run, error) {
	run := &timedrun.Run{}
	var objectives []byte
	err := row.Scan(
		&run.ID, &run.UserID, &run.DefinitionID, &run.Rank, &run.Tier,
		&run.Status, &objectives, &run.StartedAt, &run.ExpiresAt,
		&run.ResolvedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(objectives, &run.Objectives); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run objectives: %w", err)
	}
	return run, nil
}

func updateRun(ctx context.Context, q queryer, run *timedrun.Run) error {
	objectives, err := json.Marshal(run.Objectives)
	if err != nil {
		return fmt.Errorf("failed to marshal run objectives: %w", err)
	}
	_, err = q.Exec(ctx, `
	UPDATE timed_runs
	SET status = $2, objectives = $3, resolved_at = $4, updated_at = NOW()
	WHERE id = $1
	`, run.ID, run.Status, objectives, run.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update timed run: %w", err)
	}
	return nil
}

// ListDefinitions returns the active dungeon/boss catalogue.
func (s *DungeonService) ListDefinitions(ctx context.Context) ([]*timedrun.Definition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+definitionColumns+` FROM run_definitions WHERE active = true ORDER BY tier, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run definitions: %w", err)
	}
	defer rows.Close()

	var defs []*timedrun.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run definitions: %w", err)
	}
	if defs == nil {
		defs = []*timedrun.Definition{}
	}
	return defs, nil
}

// ActiveRun returns the user's current non-terminal run, lazily marking it
// EXPIRED when its clock has already elapsed. Nil when there is none.
func (s *DungeonService) ActiveRun(ctx context.Context, userID uuid.UUID) (*timedrun.Run, error) {
	run, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM timed_runs WHERE user_id = $1 AND status = 'ACTIVE'`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch active run: %w", err)
	}
	if run.ExpiredAt(time.Now()) {
		if expireErr := s.expireRun(ctx, userID, run.ID); expireErr == nil {
			run.Status = timedrun.StatusExpired
		}
	}
	return run, nil
}

func (s *DungeonService) expireRun(ctx context.Context, userID, runID uuid.UUID) error {
	unlock := s.locks.Lock(userID)
	defer unlock()
	_, err := s.db.Exec(ctx, `
	UPDATE timed_runs
	SET status = 'EXPIRED', resolved_at = NOW(), updated_at = NOW()
	WHERE id = $1 AND status = 'ACTIVE'
	`, runID)
	return err
}

// Enter starts a run. Conflict when another non-terminal run exists for the
// user; validation failure when level or prior-clear prerequisites are
// unmet.
func (s *DungeonService) Enter(ctx context.Context, userID, definitionID uuid.UUID) (*timedrun.Run, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	def, err := scanDefinition(tx.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM run_definitions WHERE id = $1 AND active = true`, definitionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("dungeon not found")
		}
		return nil, fmt.Errorf("failed to fetch run definition: %w", err)
	}

	now := time.Now()

	existing, err := scanRun(tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM timed_runs WHERE user_id = $1 AND status = 'ACTIVE' FOR UPDATE`, userID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check active run: %w", err)
	}
	if existing != nil {
		if !existing.ExpiredAt(now) {
			return nil, apperr.Conflictf("another run is already active")
		}
		// Lazy expiry: the old run's clock elapsed, so it releases the slot.
		existing.Status = timedrun.StatusExpired
		resolvedAt := now
		existing.ResolvedAt = &resolvedAt
		if err := updateRun(ctx, tx, existing); err != nil {
			return nil, err
		}
	}

	p, err := getPlayerForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if p.Level < def.RequiredLevel {
		return nil, apperr.Validationf("requires level %d", def.RequiredLevel)
	}
	if def.RequiresClear != nil {
		var cleared bool
		err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM timed_runs
			WHERE user_id = $1 AND definition_id = $2 AND status = 'COMPLETED'
		)`, userID, *def.RequiresClear).Scan(&cleared)
		if err != nil {
			return nil, fmt.Errorf("failed to check prior clears: %w", err)
		}
		if !cleared {
			return nil, apperr.Validationf("a prior clear is required before entering")
		}
	}

	run := timedrun.NewRun(userID, def, now)
	objectives, err := json.Marshal(run.Objectives)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run objectives: %w", err)
	}
	err = tx.QueryRow(ctx, `
	INSERT INTO timed_runs (id, user_id, definition_id, rank, tier, status,
		objectives, started_at, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	RETURNING created_at, updated_at
	`, run.ID, run.UserID, run.DefinitionID, run.Rank, run.Tier, run.Status,
		objectives, run.StartedAt, run.ExpiresAt,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert timed run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run entry: %w", err)
	}

	runsEntered.Inc()
	log.Printf("Enter: user %s entered %s (rank %s), expires %s", userID, def.Name, def.Rank, run.ExpiresAt)
	return run, nil
}

// SubmitObjective merges progress into one objective. Expiry is re-checked
// against the wall clock here: a late submission is rejected and the run is
// marked EXPIRED rather than trusting the client's view of the clock.
func (s *DungeonService) SubmitObjective(ctx context.Context, userID, runID uuid.UUID, objectiveIndex int, value float64) (*timedrun.Run, *progression.XPEvent, error) {
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

	run, err := scanRun(tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM timed_runs WHERE id = $1 AND user_id = $2 FOR UPDATE`, runID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.NotFoundf("timed run not found")
		}
		return nil, nil, fmt.Errorf("failed to fetch timed run: %w", err)
	}
	if run.Status.Terminal() {
		return nil, nil, apperr.Conflictf("run already %s", run.Status)
	}

	now := time.Now()
	if run.ExpiredAt(now) {
		run.Status = timedrun.StatusExpired
		run.ResolvedAt = &now
		if err := updateRun(ctx, tx, run); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to commit run expiry: %w", err)
		}
		return nil, nil, apperr.Conflictf("run has expired")
	}

	if objectiveIndex < 0 || objectiveIndex >= len(run.Objectives) {
		return nil, nil, apperr.Validationf("objective index %d out of range", objectiveIndex)
	}

	obj := &run.Objectives[objectiveIndex]
	obj.Current = obj.Requirement.ApplyProgress(obj.Current, value)

	var event *progression.XPEvent
	if run.Complete() {
		run.Status = timedrun.StatusCompleted
		run.ResolvedAt = &now

		def, err := scanDefinition(tx.QueryRow(ctx,
			`SELECT `+definitionColumns+` FROM run_definitions WHERE id = $1`, run.DefinitionID))
		if err != nil {
			return nil, nil, apperr.Invariantf(err, "run %s references missing definition %s", run.ID, run.DefinitionID)
		}

		p, err := getPlayerForUpdate(ctx, tx, userID)
		if err != nil {
			return nil, nil, err
		}
		loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)
		event, err = s.progression.AwardRun(ctx, tx, p, run, def, now.In(loc))
		if err != nil {
			return nil, nil, err
		}
	}

	if err := updateRun(ctx, tx, run); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit objective progress: %w", err)
	}
	return run, event, nil
}

// Abandon terminates the user's run on explicit request, releasing the
// single-active-run slot without any reward.
func (s *DungeonService) Abandon(ctx context.Context, userID, runID uuid.UUID) (*timedrun.Run, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := scanRun(tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM timed_runs WHERE id = $1 AND user_id = $2 FOR UPDATE`, runID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("timed run not found")
		}
		return nil, fmt.Errorf("failed to fetch timed run: %w", err)
	}
	if run.Status.Terminal() {
		return nil, apperr.Conflictf("run already %s", run.Status)
	}

	now := time.Now()
	if run.ExpiredAt(now) {
		run.Status = timedrun.StatusExpired
	} else {
		run.Status = timedrun.StatusAbandoned
	}
	run.ResolvedAt = &now
	if err := updateRun(ctx, tx, run); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit abandon: %w", err)
	}
	return run, nil
}
