package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/player"
	"ironpathAPI/internal/progression"
	"ironpathAPI/internal/quest"
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx so service helpers
// run inside or outside a transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const playerColumns = `
	id, username, timezone, level, total_xp, hard_mode, titles,
	stat_strength, stat_agility, stat_vitality, stat_discipline,
	current_streak, longest_streak, perfect_streak,
	grace_tokens, broken_streak, recoverable_until,
	created_at, updated_at`

func scanPlayer(row pgx.Row) (*player.Player, error) {
	p := &player.Player{}
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Timezone,
		&p.Level,
		&p.TotalXP,
		&p.HardMode,
		&p.Titles,
		&p.Stats.Strength,
		&p.Stats.Agility,
		&p.Stats.Vitality,
		&p.Stats.Discipline,
		&p.Streak.Current,
		&p.Streak.Longest,
		&p.Streak.Perfect,
		&p.Streak.GraceTokens,
		&p.Streak.BrokenStreak,
		&p.Streak.RecoverableUntil,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("player not found")
		}
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	return p, nil
}

func getPlayer(ctx context.Context, q queryer, userID uuid.UUID) (*player.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE id = $1`
	return scanPlayer(q.QueryRow(ctx, query, userID))
}

// getPlayerForUpdate row-locks the player aggregate for the duration of the
// surrounding transaction.
func getPlayerForUpdate(ctx context.Context, q queryer, userID uuid.UUID) (*player.Player, error) {
	query := `SELECT` + playerColumns + ` FROM players WHERE id = $1 FOR UPDATE`
	return scanPlayer(q.QueryRow(ctx, query, userID))
}

func updatePlayer(ctx context.Context, q queryer, p *player.Player) error {
	query := `
	UPDATE players
	SET level = $2, total_xp = $3, hard_mode = $4, titles = $5,
		stat_strength = $6, stat_agility = $7, stat_vitality = $8, stat_discipline = $9,
		current_streak = $10, longest_streak = $11, perfect_streak = $12,
		grace_tokens = $13, broken_streak = $14, recoverable_until = $15,
		updated_at = NOW()
	WHERE id = $1
	`
	_, err := q.Exec(ctx, query,
		p.ID, p.Level, p.TotalXP, p.HardMode, p.Titles,
		p.Stats.Strength, p.Stats.Agility, p.Stats.Vitality, p.Stats.Discipline,
		p.Streak.Current, p.Streak.Longest, p.Streak.Perfect,
		p.Streak.GraceTokens, p.Streak.BrokenStreak, p.Streak.RecoverableUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}
	return nil
}

func insertXPEvent(ctx context.Context, q queryer, ev *progression.XPEvent) error {
	modifiers, err := json.Marshal(ev.Modifiers)
	if err != nil {
		return fmt.Errorf("failed to marshal modifiers: %w", err)
	}

	query := `
	INSERT INTO xp_events (id, user_id, source, reference_id, reverses_id,
		base_amount, modifiers, final_amount, level_before, level_after, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	RETURNING created_at
	`
	err = q.QueryRow(ctx, query,
		ev.ID, ev.UserID, ev.Source, ev.ReferenceID, ev.ReversesID,
		ev.BaseAmount, modifiers, ev.FinalAmount, ev.LevelBefore, ev.LevelAfter,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert xp event: %w", err)
	}
	return nil
}

const templateColumns = `
	t.id, t.name, t.description, t.category, t.cadence,
	t.requirement_type, t.metric, t.operator, t.threshold, t.deadline,
	t.base_xp, t.stat, t.stat_bonus, t.partial_allowed, t.partial_min_percent,
	t.core, t.rotation_day, t.active, t.created_at`

func scanTemplate(row pgx.Row) (*quest.Template, error) {
	t := &quest.Template{}
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.Category,
		&t.Cadence,
		&t.Requirement.Type,
		&t.Requirement.Metric,
		&t.Requirement.Operator,
		&t.Requirement.Threshold,
		&t.Requirement.Deadline,
		&t.BaseXP,
		&t.Stat,
		&t.StatBonus,
		&t.PartialAllowed,
		&t.PartialMinPercent,
		&t.Core,
		&t.RotationDay,
		&t.Active,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// loadLocation resolves a player's timezone, falling back to a default so a
// corrupt zone name never breaks day-boundary math.
func loadLocation(timezone, fallback string) *time.Location {
	if loc, err := time.LoadLocation(timezone); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(fallback); err == nil {
		return loc
	}
	return time.UTC
}
