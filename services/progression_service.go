package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/player"
	"ironpathAPI/internal/progression"
	"ironpathAPI/internal/quest"
	"ironpathAPI/internal/timedrun"
)

// ProgressionService converts judged outcomes into append-only XP events and
// keeps the player's level and stats in sync. All methods take a queryer so
// they run inside the caller's transaction; awarding and the player update
// always land together or not at all.
type ProgressionService struct {
	curve progression.Curve
	mods  progression.ModifierConfig
}

func NewProgressionService(cfg *config.Config) *ProgressionService {
	return &ProgressionService{
		curve: progression.NewCurve(cfg.CurveCoefficient),
		mods: progression.ModifierConfig{
			WeekendBonus:  cfg.WeekendBonus,
			HardModeBonus: cfg.HardModeBonus,
			SeasonalBonus: cfg.SeasonalBonus,
		},
	}
}

func (s *ProgressionService) Curve() progression.Curve { return s.curve }

// AwardQuest writes the ledger event for a resolved quest instance and
// applies it to the player. percent below 100 scales the base linearly
// (partial credit); the stat bonus only lands on full completion.
func (s *ProgressionService) AwardQuest(ctx context.Context, q queryer, p *player.Player, t *quest.Template, inst *quest.Instance, percent float64, localDate time.Time) (*progression.XPEvent, error) {
	base := progression.BaseAmount(t, p.Stats.Score(string(t.Stat)), percent)
	mods := progression.ActiveModifiers(localDate, p.HardMode, p.Streak.Current, s.mods)
	final := progression.FinalAmount(base, mods)

	levelBefore := p.Level
	p.TotalXP += final
	p.Level = s.curve.LevelForTotalXP(p.TotalXP)
	if percent >= 100 {
		p.Stats.Add(string(t.Stat), t.StatBonus)
	}

	ev := &progression.XPEvent{
		ID:          uuid.New(),
		UserID:      p.ID,
		Source:      progression.SourceQuestCompletion,
		ReferenceID: &inst.ID,
		BaseAmount:  base,
		Modifiers:   mods,
		FinalAmount: final,
		LevelBefore: levelBefore,
		LevelAfter:  p.Level,
	}
	if err := insertXPEvent(ctx, q, ev); err != nil {
		return nil, err
	}
	if err := updatePlayer(ctx, q, p); err != nil {
		return nil, err
	}

	if final > 0 {
		xpAwarded.Add(float64(final))
	}
	return ev, nil
}

// AwardRun writes the lump reward for a completed timed run and grants the
// definition's title if the player does not hold it yet.
func (s *ProgressionService) AwardRun(ctx context.Context, q queryer, p *player.Player, run *timedrun.Run, def *timedrun.Definition, localDate time.Time) (*progression.XPEvent, error) {
	mods := progression.ActiveModifiers(localDate, p.HardMode, p.Streak.Current, s.mods)
	final := progression.FinalAmount(def.RewardXP, mods)

	levelBefore := p.Level
	p.TotalXP += final
	p.Level = s.curve.LevelForTotalXP(p.TotalXP)
	if def.RewardTitle != "" && !p.HasTitle(def.RewardTitle) {
		p.Titles = append(p.Titles, def.RewardTitle)
	}

	ev := &progression.XPEvent{
		ID:          uuid.New(),
		UserID:      p.ID,
		Source:      progression.SourceRunReward,
		ReferenceID: &run.ID,
		BaseAmount:  def.RewardXP,
		Modifiers:   mods,
		FinalAmount: final,
		LevelBefore: levelBefore,
		LevelAfter:  p.Level,
	}
	if err := insertXPEvent(ctx, q, ev); err != nil {
		return nil, err
	}
	if err := updatePlayer(ctx, q, p); err != nil {
		return nil, err
	}

	if final > 0 {
		xpAwarded.Add(float64(final))
	}
	return ev, nil
}

// Reverse voids a prior award with an offsetting negative event. The
// original row is never edited; the player's level is recomputed downward
// from the reduced total. fullCompletion undoes the stat bonus the original
// full completion granted.
func (s *ProgressionService) Reverse(ctx context.Context, q queryer, p *player.Player, original *progression.XPEvent, t *quest.Template, fullCompletion bool) (*progression.XPEvent, error) {
	rev := progression.Reversal(original)

	levelBefore := p.Level
	p.TotalXP += rev.FinalAmount
	if p.TotalXP < 0 {
		return nil, apperr.Invariantf(nil, "reversal of event %s drives total XP negative", original.ID)
	}
	p.Level = s.curve.LevelForTotalXP(p.TotalXP)
	if fullCompletion && t != nil {
		p.Stats.Add(string(t.Stat), -t.StatBonus)
	}
	rev.LevelBefore = levelBefore
	rev.LevelAfter = p.Level

	if err := insertXPEvent(ctx, q, rev); err != nil {
		return nil, err
	}
	if err := updatePlayer(ctx, q, p); err != nil {
		return nil, err
	}

	if rev.FinalAmount < 0 {
		xpReversed.Add(float64(-rev.FinalAmount))
	}
	return rev, nil
}

const xpEventColumns = `
	id, user_id, source, reference_id, reverses_id,
	base_amount, modifiers, final_amount, level_before, level_after, created_at`

func scanXPEvent(row pgx.Row) (*progression.XPEvent, error) {
	ev := &progression.XPEvent{}
	var modifiers []byte
	err := row.Scan(
		&ev.ID,
		&ev.UserID,
		&ev.Source,
		&ev.ReferenceID,
		&ev.ReversesID,
		&ev.BaseAmount,
		&modifiers,
		&ev.FinalAmount,
		&ev.LevelBefore,
		&ev.LevelAfter,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(modifiers, &ev.Modifiers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal modifiers: %w", err)
	}
	return ev, nil
}

// unreversedEventForInstance finds the live (not yet reversed) award for a
// quest instance, or nil when the instance never produced XP.
func unreversedEventForInstance(ctx context.Context, q queryer, instanceID uuid.UUID) (*progression.XPEvent, error) {
	query := `
	SELECT` + xpEventColumns + `
	FROM xp_events e
	WHERE e.reference_id = $1
		AND e.source = $2
		AND NOT EXISTS (SELECT 1 FROM xp_events r WHERE r.reverses_id = e.id)
	ORDER BY e.created_at DESC
	LIMIT 1
	`
	ev, err := scanXPEvent(q.QueryRow(ctx, query, instanceID, progression.SourceQuestCompletion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load xp event: %w", err)
	}
	return ev, nil
}
