package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/player"
	"ironpathAPI/internal/streak"
)

// StreakService owns the consecutive-day bookkeeping: qualification at day
// close, grace token accrual, and the bounded recovery window.
type StreakService struct {
	db    *pgxpool.Pool
	locks *UserLocks
	cfg   *config.Config
}

func NewStreakService(db *pgxpool.Pool, locks *UserLocks, cfg *config.Config) *StreakService {
	return &StreakService{db: db, locks: locks, cfg: cfg}
}

// ApplyClose mutates the player's streak state for a closed day. Called by
// the day close inside its transaction; the caller persists the player.
// Returns whether the day qualified and whether it was perfect.
func (s *StreakService) ApplyClose(p *player.Player, outcome streak.Outcome, recoverableUntil time.Time) (qualified, perfect bool) {
	qualified = outcome.Qualifies(s.cfg.QualifyThreshold)
	perfect = outcome.Perfect()
	if qualified {
		p.Streak.Advance(perfect, s.cfg.GraceTokenEvery, s.cfg.GraceTokenCap)
	} else {
		p.Streak.Break(recoverableUntil)
	}
	return qualified, perfect
}

// Recover consumes one grace token to restore the streak parked by the most
// recent break. One-shot per break; rejected once the window has closed.
func (s *StreakService) Recover(ctx context.Context, userID uuid.UUID) (*streak.State, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getPlayerForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)
	now := time.Now().In(loc)

	if p.Streak.BrokenStreak == 0 {
		return nil, apperr.Conflictf("no broken streak to recover")
	}
	if p.Streak.GraceTokens == 0 {
		return nil, apperr.Conflictf("no grace tokens available")
	}
	if !p.Streak.Recover(now) {
		return nil, apperr.Conflictf("recovery window has closed")
	}

	if err := updatePlayer(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit recovery: %w", err)
	}

	log.Printf("Recover: user %s restored streak of %d, %d tokens left",
		userID, p.Streak.Current, p.Streak.GraceTokens)
	return &p.Streak, nil
}
