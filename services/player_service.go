package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/cache"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/leaderboard"
	"ironpathAPI/internal/player"
	"ironpathAPI/internal/progression"
)

const (
	leaderboardCacheKey = "leaderboard:global"
	leaderboardCacheTTL = 60 * time.Second
)

type PlayerService struct {
	db          *pgxpool.Pool
	cache       *cache.Cache
	progression *ProgressionService
	cfg         *config.Config
}

func NewPlayerService(db *pgxpool.Pool, cacheClient *cache.Cache, progressionService *ProgressionService, cfg *config.Config) *PlayerService {
	return &PlayerService{
		db:          db,
		cache:       cacheClient,
		progression: progressionService,
		cfg:         cfg,
	}
}

// Profile is the player sheet plus the derived level-curve position.
type Profile struct {
	Player         *player.Player `json:"player"`
	XPIntoLevel    int            `json:"xp_into_level"`
	XPForNextLevel int            `json:"xp_for_next_level"`
}

func (s *PlayerService) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	p, err := getPlayer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	// Thresholds are cumulative, so progress inside the current level is the
	// distance from its own threshold.
	curve := s.progression.Curve()
	return &Profile{
		Player:         p,
		XPIntoLevel:    p.TotalXP - curve.XPRequiredForLevel(p.Level),
		XPForNextLevel: curve.XPRequiredForLevel(p.Level + 1),
	}, nil
}

// CreatePlayer provisions a fresh sheet at level 0 with zeroed stats.
func (s *PlayerService) CreatePlayer(ctx context.Context, username, timezone string) (*player.Player, error) {
	if username == "" {
		return nil, apperr.Validationf("username is required")
	}
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, apperr.Validationf("unknown timezone %q", timezone)
	}

	p := &player.Player{
		ID:       uuid.New(),
		Username: username,
		Timezone: timezone,
	}
	err := s.db.QueryRow(ctx, `
	INSERT INTO players (id, username, timezone, level, total_xp, hard_mode,
		titles, stat_strength, stat_agility, stat_vitality, stat_discipline,
		current_streak, longest_streak, perfect_streak, grace_tokens,
		broken_streak, recoverable_until, created_at, updated_at)
	VALUES ($1, $2, $3, 0, 0, false, '{}', 0, 0, 0, 0, 0, 0, 0, 0, 0, NULL, NOW(), NOW())
	RETURNING created_at, updated_at
	`, p.ID, p.Username, p.Timezone).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert player: %w", err)
	}

	log.Printf("CreatePlayer: created %s (%s)", p.Username, p.ID)
	return p, nil
}

// UpdateSettings changes the mutable preferences. Timezone moves shift which
// calendar day submissions land on, but never reopen a closed day.
func (s *PlayerService) UpdateSettings(ctx context.Context, userID uuid.UUID, timezone *string, hardMode *bool) (*player.Player, error) {
	p, err := getPlayer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if timezone != nil {
		if _, err := time.LoadLocation(*timezone); err != nil {
			return nil, apperr.Validationf("unknown timezone %q", *timezone)
		}
		p.Timezone = *timezone
	}
	if hardMode != nil {
		p.HardMode = *hardMode
	}
	if err := updatePlayer(ctx, s.db, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetLeaderboard returns the top slice ranked by level, total XP, then
// current streak, with the caller's own row appended when outside the top.
// Served from cache when available.
func (s *PlayerService) GetLeaderboard(ctx context.Context, userID uuid.UUID, limit int) (*leaderboard.Leaderboard, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	cacheKey := fmt.Sprintf("%s:%d", leaderboardCacheKey, limit)
	board := &leaderboard.Leaderboard{}
	if !s.cache.GetJSON(ctx, cacheKey, board) {
		var err error
		board, err = s.loadLeaderboard(ctx, limit)
		if err != nil {
			return nil, err
		}
		s.cache.SetJSON(ctx, cacheKey, board, leaderboardCacheTTL)
	}

	for _, entry := range board.Entries {
		if entry.UserID == userID {
			board.UserPosition = entry
			return board, nil
		}
	}

	// Caller is outside the cached top slice; rank them individually.
	position, err := s.loadUserPosition(ctx, userID)
	if err != nil {
		return nil, err
	}
	board.UserPosition = position
	return board, nil
}

func (s *PlayerService) loadLeaderboard(ctx context.Context, limit int) (*leaderboard.Leaderboard, error) {
	rows, err := s.db.Query(ctx, `
	SELECT id, username, level, total_xp, current_streak,
		RANK() OVER (ORDER BY level DESC, total_xp DESC, current_streak DESC) AS rank
	FROM players
	ORDER BY rank
	LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	defer rows.Close()

	board := &leaderboard.Leaderboard{Entries: []*leaderboard.LeaderboardEntry{}}
	for rows.Next() {
		entry := &leaderboard.LeaderboardEntry{}
		err := rows.Scan(&entry.UserID, &entry.Username, &entry.Level,
			&entry.TotalXP, &entry.CurrentStreak, &entry.Rank)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		board.Entries = append(board.Entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&board.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to count players: %w", err)
	}
	return board, nil
}

func (s *PlayerService) loadUserPosition(ctx context.Context, userID uuid.UUID) (*leaderboard.LeaderboardEntry, error) {
	entry := &leaderboard.LeaderboardEntry{}
	err := s.db.QueryRow(ctx, `
	SELECT id, username, level, total_xp, current_streak, rank
	FROM (
		SELECT id, username, level, total_xp, current_streak,
			RANK() OVER (ORDER BY level DESC, total_xp DESC, current_streak DESC) AS rank
		FROM players
	) ranked
	WHERE id = $1
	`, userID).Scan(&entry.UserID, &entry.Username, &entry.Level,
		&entry.TotalXP, &entry.CurrentStreak, &entry.Rank)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user rank: %w", err)
	}
	return entry, nil
}

// GetXPEvents pages the append-only ledger, newest first. Reversal rows are
// included; the ledger never hides corrections.
func (s *PlayerService) GetXPEvents(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*progression.XPEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
	SELECT`+xpEventColumns+`
	FROM xp_events
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch xp events: %w", err)
	}
	defer rows.Close()

	events := []*progression.XPEvent{}
	for rows.Next() {
		ev, err := scanXPEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan xp event: %w", err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating xp events: %w", err)
	}
	return events, nil
}
