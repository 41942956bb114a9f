package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ironpathAPI/internal/apperr"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/day"
	"ironpathAPI/internal/progression"
	"ironpathAPI/internal/quest"
	"ironpathAPI/internal/streak"
)

// DayService drives the per-day state machine: lazy phase transitions,
// reconciliation, and the irreversible transactional close.
type DayService struct {
	db          *pgxpool.Pool
	quests      *QuestService
	progression *ProgressionService
	streaks     *StreakService
	locks       *UserLocks
	cfg         *config.Config
}

func NewDayService(db *pgxpool.Pool, quests *QuestService, progressionService *ProgressionService, streaks *StreakService, locks *UserLocks, cfg *config.Config) *DayService {
	return &DayService{
		db:          db,
		quests:      quests,
		progression: progressionService,
		streaks:     streaks,
		locks:       locks,
		cfg:         cfg,
	}
}

type DayStatus struct {
	Date                   string                        `json:"date"`
	Phase                  day.Phase                     `json:"phase"`
	Closed                 bool                          `json:"closed"`
	ReconciliationRequired bool                          `json:"reconciliationRequired"`
	MinutesToMidnight      int                           `json:"minutesToMidnight"`
	PendingItems           []*quest.InstanceWithTemplate `json:"pendingItems"`
}

type CloseResult struct {
	Date       string                        `json:"date"`
	Outcome    streak.Outcome                `json:"outcome"`
	Qualified  bool                          `json:"qualified"`
	Perfect    bool                          `json:"perfect"`
	Streak     streak.State                  `json:"streak"`
	Resolved   []*quest.InstanceWithTemplate `json:"resolved"`
	XPEvents   []*progression.XPEvent        `json:"xpEvents"`
	GraceOpen  bool                          `json:"graceRecoveryOpen"`
	ClosedAt   time.Time                     `json:"closedAt"`
}

func scanDayRecord(row pgx.Row) (*day.Record, error) {
	rec := &day.Record{}
	var date time.Time
	err := row.Scan(&rec.ID, &rec.UserID, &date, &rec.Phase, &rec.Closed,
		&rec.ClosedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Date = day.DateKey(date)
	return rec, nil
}

const dayRecordColumns = `id, user_id, date, phase, closed, closed_at, created_at, updated_at`

// ensureDayRecord upserts the (user, date) record; first activity of the day
// creates it.
func ensureDayRecord(ctx context.Context, q queryer, userID uuid.UUID, dateKey string, phase day.Phase) (*day.Record, error) {
	_, err := q.Exec(ctx, `
	INSERT INTO day_records (id, user_id, date, phase, closed, created_at, updated_at)
	VALUES ($1, $2, $3, $4, false, NOW(), NOW())
	ON CONFLICT (user_id, date) DO NOTHING
	`, uuid.New(), userID, dateKey, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to create day record: %w", err)
	}
	rec, err := scanDayRecord(q.QueryRow(ctx,
		`SELECT `+dayRecordColumns+` FROM day_records WHERE user_id = $1 AND date = $2`,
		userID, dateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load day record: %w", err)
	}
	return rec, nil
}

// Status reports the current day's phase (computed lazily from the wall
// clock, never by a timer), pending items, and whether reconciliation is due.
func (s *DayService) Status(ctx context.Context, userID uuid.UUID) (*DayStatus, error) {
	p, err := getPlayer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)
	now := time.Now().In(loc)
	dateKey := day.DateKey(now)

	if err := s.quests.MaterializeDaily(ctx, s.db, userID, now); err != nil {
		return nil, err
	}

	phase := day.PhaseAt(now)
	rec, err := ensureDayRecord(ctx, s.db, userID, dateKey, phase)
	if err != nil {
		return nil, err
	}
	if !rec.Closed && rec.Phase != phase {
		// Stale phase from an earlier read; correct it on access.
		_, err := s.db.Exec(ctx,
			`UPDATE day_records SET phase = $2, updated_at = NOW() WHERE id = $1 AND closed = false`,
			rec.ID, phase)
		if err != nil {
			return nil, fmt.Errorf("failed to advance day phase: %w", err)
		}
		rec.Phase = phase
	}

	pending, err := s.quests.listInstances(ctx, s.db, userID, dateKey, true)
	if err != nil {
		return nil, err
	}

	effective := rec.Phase
	if rec.Closed {
		effective = day.PhaseClosed
	}
	return &DayStatus{
		Date:                   dateKey,
		Phase:                  effective,
		Closed:                 rec.Closed,
		ReconciliationRequired: !rec.Closed && day.ReconciliationDue(rec.Phase, len(pending)),
		MinutesToMidnight:      day.MinutesToMidnight(now),
		PendingItems:           pending,
	}, nil
}

// SubmitReconciliation resolves one pending item before the close; it is the
// same evaluation path as a normal progress submission.
func (s *DayService) SubmitReconciliation(ctx context.Context, userID, instanceID uuid.UUID, value float64) (*quest.InstanceWithTemplate, *progression.XPEvent, error) {
	return s.quests.SubmitProgress(ctx, userID, instanceID, value)
}

// CloseDay finalizes the user's current local day. The close is a single
// transaction: resolve every still-ACTIVE instance, award XP for the newly
// resolved ones, recompute the streak, and mark the record closed. A repeat
// call returns a conflict, never a silent success.
//
// The only edge into closed is from night: an explicit close earlier in the
// day is rejected while its quests are still winnable. The sweep reaches
// closeDayOn directly for past dates, which are past night by definition.
func (s *DayService) CloseDay(ctx context.Context, userID uuid.UUID) (*CloseResult, error) {
	p, err := getPlayer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	loc := loadLocation(p.Timezone, s.cfg.DefaultTimezone)
	now := time.Now().In(loc)
	if phase := day.PhaseAt(now); phase != day.PhaseNight {
		return nil, apperr.Conflictf("day cannot be closed during %s, only at night", phase)
	}
	return s.closeDayOn(ctx, userID, day.DateKey(now), loc)
}

func (s *DayService) closeDayOn(ctx context.Context, userID uuid.UUID, dateKey string, loc *time.Location) (*CloseResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := ensureDayRecord(ctx, tx, userID, dateKey, day.PhaseNight); err != nil {
		return nil, err
	}

	rec, err := scanDayRecord(tx.QueryRow(ctx,
		`SELECT `+dayRecordColumns+` FROM day_records WHERE user_id = $1 AND date = $2 FOR UPDATE`,
		userID, dateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to lock day record: %w", err)
	}
	if rec.Closed {
		return nil, apperr.Conflictf("day already closed")
	}

	p, err := getPlayerForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	instances, err := s.lockInstancesForClose(ctx, tx, userID, dateKey)
	if err != nil {
		return nil, err
	}

	nowLocal := time.Now().In(loc)
	var resolved []*quest.InstanceWithTemplate
	var events []*progression.XPEvent

	for _, item := range instances {
		if item.Status != quest.StatusActive {
			continue
		}
		if item.Template.PartialEligible(item.Percent, s.cfg.PartialMinPercent) {
			// Scored at the last submitted percent; reduced proportional XP.
			item.Status = quest.StatusExpired
			ev, err := s.progression.AwardQuest(ctx, tx, p, item.Template, &item.Instance, item.Percent, nowLocal)
			if err != nil {
				return nil, err
			}
			item.XPAwarded = &ev.FinalAmount
			events = append(events, ev)
		} else {
			item.Status = quest.StatusFailed
		}
		if err := updateInstance(ctx, tx, &item.Instance); err != nil {
			return nil, err
		}
		questsResolved.WithLabelValues(string(item.Status)).Inc()
		resolved = append(resolved, item)
	}

	outcome := coreOutcome(instances)
	recoverableUntil, err := recoveryDeadline(dateKey, loc)
	if err != nil {
		return nil, apperr.Invariantf(err, "day record %s has an unparseable date", rec.ID)
	}
	qualified, perfect := s.streaks.ApplyClose(p, outcome, recoverableUntil)

	if err := updatePlayer(ctx, tx, p); err != nil {
		return nil, err
	}

	closedAt := time.Now()
	_, err = tx.Exec(ctx, `
	UPDATE day_records
	SET phase = $2, closed = true, closed_at = $3, updated_at = NOW()
	WHERE id = $1
	`, rec.ID, day.PhaseClosed, closedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to close day record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit day close: %w", err)
	}

	daysClosed.WithLabelValues(strconv.FormatBool(qualified)).Inc()
	log.Printf("CloseDay: user %s date %s qualified=%t perfect=%t streak=%d",
		userID, dateKey, qualified, perfect, p.Streak.Current)

	if resolved == nil {
		resolved = []*quest.InstanceWithTemplate{}
	}
	if events == nil {
		events = []*progression.XPEvent{}
	}
	return &CloseResult{
		Date:      dateKey,
		Outcome:   outcome,
		Qualified: qualified,
		Perfect:   perfect,
		Streak:    p.Streak,
		Resolved:  resolved,
		XPEvents:  events,
		GraceOpen: p.Streak.CanRecover(time.Now().In(loc)),
		ClosedAt:  closedAt,
	}, nil
}

func (s *DayService) lockInstancesForClose(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dateKey string) ([]*quest.InstanceWithTemplate, error) {
	query := `
	SELECT` + instanceColumns + `,` + templateColumns + `
	FROM quest_instances i
	JOIN quest_templates t ON t.id = i.template_id
	WHERE i.user_id = $1 AND i.date = $2
	FOR UPDATE OF i
	`
	rows, err := tx.Query(ctx, query, userID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to lock instances: %w", err)
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
	return out, nil
}

// coreOutcome tallies core instances for day qualification. Allowed partial
// is an EXPIRED instance that earned XP at close.
func coreOutcome(instances []*quest.InstanceWithTemplate) streak.Outcome {
	var o streak.Outcome
	for _, item := range instances {
		if !item.Template.Core {
			continue
		}
		o.CoreTotal++
		switch item.Status {
		case quest.StatusCompleted:
			o.CoreCompleted++
		case quest.StatusExpired:
			if item.XPAwarded != nil && *item.XPAwarded > 0 {
				o.CorePartial++
			}
		}
	}
	return o
}

// recoveryDeadline is the end of the local day after the broken date: the
// whole following day remains available for a grace recovery, regardless of
// when (or by what) the record was closed.
func recoveryDeadline(dateKey string, loc *time.Location) (time.Time, error) {
	d, err := day.ParseDateKey(dateKey, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day()+2, 0, 0, 0, 0, loc), nil
}

// SweepAbandonedDays force-closes open day records whose local date has
// fully passed. A deployment convenience: correctness never depends on it
// because phase and expiry are recomputed lazily on read.
func (s *DayService) SweepAbandonedDays(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `
	SELECT d.user_id, d.date, p.timezone
	FROM day_records d
	JOIN players p ON p.id = d.user_id
	WHERE d.closed = false
	ORDER BY d.date
	LIMIT 500
	`)
	if err != nil {
		return fmt.Errorf("failed to list open day records: %w", err)
	}
	defer rows.Close()

	type openDay struct {
		userID   uuid.UUID
		dateKey  string
		timezone string
	}
	var open []openDay
	for rows.Next() {
		var o openDay
		var date time.Time
		if err := rows.Scan(&o.userID, &date, &o.timezone); err != nil {
			return fmt.Errorf("failed to scan open day record: %w", err)
		}
		o.dateKey = day.DateKey(date)
		open = append(open, o)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating open day records: %w", err)
	}

	for _, o := range open {
		loc := loadLocation(o.timezone, s.cfg.DefaultTimezone)
		today := day.DateKey(time.Now().In(loc))
		if o.dateKey >= today {
			continue
		}
		if _, err := s.closeDayOn(ctx, o.userID, o.dateKey, loc); err != nil {
			if apperr.IsConflict(err) {
				continue // closed by the user between listing and sweeping
			}
			log.Printf("SweepAbandonedDays: failed to close %s for user %s: %v", o.dateKey, o.userID, err)
		} else {
			log.Printf("SweepAbandonedDays: closed abandoned day %s for user %s", o.dateKey, o.userID)
		}
	}
	return nil
}
