package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		eb: c.EventBus,
		db: c.DB,
	}
}

// Record persists one completed weekly attempt. Records are immutable; a
// second record for the same user in the same week is a caller bug caught
// by the unique index.
func (s *Service) Record(ctx context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("generate record ID: %w", err)
	}
	rec.RecordID = id.String()

	const stmt = `
INSERT INTO scores (record_id, user_id, display_name, score, disqualified, week_id, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = s.db.Exec(ctx, stmt,
		rec.RecordID, rec.UserID, rec.DisplayName, rec.Score, rec.Disqualified,
		rec.WeekID, rec.CreateTime)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return domain.ScoreRecord{}, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("weekly attempt already recorded: user=%s", rec.UserID),
			errors.WithCause(err))
	}
	if err != nil {
		return domain.ScoreRecord{}, errors.Internal(err)
	}

	s.eb.Publish(ctx, domain.EventScoreRecorded{Record: rec})
	return rec, nil
}

// WeeklyScores lists the records created inside [weekStart, weekEnd),
// excluding administrator accounts, ordered score desc then earliest
// submission first. The leaderboard derives ranks from this order.
func (s *Service) WeeklyScores(ctx context.Context, weekStart, weekEnd time.Time) ([]domain.ScoreRecord, error) {
	const stmt = `
SELECT s.record_id, s.user_id, s.display_name, s.score, s.disqualified, s.week_id, s.create_time
FROM scores s
JOIN users u ON u.user_id = s.user_id
WHERE s.create_time >= $1 AND s.create_time < $2 AND NOT u.is_admin
ORDER BY s.score DESC, s.create_time ASC;`

	rows, err := s.db.Query(ctx, stmt, weekStart, weekEnd)
	if err != nil {
		return nil, errors.Internal(err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return records, nil
}

// History returns the user's score records most recent first, for the
// comeback evaluation.
func (s *Service) History(ctx context.Context, userID string) ([]domain.ScoreRecord, error) {
	const stmt = `
SELECT record_id, user_id, display_name, score, disqualified, week_id, create_time
FROM scores
WHERE user_id = $1
ORDER BY create_time DESC;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return records, nil
}

func scanRecord(r pgx.CollectableRow) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	if err := r.Scan(&rec.RecordID, &rec.UserID, &rec.DisplayName, &rec.Score, &rec.Disqualified, &rec.WeekID, &rec.CreateTime); err != nil {
		return domain.ScoreRecord{}, err
	}
	return rec, nil
}
