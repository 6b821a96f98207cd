package user

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
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

// GetOrCreate resolves the account for an authenticated identity, creating
// it on first sign-in.
func (s *Service) GetOrCreate(ctx context.Context, userID, displayName, email string) (*domain.UserAccount, error) {
	const stmt = `
INSERT INTO users (user_id, display_name, email, coins, badges, create_time)
VALUES ($1, $2, $3, 0, '{}', $4)
ON CONFLICT (user_id) DO NOTHING;`

	if _, err := s.db.Exec(ctx, stmt, userID, displayName, email, time.Now()); err != nil {
		return nil, errors.Internal(err)
	}

	return s.Profile(ctx, userID)
}

// Profile returns the full account row.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.UserAccount, error) {
	const stmt = `
SELECT user_id, display_name, email, coins, badges, suspended, is_admin,
       last_weekly_play, last_daily_play, consecutive_weeks, create_time
FROM users
WHERE user_id = $1;`

	u := &domain.UserAccount{}
	err := s.db.QueryRow(ctx, stmt, userID).Scan(
		&u.UserID,
		&u.DisplayName,
		&u.Email,
		&u.Coins,
		&u.Badges,
		&u.Suspended,
		&u.Admin,
		&u.LastWeeklyPlay,
		&u.LastDailyPlay,
		&u.ConsecutiveWeeks,
		&u.CreateTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	return u, nil
}

// ApplyWeeklyOutcome persists the post-attempt profile update: badge set
// union, consecutive-weeks counter and last-played timestamp. The badge
// array only ever grows; dedup happened in the reward calculator.
func (s *Service) ApplyWeeklyOutcome(ctx context.Context, userID string, badges []string, consecutiveWeeks int, lastPlay time.Time, newBadges []string) error {
	const stmt = `
UPDATE users
SET badges = $2, consecutive_weeks = $3, last_weekly_play = $4
WHERE user_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, userID, badges, consecutiveWeeks, lastPlay)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}

	if len(newBadges) > 0 {
		s.eb.Publish(ctx, domain.EventBadgeAwarded{UserID: userID, Badges: newBadges})
	}
	return nil
}

// SetLastDaily stamps the daily-play timestamp after a finished daily quiz.
func (s *Service) SetLastDaily(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET last_daily_play = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}
	return nil
}

// SetSuspended toggles the administrator-only suspension flag.
func (s *Service) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET suspended = $2 WHERE user_id = $1`, userID, suspended)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}
	return nil
}
