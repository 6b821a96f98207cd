// Package wallet moves coins. The weekly enrollment is the only operation
// needing cross-client atomicity: the user debit and the prize-pool credit
// commit together or not at all.
package wallet

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/event"
)

type Config struct {
	EventBus         *event.Bus
	DB               *pgxpool.Pool
	EntryFee         int64
	PoolContribution int64
}

type Service struct {
	eb           *event.Bus
	db           *pgxpool.Pool
	fee          int64
	contribution int64
}

func NewService(c Config) *Service {
	return &Service{
		eb:           c.EventBus,
		db:           c.DB,
		fee:          c.EntryFee,
		contribution: c.PoolContribution,
	}
}

// Enroll debits the entry fee from the user and credits the week's prize
// pool in one transaction. The user row is locked for the duration, so two
// racing enrollments serialize instead of double-spending; the pool upsert
// is a commutative increment, so concurrent weeks never lose an update.
// The quiz session must not start unless this commits.
func (s *Service) Enroll(ctx context.Context, userID, weekID string, now time.Time) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			rbErr := tx.Rollback(ctx)
			if rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = stderrors.Join(err, rbErr)
			}
		}
	}()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT coins FROM users WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&balance)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.InsufficientFunds(0, s.fee)
	}
	if err != nil {
		return convertPgError(err)
	}

	if balance < s.fee {
		return errors.InsufficientFunds(balance, s.fee)
	}

	if _, err = tx.Exec(ctx,
		`UPDATE users SET coins = coins - $2 WHERE user_id = $1`, userID, s.fee,
	); err != nil {
		return convertPgError(err)
	}

	// The enrollment row consumes the week inside the same transaction,
	// so a racing double enrollment cannot charge the fee twice.
	if _, err = tx.Exec(ctx,
		`INSERT INTO enrollments (user_id, week_id, create_time) VALUES ($1, $2, $3)`,
		userID, weekID, now,
	); err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("already enrolled: user=%s week=%s", userID, weekID),
				errors.WithCause(err))
		}
		return convertPgError(err)
	}

	var total int64
	err = tx.QueryRow(ctx, `
INSERT INTO prize_pools (week_id, total, start_time)
VALUES ($1, $2, $3)
ON CONFLICT (week_id) DO UPDATE SET total = prize_pools.total + EXCLUDED.total
RETURNING total;`,
		weekID, s.contribution, now,
	).Scan(&total)
	if err != nil {
		return convertPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return convertPgError(err)
	}

	s.eb.Publish(ctx, domain.EventPoolUpdated{WeekID: weekID, Total: total})
	return nil
}

// Refund backs out an enrollment whose quiz never materialized: the fee
// goes back to the user, the pool contribution comes back out, and the
// enrollment row is released so the user may enter the week again. All or
// nothing, and only once per enrollment.
func (s *Service) Refund(ctx context.Context, userID, weekID string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			rbErr := tx.Rollback(ctx)
			if rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = stderrors.Join(err, rbErr)
			}
		}
	}()

	tag, err := tx.Exec(ctx,
		`DELETE FROM enrollments WHERE user_id = $1 AND week_id = $2`, userID, weekID)
	if err != nil {
		return convertPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no enrollment to refund: user=%s week=%s", userID, weekID))
	}

	if _, err = tx.Exec(ctx,
		`UPDATE users SET coins = coins + $2 WHERE user_id = $1`, userID, s.fee,
	); err != nil {
		return convertPgError(err)
	}

	var total int64
	err = tx.QueryRow(ctx, `
UPDATE prize_pools SET total = total - $2
WHERE week_id = $1 AND total - $2 >= 0
RETURNING total;`,
		weekID, s.contribution,
	).Scan(&total)
	if err != nil {
		return convertPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return convertPgError(err)
	}

	s.eb.Publish(ctx, domain.EventPoolUpdated{WeekID: weekID, Total: total})
	return nil
}

// Credit adds coins to a user (daily reward, approved top-up). Zero or
// negative amounts are a no-op.
func (s *Service) Credit(ctx context.Context, userID string, coins int64) error {
	if coins <= 0 {
		return nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET coins = coins + $2 WHERE user_id = $1`, userID, coins)
	if err != nil {
		return convertPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}
	return nil
}

// Balance returns the user's current coin balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.db.QueryRow(ctx,
		`SELECT coins FROM users WHERE user_id = $1`, userID).Scan(&coins)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", userID))
	}
	if err != nil {
		return 0, convertPgError(err)
	}
	return coins, nil
}

// AdjustPool applies a manual administrator adjustment to a week's pool.
// An increase may seed a week nobody has entered yet; the total never
// goes negative, so an over-large decrease is rejected.
func (s *Service) AdjustPool(ctx context.Context, weekID string, delta int64) error {
	var (
		total int64
		err   error
	)
	if delta >= 0 {
		err = s.db.QueryRow(ctx, `
INSERT INTO prize_pools (week_id, total, start_time)
VALUES ($1, $2, $3)
ON CONFLICT (week_id) DO UPDATE SET total = prize_pools.total + EXCLUDED.total
RETURNING total;`,
			weekID, delta, time.Now(),
		).Scan(&total)
	} else {
		err = s.db.QueryRow(ctx, `
UPDATE prize_pools SET total = total + $2
WHERE week_id = $1 AND total + $2 >= 0
RETURNING total;`,
			weekID, delta,
		).Scan(&total)
	}
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("pool adjustment rejected: week=%s delta=%d", weekID, delta))
	}
	if err != nil {
		return convertPgError(err)
	}

	s.eb.Publish(ctx, domain.EventPoolUpdated{WeekID: weekID, Total: total})
	return nil
}

// PoolTotal returns the week's accumulated prize fund; a week nobody has
// entered yet reports zero.
func (s *Service) PoolTotal(ctx context.Context, weekID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT total FROM prize_pools WHERE week_id = $1`, weekID).Scan(&total)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, convertPgError(err)
	}
	return total, nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// convertPgError maps postgres write contention onto the Aborted code so
// the API can answer "try again" instead of a raw internal error.
func convertPgError(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		if pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected {
			return errors.Conflict(err)
		}
	}
	return errors.Internal(err)
}
