// Package payment handles manual coin top-ups: a user submits an external
// transaction id plus a receipt screenshot, an administrator approves or
// rejects it exactly once, and approval credits the coins.
package payment

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Dengwilliam/cashiq/internal/blob"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/event"
)

// Wallet is the slice of the coin ledger the payment flow needs.
type Wallet interface {
	Credit(ctx context.Context, userID string, coins int64) error
}

// Mailer delivers review notifications; failures are non-fatal.
type Mailer interface {
	SendAsync(ctx context.Context, to, subject, html string)
}

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
	Wallet   Wallet
	Blobs    blob.Store
	Mailer   Mailer
}

type Service struct {
	eb     *event.Bus
	db     *pgxpool.Pool
	wallet Wallet
	blobs  blob.Store
	mailer Mailer
}

func NewService(c Config) *Service {
	return &Service{
		eb:     c.EventBus,
		db:     c.DB,
		wallet: c.Wallet,
		blobs:  c.Blobs,
		mailer: c.Mailer,
	}
}

// Submit records a pending top-up. The screenshot lands in the blob store
// first; a submission without a durable receipt reference is rejected.
func (s *Service) Submit(ctx context.Context, userID, externalTxID string, amount decimal.Decimal, screenshot io.Reader, contentType string) (domain.PaymentTransaction, error) {
	if !amount.IsPositive() {
		return domain.PaymentTransaction{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("amount must be positive"))
	}
	if externalTxID == "" {
		return domain.PaymentTransaction{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("missing external transaction id"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("generate payment ID: %w", err)
	}

	url, err := s.blobs.Upload(ctx, "payments/"+id.String(), contentType, screenshot)
	if err != nil {
		return domain.PaymentTransaction{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("screenshot upload failed"),
			errors.WithCause(err))
	}

	p := domain.PaymentTransaction{
		PaymentID:     id.String(),
		UserID:        userID,
		ExternalTxID:  externalTxID,
		Amount:        amount,
		Status:        domain.PaymentPending,
		ScreenshotURL: url,
		CreateTime:    time.Now(),
	}

	const stmt = `
INSERT INTO payments (payment_id, user_id, external_tx_id, amount, status, screenshot_url, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	if _, err := s.db.Exec(ctx, stmt,
		p.PaymentID, p.UserID, p.ExternalTxID, p.Amount, p.Status, p.ScreenshotURL, p.CreateTime); err != nil {
		return domain.PaymentTransaction{}, errors.Internal(err)
	}

	return p, nil
}

// Review settles a pending payment exactly once. The guarded update is the
// only writer of the status column, so a double review loses the race and
// fails cleanly. Approval credits coins; both outcomes notify the user by
// mail, best-effort.
func (s *Service) Review(ctx context.Context, paymentID, reviewerID string, approve bool) (domain.PaymentTransaction, error) {
	status := domain.PaymentRejected
	if approve {
		status = domain.PaymentApproved
	}

	const stmt = `
UPDATE payments SET status = $2, reviewed_by = $3, review_time = now()
WHERE payment_id = $1 AND status = 'pending'
RETURNING payment_id, user_id, external_tx_id, amount, status, screenshot_url, create_time;`

	var p domain.PaymentTransaction
	err := s.db.QueryRow(ctx, stmt, paymentID, status, reviewerID).Scan(
		&p.PaymentID, &p.UserID, &p.ExternalTxID, &p.Amount, &p.Status, &p.ScreenshotURL, &p.CreateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentTransaction{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("payment is not pending: %s", paymentID))
	}
	if err != nil {
		return domain.PaymentTransaction{}, errors.Internal(err)
	}

	if approve {
		if err := s.wallet.Credit(ctx, p.UserID, p.Amount.IntPart()); err != nil {
			// The status row is already settled; a failed credit is a
			// payout bug to chase down, not a reason to re-open review.
			slog.ErrorContext(ctx, "payment: credit after approval failed",
				"payment", p.PaymentID, "user", p.UserID, "error", err)
		}
	}

	s.notify(ctx, p)
	s.eb.Publish(ctx, domain.EventPaymentReviewed{Payment: p})

	return p, nil
}

// ListPending returns payments awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]domain.PaymentTransaction, error) {
	const stmt = `
SELECT payment_id, user_id, external_tx_id, amount, status, screenshot_url, create_time
FROM payments
WHERE status = 'pending'
ORDER BY create_time ASC;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, errors.Internal(err)
	}

	payments, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.PaymentTransaction, error) {
		var p domain.PaymentTransaction
		if err := r.Scan(&p.PaymentID, &p.UserID, &p.ExternalTxID, &p.Amount, &p.Status, &p.ScreenshotURL, &p.CreateTime); err != nil {
			return domain.PaymentTransaction{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return payments, nil
}

func (s *Service) notify(ctx context.Context, p domain.PaymentTransaction) {
	if s.mailer == nil {
		return
	}

	var email string
	err := s.db.QueryRow(ctx, `SELECT email FROM users WHERE user_id = $1`, p.UserID).Scan(&email)
	if err != nil || email == "" {
		slog.WarnContext(ctx, "payment: no email for review notification", "user", p.UserID)
		return
	}

	subject := "Your CashIQ top-up was rejected"
	html := fmt.Sprintf("<p>Your top-up %s could not be verified.</p>", p.ExternalTxID)
	if p.Status == domain.PaymentApproved {
		subject = "Your CashIQ top-up was approved"
		html = fmt.Sprintf("<p>%s coins have been added to your balance.</p>", p.Amount.StringFixed(0))
	}

	s.mailer.SendAsync(ctx, email, subject, html)
}
