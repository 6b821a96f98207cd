// Package quiz runs quiz attempts end to end: eligibility, enrollment,
// content generation, answering, the visibility monitor, and settlement
// into scores, badges and coins.
package quiz

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Dengwilliam/cashiq/internal/blob"
	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/genai"
	"github.com/Dengwilliam/cashiq/internal/reward"
	"github.com/Dengwilliam/cashiq/internal/telemetry"
)

const (
	WeeklyQuestionCount = 20
	DailyQuestionCount  = 5

	dailyCacheTTL = 26 * time.Hour
)

// Users is the slice of the account service the quiz flow needs.
type Users interface {
	Profile(ctx context.Context, userID string) (*domain.UserAccount, error)
	ApplyWeeklyOutcome(ctx context.Context, userID string, badges []string, consecutiveWeeks int, lastPlay time.Time, newBadges []string) error
	SetLastDaily(ctx context.Context, userID string, at time.Time) error
}

// Wallet moves coins around an attempt. Refund backs out an enrollment
// whose content generation failed.
type Wallet interface {
	Enroll(ctx context.Context, userID, weekID string, now time.Time) error
	Credit(ctx context.Context, userID string, coins int64) error
	Refund(ctx context.Context, userID, weekID string) error
}

// Scores persists finished weekly attempts.
type Scores interface {
	Record(ctx context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error)
	History(ctx context.Context, userID string) ([]domain.ScoreRecord, error)
}

// Generator produces quiz content.
type Generator interface {
	GenerateQuiz(ctx context.Context, req genai.GenerateRequest) ([]domain.QuizQuestion, error)
	Explain(ctx context.Context, q domain.QuizQuestion, selectedID int) (string, error)
	ShareImage(ctx context.Context, displayName string, finalScore int) (string, string, error)
}

type Config struct {
	Users     Users
	Wallet    Wallet
	Scores    Scores
	Generator Generator
	Blobs     blob.Store
	Cycle     cycle.Calculator

	// Redis caches the shared daily quiz so one generation serves every
	// player of the day.
	Redis  redis.UniversalClient
	Prefix string
}

type Service struct {
	users    Users
	wallet   Wallet
	scores   Scores
	gen      Generator
	blobs    blob.Store
	cycle    cycle.Calculator
	rdb      redis.UniversalClient
	prefix   string
	sessions *registry
	sf       singleflight.Group
}

func NewService(c Config) *Service {
	return &Service{
		users:    c.Users,
		wallet:   c.Wallet,
		scores:   c.Scores,
		gen:      c.Generator,
		blobs:    c.Blobs,
		cycle:    c.Cycle,
		rdb:      c.Redis,
		prefix:   c.Prefix,
		sessions: newRegistry(),
	}
}

// StartWeekly enrolls the user into this week's quiz. The entry-fee debit
// must commit before any content is generated; if generation then fails,
// the enrollment is backed out so the user is not charged for nothing.
func (s *Service) StartWeekly(ctx context.Context, userID string, now time.Time) (*Session, error) {
	u, err := s.users.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Suspended {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("account is suspended"))
	}
	if !s.cycle.CanPlayWeekly(u.LastWeeklyPlay, now) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("weekly quiz already played this week"))
	}

	weekID := s.cycle.WeekID(now)
	charged := true
	if err := s.wallet.Enroll(ctx, userID, weekID, now); err != nil {
		if !errors.Is(err, errors.CodeAlreadyExists) {
			return nil, err
		}
		// Already paid for this week. A racing double start gets the
		// live session back instead of a second charge; an enrollment
		// stranded without a session (crash, lost generation) gets a
		// fresh quiz for free.
		if sess, ok := s.sessions.lookup(userID, ModeWeekly); ok && sess.WeekID == weekID {
			return sess, nil
		}
		charged = false
	}
	if charged {
		telemetry.Enrollments.Inc()
	}

	questions, err := s.gen.GenerateQuiz(ctx, genai.GenerateRequest{
		Count:      WeeklyQuestionCount,
		Difficulty: "mixed",
	})
	if err != nil {
		telemetry.GenerationFailures.Inc()
		if charged {
			s.refundEnrollment(ctx, userID, weekID)
		}
		return nil, err
	}

	sess, err := s.startSession(u, ModeWeekly, weekID, questions, now)
	if err != nil {
		return nil, err
	}
	telemetry.AttemptsStarted.WithLabelValues(string(ModeWeekly)).Inc()
	return sess, nil
}

// StartDaily opens a free practice session on the shared quiz of the day.
func (s *Service) StartDaily(ctx context.Context, userID string, now time.Time) (*Session, error) {
	u, err := s.users.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Suspended {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("account is suspended"))
	}
	if !s.cycle.CanPlayDaily(u.LastDailyPlay, now) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("daily quiz already played today"))
	}

	questions, err := s.dailyQuestions(ctx, now)
	if err != nil {
		telemetry.GenerationFailures.Inc()
		return nil, err
	}

	sess, err := s.startSession(u, ModeDaily, s.cycle.WeekID(now), questions, now)
	if err != nil {
		return nil, err
	}
	telemetry.AttemptsStarted.WithLabelValues(string(ModeDaily)).Inc()
	return sess, nil
}

func (s *Service) startSession(u *domain.UserAccount, mode Mode, weekID string, questions []domain.QuizQuestion, now time.Time) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	sess := newSession(id.String(), u.UserID, u.DisplayName, mode, weekID, questions, now)
	s.sessions.add(sess)
	return sess, nil
}

// refundEnrollment backs out a committed enrollment after a generation
// failure. Best-effort: a failed refund is logged for manual follow-up
// rather than masking the original error.
func (s *Service) refundEnrollment(ctx context.Context, userID, weekID string) {
	if err := s.wallet.Refund(ctx, userID, weekID); err != nil {
		slog.ErrorContext(ctx, "quiz: enrollment refund failed",
			"user", userID, "week", weekID, "error", err)
	}
}

func (s *Service) dailyKey(now time.Time) string {
	return s.prefix + "daily:" + now.UTC().Format("2006-01-02")
}

// dailyQuestions returns the day's shared quiz, generating it at most once
// per instance and caching it in redis for the rest of the day.
func (s *Service) dailyQuestions(ctx context.Context, now time.Time) ([]domain.QuizQuestion, error) {
	key := s.dailyKey(now)

	v, err, _ := s.sf.Do(key, func() (any, error) {
		cached, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var questions []domain.QuizQuestion
			if err := json.Unmarshal(cached, &questions); err == nil {
				return questions, nil
			}
			slog.WarnContext(ctx, "quiz: discarding malformed daily cache", "key", key)
		} else if err != redis.Nil {
			slog.WarnContext(ctx, "quiz: daily cache read failed", "key", key, "error", err)
		}

		questions, err := s.gen.GenerateQuiz(ctx, genai.GenerateRequest{
			Count:      DailyQuestionCount,
			Difficulty: "easy",
		})
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal daily quiz: %w", err)
		}
		if err := s.rdb.Set(ctx, key, body, dailyCacheTTL).Err(); err != nil {
			slog.WarnContext(ctx, "quiz: daily cache write failed", "key", key, "error", err)
		}

		return questions, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]domain.QuizQuestion), nil
}

// AnswerResult is the graded outcome of one submitted answer.
type AnswerResult struct {
	Correct         bool `json:"correct"`
	CorrectOptionID int  `json:"correctOptionId"`
}

// Answer grades one question of a live session. Re-answering a question
// returns the original grade.
func (s *Service) Answer(ctx context.Context, userID, sessionID string, questionID, optionID int) (AnswerResult, error) {
	sess, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return AnswerResult{}, err
	}

	out, err := sess.answer(questionID, optionID)
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Correct: out.Correct, CorrectOptionID: out.CorrectOptionID}, nil
}

// ReportHidden records a tab-switch or window-hide during a live session
// and returns the resulting visibility state. Daily sessions are exempt;
// for weekly sessions the second report disqualifies the attempt.
func (s *Service) ReportHidden(ctx context.Context, userID, sessionID string) (string, error) {
	sess, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return "", err
	}

	state, err := sess.reportHidden()
	if err != nil {
		return "", err
	}
	if state == VisibilityDisqualified {
		telemetry.Disqualifications.Inc()
		slog.InfoContext(ctx, "quiz: attempt disqualified",
			"user", userID, "session", sessionID)
	}
	return state, nil
}

// WeeklyResult is what a finished weekly attempt settles into.
type WeeklyResult struct {
	Record           domain.ScoreRecord `json:"record"`
	Badges           []string           `json:"badges"`
	NewBadges        []string           `json:"newBadges,omitempty"`
	ConsecutiveWeeks int                `json:"consecutiveWeeks"`
}

// FinishWeekly seals the session, evaluates rewards and persists the score
// record. The record write is the settlement of truth and must succeed;
// the profile update after it is retried out-of-band on failure, never by
// replaying the attempt.
func (s *Service) FinishWeekly(ctx context.Context, userID, sessionID string, now time.Time) (WeeklyResult, error) {
	sess, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return WeeklyResult{}, err
	}
	if sess.Mode != ModeWeekly {
		return WeeklyResult{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("not a weekly session"))
	}

	res, err := sess.finish()
	if err != nil {
		return WeeklyResult{}, err
	}

	u, err := s.users.Profile(ctx, userID)
	if err != nil {
		sess.reopen()
		return WeeklyResult{}, err
	}
	history, err := s.scores.History(ctx, userID)
	if err != nil {
		sess.reopen()
		return WeeklyResult{}, err
	}

	out := reward.EvaluateWeekly(s.cycle, reward.WeeklyInput{
		Score:            reward.WeeklyScore(res.Correct),
		Disqualified:     res.Disqualified,
		History:          history,
		Badges:           u.Badges,
		MaxStreak:        res.MaxStreak,
		ConsecutiveWeeks: u.ConsecutiveWeeks,
		LastWeeklyPlay:   u.LastWeeklyPlay,
		Now:              now,
	})

	rec, err := s.scores.Record(ctx, domain.ScoreRecord{
		UserID:       userID,
		DisplayName:  sess.DisplayName,
		Score:        out.FinalScore,
		Disqualified: res.Disqualified,
		WeekID:       sess.WeekID,
		CreateTime:   now,
	})
	if err != nil {
		// The paid-for attempt must eventually land in the ledger; the
		// session stays retryable until the record commits.
		sess.reopen()
		return WeeklyResult{}, err
	}

	if err := s.users.ApplyWeeklyOutcome(ctx, userID, out.Badges, out.ConsecutiveWeeks, out.LastWeeklyPlay, out.NewBadges); err != nil {
		slog.ErrorContext(ctx, "quiz: profile update after settlement failed",
			"user", userID, "record", rec.RecordID, "error", err)
	}

	s.sessions.remove(sessionID)
	telemetry.AttemptsFinished.WithLabelValues(string(ModeWeekly)).Inc()

	return WeeklyResult{
		Record:           rec,
		Badges:           out.Badges,
		NewBadges:        out.NewBadges,
		ConsecutiveWeeks: out.ConsecutiveWeeks,
	}, nil
}

// DailyResult is the payout of a finished daily session.
type DailyResult struct {
	Correct int `json:"correct"`
	Coins   int `json:"coins"`
}

// FinishDaily seals the session and pays out coins per correct answer.
func (s *Service) FinishDaily(ctx context.Context, userID, sessionID string, now time.Time) (DailyResult, error) {
	sess, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return DailyResult{}, err
	}
	if sess.Mode != ModeDaily {
		return DailyResult{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("not a daily session"))
	}

	res, err := sess.finish()
	if err != nil {
		return DailyResult{}, err
	}

	coins := reward.DailyCoins(res.Correct)
	if err := s.wallet.Credit(ctx, userID, int64(coins)); err != nil {
		sess.reopen()
		return DailyResult{}, err
	}
	if err := s.users.SetLastDaily(ctx, userID, now); err != nil {
		slog.ErrorContext(ctx, "quiz: daily timestamp update failed",
			"user", userID, "error", err)
	}

	s.sessions.remove(sessionID)
	telemetry.AttemptsFinished.WithLabelValues(string(ModeDaily)).Inc()

	return DailyResult{Correct: res.Correct, Coins: coins}, nil
}

// Explain returns a generated explanation for a question the user has
// already answered. Unanswered questions stay unexplained so the correct
// option never leaks mid-attempt.
func (s *Service) Explain(ctx context.Context, userID, sessionID string, questionID int) (string, error) {
	sess, err := s.sessions.get(sessionID, userID)
	if err != nil {
		return "", err
	}

	ans, ok := sess.answered(questionID)
	if !ok {
		return "", errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question not answered yet: %d", questionID))
	}
	q, ok := sess.question(questionID)
	if !ok {
		return "", errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not in session: %d", questionID))
	}

	return s.gen.Explain(ctx, q, ans.Selected)
}

// History returns the user's recorded weekly attempts, most recent first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.ScoreRecord, error) {
	return s.scores.History(ctx, userID)
}

// Share renders a share card for the user's most recent recorded score and
// uploads it to the blob store. The score comes from the score ledger, not
// from the client.
func (s *Service) Share(ctx context.Context, userID, displayName string) (string, error) {
	history, err := s.scores.History(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no recorded score to share"))
	}

	b64, contentType, err := s.gen.ShareImage(ctx, displayName, history[0].Score)
	if err != nil {
		return "", err
	}
	img, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("content generation returned undecodable image"),
			errors.WithCause(err))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate share ID: %w", err)
	}

	url, err := s.blobs.Upload(ctx, "shares/"+id.String(), contentType, bytes.NewReader(img))
	if err != nil {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("share image upload failed"),
			errors.WithCause(err))
	}
	return url, nil
}
