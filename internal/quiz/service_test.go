package quiz_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/genai"
	"github.com/Dengwilliam/cashiq/internal/quiz"
)

// 2024-07-15 is a Monday.
var monday = time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)

func TestService_WeeklyFlow(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	wallet := &fakeWallet{}
	scores := &fakeScores{}
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}

	s := makeService(t, users, wallet, scores, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)
	require.Equal(t, []string{"u1/2024-07-15"}, wallet.enrolled, "entry fee must be debited before the session exists")

	// The client never sees the correct flags.
	for _, q := range sess.Questions() {
		for _, o := range q.Options {
			assert.False(t, o.Correct)
		}
	}

	// 17 correct (option 1), 3 wrong.
	for i := 1; i <= quiz.WeeklyQuestionCount; i++ {
		pick := 1
		if i > 17 {
			pick = 2
		}
		res, err := s.Answer(context.Background(), "u1", sess.SessionID, i, pick)
		require.NoError(t, err)
		assert.Equal(t, pick == 1, res.Correct)
		assert.Equal(t, 1, res.CorrectOptionID)
	}

	out, err := s.FinishWeekly(context.Background(), "u1", sess.SessionID, monday)
	require.NoError(t, err)

	assert.Equal(t, 85, out.Record.Score)
	assert.Equal(t, "2024-07-15", out.Record.WeekID)
	assert.False(t, out.Record.Disqualified)
	// 85 earns Finance Whiz; 17 straight correct answers earn Hot Streak.
	assert.ElementsMatch(t, []string{domain.BadgeFinanceWhiz, domain.BadgeHotStreak}, out.NewBadges)
	assert.Equal(t, 1, out.ConsecutiveWeeks)

	require.Len(t, scores.records, 1)
	require.Len(t, users.outcomes, 1)

	// The session is gone; the attempt cannot be finished again.
	_, err = s.FinishWeekly(context.Background(), "u1", sess.SessionID, monday)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_WeeklyEligibility(t *testing.T) {
	tests := map[string]struct {
		arrange func(u *fakeUsers)
		assert  func(t *testing.T, err error, wallet *fakeWallet)
	}{
		"should reject a second weekly attempt in the same week": {
			arrange: func(u *fakeUsers) {
				last := monday.Add(-2 * time.Hour) // same Monday-anchored week
				u.account.LastWeeklyPlay = &last
			},
			assert: func(t *testing.T, err error, wallet *fakeWallet) {
				assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
				assert.Empty(t, wallet.enrolled, "no debit on an ineligible attempt")
			},
		},

		"should allow a play in a new week": {
			arrange: func(u *fakeUsers) {
				last := monday.AddDate(0, 0, -7)
				u.account.LastWeeklyPlay = &last
			},
			assert: func(t *testing.T, err error, wallet *fakeWallet) {
				assert.NoError(t, err)
				assert.Len(t, wallet.enrolled, 1)
			},
		},

		"should reject a suspended account": {
			arrange: func(u *fakeUsers) {
				u.account.Suspended = true
			},
			assert: func(t *testing.T, err error, wallet *fakeWallet) {
				assert.True(t, errors.Is(err, errors.CodePermissionDenied))
				assert.Empty(t, wallet.enrolled)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			users := newFakeUsers("u1", "Alice")
			tt.arrange(users)
			wallet := &fakeWallet{}
			gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
			s := makeService(t, users, wallet, &fakeScores{}, gen)

			_, err := s.StartWeekly(context.Background(), "u1", monday)
			tt.assert(t, err, wallet)
		})
	}
}

func TestService_StartWeekly_RefundOnGenerationFailure(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	wallet := &fakeWallet{}
	gen := &fakeGenerator{err: errors.New(errors.CodeUnavailable)}
	s := makeService(t, users, wallet, &fakeScores{}, gen)

	_, err := s.StartWeekly(context.Background(), "u1", monday)
	require.True(t, errors.Is(err, errors.CodeUnavailable))

	assert.Equal(t, []string{"u1/2024-07-15"}, wallet.refunds, "the enrollment must come back out")
	assert.Empty(t, wallet.enrolled, "the week is open for another entry")
}

func TestService_StartWeekly_DoubleStartChargesOnce(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	wallet := &fakeWallet{}
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
	s := makeService(t, users, wallet, &fakeScores{}, gen)

	first, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)

	// A second start in the same week returns the live session instead of
	// debiting another fee.
	second, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, wallet.enrolled, 1)
	assert.Equal(t, 1, gen.calls)
}

func TestService_FinishWeekly_RetryAfterStoreFailure(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	scores := &fakeScores{recordErr: errors.New(errors.CodeUnavailable)}
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
	s := makeService(t, users, &fakeWallet{}, scores, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)
	_, err = s.Answer(context.Background(), "u1", sess.SessionID, 1, 1)
	require.NoError(t, err)

	_, err = s.FinishWeekly(context.Background(), "u1", sess.SessionID, monday)
	require.True(t, errors.Is(err, errors.CodeUnavailable))
	assert.Empty(t, scores.records)

	// The store came back; the paid-for attempt must eventually be
	// recorded with the same answers.
	out, err := s.FinishWeekly(context.Background(), "u1", sess.SessionID, monday)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Record.Score)
	require.Len(t, scores.records, 1)
}

func TestService_FinishDaily_RetryAfterCreditFailure(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	wallet := &fakeWallet{creditErr: errors.New(errors.CodeUnavailable)}
	gen := &fakeGenerator{questions: makeQuestions(quiz.DailyQuestionCount)}
	s := makeService(t, users, wallet, &fakeScores{}, gen)

	sess, err := s.StartDaily(context.Background(), "u1", monday)
	require.NoError(t, err)
	for i := 1; i <= quiz.DailyQuestionCount; i++ {
		_, err := s.Answer(context.Background(), "u1", sess.SessionID, i, 1)
		require.NoError(t, err)
	}

	_, err = s.FinishDaily(context.Background(), "u1", sess.SessionID, monday)
	require.True(t, errors.Is(err, errors.CodeUnavailable))
	assert.Empty(t, wallet.credits)

	out, err := s.FinishDaily(context.Background(), "u1", sess.SessionID, monday)
	require.NoError(t, err)
	assert.Equal(t, 25, out.Coins)
	assert.Equal(t, []int64{25}, wallet.credits)
}

func TestService_AntiCheat(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	scores := &fakeScores{}
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
	s := makeService(t, users, &fakeWallet{}, scores, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)

	// Answer a few correctly before going hidden.
	for i := 1; i <= 5; i++ {
		_, err := s.Answer(context.Background(), "u1", sess.SessionID, i, 1)
		require.NoError(t, err)
	}

	state, err := s.ReportHidden(context.Background(), "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.VisibilityWarned, state)

	// A warning does not block answering.
	_, err = s.Answer(context.Background(), "u1", sess.SessionID, 6, 1)
	require.NoError(t, err)

	state, err = s.ReportHidden(context.Background(), "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.VisibilityDisqualified, state)

	// Disqualification is terminal and blocks further answers.
	state, err = s.ReportHidden(context.Background(), "u1", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.VisibilityDisqualified, state)

	_, err = s.Answer(context.Background(), "u1", sess.SessionID, 7, 1)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	// The attempt still settles: zero score, week consumed, no badges.
	out, err := s.FinishWeekly(context.Background(), "u1", sess.SessionID, monday)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Record.Score)
	assert.True(t, out.Record.Disqualified)
	assert.Empty(t, out.NewBadges)
	require.Len(t, scores.records, 1)
}

func TestService_Answer_Idempotent(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
	s := makeService(t, users, &fakeWallet{}, &fakeScores{}, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)

	first, err := s.Answer(context.Background(), "u1", sess.SessionID, 1, 2)
	require.NoError(t, err)
	assert.False(t, first.Correct)

	// Retrying with a different option returns the original grade.
	again, err := s.Answer(context.Background(), "u1", sess.SessionID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestService_Answer_WrongUser(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount)}
	s := makeService(t, users, &fakeWallet{}, &fakeScores{}, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "u2", sess.SessionID, 1, 1)
	assert.True(t, errors.Is(err, errors.CodePermissionDenied))
}

func TestService_DailyFlow(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	wallet := &fakeWallet{}
	gen := &fakeGenerator{questions: makeQuestions(quiz.DailyQuestionCount)}
	s := makeService(t, users, wallet, &fakeScores{}, gen)

	sess, err := s.StartDaily(context.Background(), "u1", monday)
	require.NoError(t, err)
	assert.Empty(t, wallet.enrolled, "daily quizzes are free")

	for i := 1; i <= quiz.DailyQuestionCount; i++ {
		pick := 1
		if i > 3 {
			pick = 2
		}
		_, err := s.Answer(context.Background(), "u1", sess.SessionID, i, pick)
		require.NoError(t, err)
	}

	out, err := s.FinishDaily(context.Background(), "u1", sess.SessionID, monday)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Correct)
	assert.Equal(t, 15, out.Coins)
	assert.Equal(t, []int64{15}, wallet.credits)
	require.Len(t, users.lastDaily, 1)

	// Visibility reports are a no-op on daily sessions.
	users2 := newFakeUsers("u2", "Bob")
	s2 := makeService(t, users2, &fakeWallet{}, &fakeScores{}, gen)
	sess2, err := s2.StartDaily(context.Background(), "u2", monday)
	require.NoError(t, err)
	state, err := s2.ReportHidden(context.Background(), "u2", sess2.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.VisibilityClean, state)
}

func TestService_DailyQuizCached(t *testing.T) {
	gen := &fakeGenerator{questions: makeQuestions(quiz.DailyQuestionCount)}

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	for _, id := range []string{"u1", "u2", "u3"} {
		s := quiz.NewService(quiz.Config{
			Users:     newFakeUsers(id, "Player"),
			Wallet:    &fakeWallet{},
			Scores:    &fakeScores{},
			Generator: gen,
			Blobs:     fakeBlob{},
			Cycle:     cycle.New(time.UTC),
			Redis:     rc,
			Prefix:    "quiz:",
		})
		_, err := s.StartDaily(context.Background(), id, monday)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, gen.calls, "one generation serves every player of the day")
}

func TestService_DailyEligibility(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	last := monday.Add(-2 * time.Hour)
	users.account.LastDailyPlay = &last

	gen := &fakeGenerator{questions: makeQuestions(quiz.DailyQuestionCount)}
	s := makeService(t, users, &fakeWallet{}, &fakeScores{}, gen)

	_, err := s.StartDaily(context.Background(), "u1", monday)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_Explain(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	gen := &fakeGenerator{questions: makeQuestions(quiz.WeeklyQuestionCount), explanation: "because compounding"}
	s := makeService(t, users, &fakeWallet{}, &fakeScores{}, gen)

	sess, err := s.StartWeekly(context.Background(), "u1", monday)
	require.NoError(t, err)

	// Explanations only come after an answer.
	_, err = s.Explain(context.Background(), "u1", sess.SessionID, 1)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	_, err = s.Answer(context.Background(), "u1", sess.SessionID, 1, 2)
	require.NoError(t, err)

	exp, err := s.Explain(context.Background(), "u1", sess.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, "because compounding", exp)
}

func TestService_Share(t *testing.T) {
	users := newFakeUsers("u1", "Alice")
	scores := &fakeScores{history: []domain.ScoreRecord{{UserID: "u1", Score: 85}}}
	gen := &fakeGenerator{}
	s := makeService(t, users, &fakeWallet{}, scores, gen)

	url, err := s.Share(context.Background(), "u1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/shared", url)
	assert.Equal(t, 85, gen.sharedScore, "the shared score comes from the ledger")

	_, err = s.Share(context.Background(), "u2", "Nobody")
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

// makeQuestions builds n questions whose correct option is always 1.
func makeQuestions(n int) []domain.QuizQuestion {
	questions := make([]domain.QuizQuestion, 0, n)
	for i := 1; i <= n; i++ {
		questions = append(questions, domain.QuizQuestion{
			QuestionID:   i,
			QuestionText: fmt.Sprintf("Question %d?", i),
			Options: []domain.QuizOption{
				{OptionID: 1, OptionText: "Right", Correct: true},
				{OptionID: 2, OptionText: "Wrong A"},
				{OptionID: 3, OptionText: "Wrong B"},
				{OptionID: 4, OptionText: "Wrong C"},
			},
		})
	}
	return questions
}

func makeService(t *testing.T, users *fakeUsers, wallet *fakeWallet, scores *fakeScores, gen *fakeGenerator) *quiz.Service {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	return quiz.NewService(quiz.Config{
		Users:     users,
		Wallet:    wallet,
		Scores:    scores,
		Generator: gen,
		Blobs:     fakeBlob{},
		Cycle:     cycle.New(time.UTC),
		Redis:     rc,
		Prefix:    "quiz:",
	})
}

type fakeUsers struct {
	account   *domain.UserAccount
	outcomes  [][]string
	lastDaily []time.Time
}

func newFakeUsers(userID, displayName string) *fakeUsers {
	return &fakeUsers{account: &domain.UserAccount{
		UserID:      userID,
		DisplayName: displayName,
		Coins:       10000,
	}}
}

func (f *fakeUsers) Profile(_ context.Context, userID string) (*domain.UserAccount, error) {
	if userID != f.account.UserID {
		return nil, errors.New(errors.CodeNotFound)
	}
	return f.account, nil
}

func (f *fakeUsers) ApplyWeeklyOutcome(_ context.Context, _ string, badges []string, consecutiveWeeks int, lastPlay time.Time, _ []string) error {
	f.account.Badges = badges
	f.account.ConsecutiveWeeks = consecutiveWeeks
	f.account.LastWeeklyPlay = &lastPlay
	f.outcomes = append(f.outcomes, badges)
	return nil
}

func (f *fakeUsers) SetLastDaily(_ context.Context, _ string, at time.Time) error {
	f.account.LastDailyPlay = &at
	f.lastDaily = append(f.lastDaily, at)
	return nil
}

type fakeWallet struct {
	enrolled  []string
	credits   []int64
	refunds   []string
	creditErr error
}

func (f *fakeWallet) Enroll(_ context.Context, userID, weekID string, _ time.Time) error {
	key := userID + "/" + weekID
	for _, e := range f.enrolled {
		if e == key {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("already enrolled: %s", key))
		}
	}
	f.enrolled = append(f.enrolled, key)
	return nil
}

func (f *fakeWallet) Credit(_ context.Context, _ string, coins int64) error {
	if err := f.creditErr; err != nil {
		f.creditErr = nil
		return err
	}
	f.credits = append(f.credits, coins)
	return nil
}

func (f *fakeWallet) Refund(_ context.Context, userID, weekID string) error {
	key := userID + "/" + weekID
	for i, e := range f.enrolled {
		if e == key {
			f.enrolled = append(f.enrolled[:i], f.enrolled[i+1:]...)
			f.refunds = append(f.refunds, key)
			return nil
		}
	}
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("no enrollment to refund: %s", key))
}

type fakeScores struct {
	records   []domain.ScoreRecord
	history   []domain.ScoreRecord
	recordErr error
}

func (f *fakeScores) Record(_ context.Context, rec domain.ScoreRecord) (domain.ScoreRecord, error) {
	if err := f.recordErr; err != nil {
		f.recordErr = nil
		return domain.ScoreRecord{}, err
	}
	rec.RecordID = fmt.Sprintf("r%d", len(f.records)+1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeScores) History(_ context.Context, userID string) ([]domain.ScoreRecord, error) {
	var out []domain.ScoreRecord
	for _, r := range f.history {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	questions   []domain.QuizQuestion
	err         error
	explanation string
	sharedScore int
	calls       int
}

func (f *fakeGenerator) GenerateQuiz(_ context.Context, _ genai.GenerateRequest) ([]domain.QuizQuestion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.questions, nil
}

func (f *fakeGenerator) Explain(_ context.Context, _ domain.QuizQuestion, _ int) (string, error) {
	return f.explanation, nil
}

func (f *fakeGenerator) ShareImage(_ context.Context, _ string, finalScore int) (string, string, error) {
	f.sharedScore = finalScore
	return "aGVsbG8=", "image/png", nil
}

type fakeBlob struct{}

func (fakeBlob) Upload(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "https://blobs.test/shared", nil
}
