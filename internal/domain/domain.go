package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Badge names are a fixed set; grants are idempotent and never removed.
const (
	BadgeFinanceWhiz   = "Finance Whiz"
	BadgePerfectScore  = "Perfect Score"
	BadgeHotStreak     = "Hot Streak"
	BadgeComebackKid   = "Comeback Kid"
	BadgeWeeklyWarrior = "Weekly Warrior"
)

// UserAccount represents a player.
type UserAccount struct {
	UserID           string
	DisplayName      string
	Email            string
	Coins            int64
	Badges           []string
	Suspended        bool
	Admin            bool
	LastWeeklyPlay   *time.Time
	LastDailyPlay    *time.Time
	ConsecutiveWeeks int
	CreateTime       time.Time
}

// HasBadge reports whether the account already holds the named badge.
func (u UserAccount) HasBadge(name string) bool {
	for _, b := range u.Badges {
		if b == name {
			return true
		}
	}
	return false
}

// ScoreRecord is one completed weekly attempt. Immutable once written.
type ScoreRecord struct {
	RecordID     string
	UserID       string
	DisplayName  string
	Score        int
	Disqualified bool
	// WeekID denormalizes the Monday-anchored week so the store can
	// enforce one rewarded attempt per user per week.
	WeekID     string
	CreateTime time.Time
}

// PrizePool is the aggregated fund for one Monday-anchored week.
// The total grows through entry-fee contributions; admins may adjust it,
// but it never goes negative.
type PrizePool struct {
	WeekID    string
	Total     int64
	StartTime time.Time
}

// PaymentStatus values for manual top-up requests.
const (
	PaymentPending  = "pending"
	PaymentApproved = "approved"
	PaymentRejected = "rejected"
)

// PaymentTransaction is a user-submitted top-up reviewed by an admin.
// Status transitions pending->approved or pending->rejected exactly once.
type PaymentTransaction struct {
	PaymentID     string
	UserID        string
	ExternalTxID  string
	Amount        decimal.Decimal
	Status        string
	ScreenshotURL string
	CreateTime    time.Time
}

// QuizOption is one of exactly four answers on a question.
type QuizOption struct {
	OptionID   int    `json:"optionId"`
	OptionText string `json:"optionText"`
	Correct    bool   `json:"correct"`
}

// QuizQuestion is a generated trivia item with exactly one correct option.
// Questions live only for the session; score records keep the numeric
// result, not the content.
type QuizQuestion struct {
	QuestionID   int          `json:"questionId"`
	QuestionText string       `json:"questionText"`
	Options      []QuizOption `json:"options"`
}

// CorrectOption returns the single correct option.
func (q QuizQuestion) CorrectOption() (QuizOption, bool) {
	for _, o := range q.Options {
		if o.Correct {
			return o, true
		}
	}
	return QuizOption{}, false
}

// Leaderboard is the ranked view of the current week's attempts.
// Re-derivable at any time from score records and the pool total.
type Leaderboard struct {
	WeekID    string
	PoolTotal int64
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank        int
	UserID      string
	DisplayName string
	Score       int
	CreateTime  time.Time
	PrizeShare  int64
}
