// Package reward computes end-of-attempt side effects: final score, badge
// grants and the consecutive-weeks streak for weekly quizzes, and the coin
// payout for daily quizzes. Everything here is pure; persistence belongs
// to the callers.
package reward

import (
	"time"

	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/domain"
)

const (
	// EntryFee is debited from the user once per weekly enrollment.
	EntryFee int64 = 1000
	// PoolContribution is credited to the week's prize pool per enrollment.
	PoolContribution int64 = 25000
	// CoinsPerCorrect is the daily-quiz payout per correct answer.
	CoinsPerCorrect = 5
	// PointsPerQuestion makes 20 weekly questions span 0-100 in steps of 5.
	PointsPerQuestion = 5

	// WeeklyWarriorWeeks is the consecutive-weeks threshold for the badge.
	WeeklyWarriorWeeks = 3
	// HotStreakLength is the correct-answer streak threshold for the badge.
	HotStreakLength = 5
)

// WeeklyInput carries everything EvaluateWeekly needs to decide rewards.
type WeeklyInput struct {
	Score        int
	Disqualified bool
	// History holds the user's prior weekly score records, most recent
	// first. The attempt being evaluated must not be included.
	History []domain.ScoreRecord
	Badges  []string
	// MaxStreak is the longest run of consecutive correct answers
	// observed during the attempt.
	MaxStreak        int
	ConsecutiveWeeks int
	LastWeeklyPlay   *time.Time
	Now              time.Time
}

// WeeklyOutcome is what the caller persists: the finalized score, the full
// badge set, the updated streak counter and last-played timestamp, plus
// the delta of badges the user did not hold before.
type WeeklyOutcome struct {
	FinalScore       int
	Badges           []string
	NewBadges        []string
	ConsecutiveWeeks int
	LastWeeklyPlay   time.Time
}

// EvaluateWeekly applies the badge rules in order; each is independently
// additive. A disqualified attempt records a zero score and still consumes
// the week, but skips badges and the streak update entirely.
func EvaluateWeekly(c cycle.Calculator, in WeeklyInput) WeeklyOutcome {
	out := WeeklyOutcome{
		FinalScore:       in.Score,
		Badges:           append([]string(nil), in.Badges...),
		ConsecutiveWeeks: in.ConsecutiveWeeks,
		LastWeeklyPlay:   in.Now,
	}

	if in.Disqualified {
		out.FinalScore = 0
		return out
	}

	var qualified []string
	if in.Score >= 80 {
		qualified = append(qualified, domain.BadgeFinanceWhiz)
	}
	if in.Score == 100 {
		qualified = append(qualified, domain.BadgePerfectScore)
	}
	if in.MaxStreak >= HotStreakLength {
		qualified = append(qualified, domain.BadgeHotStreak)
	}
	if comeback(in.Score, in.History) {
		qualified = append(qualified, domain.BadgeComebackKid)
	}

	out.ConsecutiveWeeks = nextConsecutiveWeeks(c, in)
	if out.ConsecutiveWeeks >= WeeklyWarriorWeeks {
		qualified = append(qualified, domain.BadgeWeeklyWarrior)
	}

	held := make(map[string]bool, len(in.Badges))
	for _, b := range in.Badges {
		held[b] = true
	}
	for _, b := range qualified {
		if held[b] {
			continue
		}
		held[b] = true
		out.Badges = append(out.Badges, b)
		out.NewBadges = append(out.NewBadges, b)
	}

	return out
}

// comeback requires at least two prior scores and a new score beating the
// maximum of all of them except the single most recent one. The most
// recent prior record is deliberately excluded from the comparison.
func comeback(score int, history []domain.ScoreRecord) bool {
	if len(history) < 2 {
		return false
	}
	best := history[1].Score
	for _, r := range history[2:] {
		if r.Score > best {
			best = r.Score
		}
	}
	return score > best
}

// nextConsecutiveWeeks increments on a play in the immediately preceding
// week, leaves the counter alone if the last play is somehow already in
// the current week, and resets to 1 on any larger gap or first play.
func nextConsecutiveWeeks(c cycle.Calculator, in WeeklyInput) int {
	if in.LastWeeklyPlay == nil {
		return 1
	}
	switch {
	case c.PreviousWeek(*in.LastWeeklyPlay, in.Now):
		return in.ConsecutiveWeeks + 1
	case c.SameWeek(*in.LastWeeklyPlay, in.Now):
		// Unreachable under eligibility gating; kept as a no-op.
		return in.ConsecutiveWeeks
	default:
		return 1
	}
}

// DailyCoins is the daily-quiz payout. No badges, no pool involvement.
func DailyCoins(correct int) int {
	if correct <= 0 {
		return 0
	}
	return correct * CoinsPerCorrect
}

// WeeklyScore converts a correct-answer count into the 0-100 score.
func WeeklyScore(correct int) int {
	if correct <= 0 {
		return 0
	}
	return correct * PointsPerQuestion
}
