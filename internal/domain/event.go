package domain

const (
	EventNameScoreRecorded      = "score.recorded"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNamePoolUpdated        = "pool.updated"
	EventNamePaymentReviewed    = "payment.reviewed"
	EventNameBadgeAwarded       = "badge.awarded"
)

type EventScoreRecorded struct {
	Record ScoreRecord
}

func (EventScoreRecorded) Name() string { return EventNameScoreRecorded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventPoolUpdated struct {
	WeekID string
	Total  int64
}

func (EventPoolUpdated) Name() string { return EventNamePoolUpdated }

type EventPaymentReviewed struct {
	Payment PaymentTransaction
}

func (EventPaymentReviewed) Name() string { return EventNamePaymentReviewed }

type EventBadgeAwarded struct {
	UserID string
	Badges []string
}

func (EventBadgeAwarded) Name() string { return EventNameBadgeAwarded }
