package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

// Scores is the slice of the score service the leaderboard reads.
type Scores interface {
	WeeklyScores(ctx context.Context, weekStart, weekEnd time.Time) ([]domain.ScoreRecord, error)
}

// Pools exposes the week's prize fund.
type Pools interface {
	PoolTotal(ctx context.Context, weekID string) (int64, error)
}

type Config struct {
	EventBus *event.Bus
	Scores   Scores
	Pools    Pools
	Cycle    cycle.Calculator
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	scores Scores
	pools  Pools
	cc     cycle.Calculator
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		scores: c.Scores,
		pools:  c.Pools,
		cc:     c.Cycle,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreRecorded, func(ctx context.Context, e event.Event) error {
		return s.OnScoreRecorded(ctx, e.(domain.EventScoreRecorded))
	})

	return s
}

// Current returns the ranked board for the week containing now, derived
// from the score records and the pool total.
func (s *Service) Current(ctx context.Context, now time.Time) (*domain.Leaderboard, error) {
	weekStart := s.cc.WeekStart(now)
	weekID := s.cc.WeekID(now)

	records, err := s.scores.WeeklyScores(ctx, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		return nil, fmt.Errorf("weekly scores: %w", err)
	}

	total, err := s.pools.PoolTotal(ctx, weekID)
	if err != nil {
		return nil, fmt.Errorf("pool total: %w", err)
	}

	lb := Rank(weekID, records, total)
	return &lb, nil
}

// OnScoreRecorded mirrors the new score into the week's ZSET and schedules
// a leaderboard publication.
func (s *Service) OnScoreRecorded(ctx context.Context, e domain.EventScoreRecorded) error {
	rec := e.Record

	// The mirror is a hot read path for clients polling raw standings;
	// ranks with deterministic tie-breaking always come from Rank.
	if err := s.redis.ZAdd(ctx, s.boardKey(rec.WeekID), redis.Z{
		Score:  float64(rec.Score),
		Member: rec.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("mirror score: %w", err)
	}

	return s.schedulePublish(ctx, rec)
}

// schedulePublish throttles leaderboard.updated events: many scores can
// land in a short window, and every publication triggers a full rank
// recomputation plus fanout.
func (s *Service) schedulePublish(ctx context.Context, rec domain.ScoreRecord) error {
	ok, err := s.redis.SetNX(ctx, s.timeKey(rec.WeekID), rec.CreateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publish(ctx, rec)
}

func (s *Service) publish(ctx context.Context, rec domain.ScoreRecord) error {
	lb, err := s.Current(ctx, rec.CreateTime)
	if err != nil {
		return fmt.Errorf("current leaderboard: week=%s: %w", rec.WeekID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *lb,
	})

	return s.redis.Set(ctx, s.timeKey(rec.WeekID), rec.CreateTime.UnixMilli(), publishInterval).Err()
}

func (s *Service) boardKey(weekID string) string {
	return fmt.Sprintf("%s:%s:board", s.prefix, weekID)
}

func (s *Service) timeKey(weekID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, weekID)
}
