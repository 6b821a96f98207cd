package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/event"
	"github.com/Dengwilliam/cashiq/internal/leaderboard"
)

// 2024-07-15 is a Monday.
var weekStart = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

func TestRank_TieBreakAndShares(t *testing.T) {
	records := []domain.ScoreRecord{
		{UserID: "u3", DisplayName: "Cara", Score: 60, CreateTime: weekStart.Add(3 * time.Hour)},
		{UserID: "u2", DisplayName: "Bob", Score: 80, CreateTime: weekStart.Add(2 * time.Hour)},
		{UserID: "u1", DisplayName: "Alice", Score: 80, CreateTime: weekStart.Add(time.Hour)},
		{UserID: "u5", DisplayName: "Eve", Score: 20, CreateTime: weekStart.Add(5 * time.Hour)},
		{UserID: "u4", DisplayName: "Dan", Score: 40, CreateTime: weekStart.Add(4 * time.Hour)},
	}

	lb := leaderboard.Rank("2024-07-15", records, 100000)

	require.Len(t, lb.Entries, 5)

	// Equal scores: the earlier submission ranks higher.
	assert.Equal(t, "u1", lb.Entries[0].UserID)
	assert.Equal(t, "u2", lb.Entries[1].UserID)
	assert.Equal(t, "u3", lb.Entries[2].UserID)
	assert.Equal(t, "u4", lb.Entries[3].UserID)
	assert.Equal(t, "u5", lb.Entries[4].UserID)

	for i, e := range lb.Entries {
		assert.Equal(t, i+1, e.Rank)
	}

	// Top 4 take 30/20/10/5 percent of the pool; rank 5 takes nothing.
	assert.Equal(t, int64(30000), lb.Entries[0].PrizeShare)
	assert.Equal(t, int64(20000), lb.Entries[1].PrizeShare)
	assert.Equal(t, int64(10000), lb.Entries[2].PrizeShare)
	assert.Equal(t, int64(5000), lb.Entries[3].PrizeShare)
	assert.Equal(t, int64(0), lb.Entries[4].PrizeShare)
}

func TestRank_EmptyWeek(t *testing.T) {
	lb := leaderboard.Rank("2024-07-15", nil, 0)
	assert.Empty(t, lb.Entries)
	assert.Equal(t, "2024-07-15", lb.WeekID)
}

func TestService_Current(t *testing.T) {
	s := makeService(t,
		withScores(fakeScores{records: []domain.ScoreRecord{
			{UserID: "u1", DisplayName: "Alice", Score: 75, WeekID: "2024-07-15", CreateTime: weekStart.Add(time.Hour)},
		}}),
		withPools(fakePools{total: 50000}),
	)

	lb, err := s.Current(context.Background(), weekStart.Add(26*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2024-07-15", lb.WeekID)
	assert.Equal(t, int64(50000), lb.PoolTotal)
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, int64(15000), lb.Entries[0].PrizeShare)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			recorded []domain.EventScoreRecorded
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after a score lands": {
			arrange: func() inputs {
				return inputs{
					recorded: []domain.EventScoreRecorded{
						{Record: domain.ScoreRecord{
							UserID: "u1", DisplayName: "Alice", Score: 80,
							WeekID: "2024-07-15", CreateTime: weekStart.Add(time.Hour),
						}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				assert.Equal(t, "2024-07-15", out.publishedEvents[0].Leaderboard.WeekID)
			},
		},

		"should publish once for scores landing within the publish interval": {
			arrange: func() inputs {
				return inputs{
					recorded: []domain.EventScoreRecorded{
						{Record: domain.ScoreRecord{
							UserID: "u1", DisplayName: "Alice", Score: 80,
							WeekID: "2024-07-15", CreateTime: weekStart.Add(time.Hour),
						}},
						{Record: domain.ScoreRecord{
							UserID: "u2", DisplayName: "Bob", Score: 60,
							WeekID: "2024-07-15", CreateTime: weekStart.Add(time.Hour + time.Millisecond),
						}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.recorded {
				err := s.OnScoreRecorded(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

type fakeScores struct {
	records []domain.ScoreRecord
}

func (f fakeScores) WeeklyScores(_ context.Context, _, _ time.Time) ([]domain.ScoreRecord, error) {
	return f.records, nil
}

type fakePools struct {
	total int64
}

func (f fakePools) PoolTotal(_ context.Context, _ string) (int64, error) {
	return f.total, nil
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Scores:   fakeScores{},
		Pools:    fakePools{},
		Cycle:    cycle.New(time.UTC),
		Redis:    rc,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withScores(s leaderboard.Scores) options {
	return func(c *leaderboard.Config) {
		c.Scores = s
	}
}

func withPools(p leaderboard.Pools) options {
	return func(c *leaderboard.Config) {
		c.Pools = p
	}
}
