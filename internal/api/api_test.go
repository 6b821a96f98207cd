package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dengwilliam/cashiq/internal/api"
	"github.com/Dengwilliam/cashiq/internal/auth"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/event"
)

func TestAPI_PublishLeaderboardUpdated(t *testing.T) {
	rc, a := makeAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	broadcast := rc.Subscribe(ctx, "notify:leaderboard")
	defer broadcast.Close()
	personal := rc.Subscribe(ctx, "notify:user:u1")
	defer personal.Close()

	// Subscription confirmations must land before the publish.
	_, err := broadcast.Receive(ctx)
	require.NoError(t, err)
	_, err = personal.Receive(ctx)
	require.NoError(t, err)

	err = a.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			WeekID:    "2024-07-15",
			PoolTotal: 50000,
			Entries: []domain.LeaderboardEntry{
				{Rank: 1, UserID: "u1", DisplayName: "Alice", Score: 85, PrizeShare: 15000},
			},
		},
	})
	require.NoError(t, err)

	for name, sub := range map[string]*redis.PubSub{"broadcast": broadcast, "personal": personal} {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err, name)

		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n), name)
		assert.Equal(t, domain.EventNameLeaderboardUpdated, n.Event, name)

		var data api.LeaderboardData
		b, _ := json.Marshal(n.Data)
		require.NoError(t, json.Unmarshal(b, &data), name)
		assert.Equal(t, "2024-07-15", data.WeekID)
		assert.Equal(t, int64(50000), data.PoolTotal)
		require.Len(t, data.Entries, 1)
		assert.Equal(t, int64(15000), data.Entries[0].PrizeShare)
	}
}

func TestAPI_PublishBadgeAwarded(t *testing.T) {
	rc, a := makeAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	personal := rc.Subscribe(ctx, "notify:user:u1")
	defer personal.Close()
	_, err := personal.Receive(ctx)
	require.NoError(t, err)

	err = a.PublishBadgeAwarded(ctx, domain.EventBadgeAwarded{
		UserID: "u1",
		Badges: []string{domain.BadgePerfectScore},
	})
	require.NoError(t, err)

	msg, err := personal.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n api.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, domain.EventNameBadgeAwarded, n.Event)
}

func makeAPI(t *testing.T) (redis.UniversalClient, *api.API) {
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	a := api.New(api.Config{
		Router:       gin.New(),
		EventBus:     eb,
		Auth:         fakeAuth{},
		Redis:        rc,
		PubsubPrefix: "notify",
	})

	return rc, a
}

type fakeAuth struct{}

func (fakeAuth) Verify(_ context.Context, token string) (auth.Identity, error) {
	return auth.Identity{UserID: token}, nil
}
