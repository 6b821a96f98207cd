package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dengwilliam/cashiq/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	LeaderboardData struct {
		WeekID    string                 `json:"weekId"`
		PoolTotal int64                  `json:"poolTotal"`
		Entries   []LeaderboardEntryData `json:"entries"`
	}

	LeaderboardEntryData struct {
		Rank        int       `json:"rank"`
		UserID      string    `json:"userId"`
		DisplayName string    `json:"displayName"`
		Score       int       `json:"score"`
		PrizeShare  int64     `json:"prizeShare"`
		CreateTime  time.Time `json:"createTime"`
	}
)

func leaderboardData(l domain.Leaderboard) LeaderboardData {
	data := LeaderboardData{
		WeekID:    l.WeekID,
		PoolTotal: l.PoolTotal,
		Entries:   make([]LeaderboardEntryData, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntryData{
			Rank:        e.Rank,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Score:       e.Score,
			PrizeShare:  e.PrizeShare,
			CreateTime:  e.CreateTime,
		})
	}

	return data
}

// PublishLeaderboardUpdated fans the new board out: once on the broadcast
// channel the websocket gateway relays, and once per ranked user on their
// personal channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := leaderboardData(e.Leaderboard)

	if err := a.publishNotification(ctx, a.broadcastChannel(), e.Name(), data); err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.UserID), e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishPoolUpdated pushes the running prize fund to everyone watching.
func (a *API) PublishPoolUpdated(ctx context.Context, e domain.EventPoolUpdated) error {
	return a.publishNotification(ctx, a.broadcastChannel(), e.Name(), map[string]any{
		"weekId": e.WeekID,
		"total":  e.Total,
	})
}

// PublishBadgeAwarded notifies only the decorated user.
func (a *API) PublishBadgeAwarded(ctx context.Context, e domain.EventBadgeAwarded) error {
	return a.publishNotification(ctx, a.userChannel(e.UserID), e.Name(), map[string]any{
		"badges": e.Badges,
	})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) broadcastChannel() string {
	return fmt.Sprintf("%s:leaderboard", a.prefix)
}

func (a *API) userChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, userID)
}
