package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Dengwilliam/cashiq/internal/auth"
)

// leaderboardWS streams leaderboard, pool and personal notifications to
// one client. The relay goroutine is the only writer on the connection;
// the read loop exists to notice the peer going away.
func (a *API) leaderboardWS(c *gin.Context) {
	id, _ := auth.FromContext(c)

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	sub := a.redis.Subscribe(ctx, a.broadcastChannel(), a.userChannel(id.UserID))
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	messages := sub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				slog.InfoContext(ctx, "ws: client gone", "user", id.UserID, "error", err)
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
