// Package api exposes the HTTP surface: quiz play, leaderboard reads,
// profile, payments and the admin console, plus the realtime fanout of
// leaderboard updates over redis pub/sub and websockets.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/Dengwilliam/cashiq/internal/auth"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/event"
	"github.com/Dengwilliam/cashiq/internal/leaderboard"
	"github.com/Dengwilliam/cashiq/internal/payment"
	"github.com/Dengwilliam/cashiq/internal/quiz"
	"github.com/Dengwilliam/cashiq/internal/user"
	"github.com/Dengwilliam/cashiq/internal/wallet"
)

type Config struct {
	Router   *gin.Engine
	EventBus *event.Bus
	Auth     auth.Provider

	Quiz        *quiz.Service
	Leaderboard *leaderboard.Service
	Users       *user.Service
	Wallet      *wallet.Service
	Payments    *payment.Service

	Redis        redis.UniversalClient
	PubsubPrefix string
}

type API struct {
	qs *quiz.Service
	ls *leaderboard.Service
	us *user.Service
	ws *wallet.Service
	ps *payment.Service

	redis    redis.UniversalClient
	prefix   string
	upgrader websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		qs:     c.Quiz,
		ls:     c.Leaderboard,
		us:     c.Users,
		ws:     c.Wallet,
		ps:     c.Payments,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	a.registerRoutes(c.Router, c.Auth)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNamePoolUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishPoolUpdated(ctx, e.(domain.EventPoolUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameBadgeAwarded, func(ctx context.Context, e event.Event) error {
		return a.PublishBadgeAwarded(ctx, e.(domain.EventBadgeAwarded))
	})

	return a
}

func (a *API) registerRoutes(e *gin.Engine, p auth.Provider) {
	v1 := e.Group("/v1", auth.Middleware(p))

	v1.POST("/quiz/weekly", a.startWeekly)
	v1.POST("/quiz/weekly/:sessionID/finish", a.finishWeekly)
	v1.POST("/quiz/daily", a.startDaily)
	v1.POST("/quiz/daily/:sessionID/finish", a.finishDaily)
	v1.POST("/quiz/sessions/:sessionID/answers", a.answer)
	v1.POST("/quiz/sessions/:sessionID/visibility", a.reportHidden)
	v1.POST("/quiz/sessions/:sessionID/explanations", a.explain)
	v1.POST("/quiz/share", a.share)

	v1.GET("/leaderboard", a.getLeaderboard)

	v1.GET("/me", a.me)
	v1.GET("/me/history", a.history)

	v1.POST("/payments", a.submitPayment)

	admin := v1.Group("/admin", auth.RequireAdmin())
	admin.GET("/payments", a.listPendingPayments)
	admin.POST("/payments/:paymentID/review", a.reviewPayment)
	admin.POST("/users/:userID/suspension", a.suspendUser)
	admin.POST("/pools/:weekID/adjustment", a.adjustPool)

	e.GET("/ws/leaderboard", auth.Middleware(p), a.leaderboardWS)
}
