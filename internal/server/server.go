package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Dengwilliam/cashiq/internal/api"
	"github.com/Dengwilliam/cashiq/internal/auth"
	"github.com/Dengwilliam/cashiq/internal/blob"
	"github.com/Dengwilliam/cashiq/internal/cycle"
	"github.com/Dengwilliam/cashiq/internal/email"
	"github.com/Dengwilliam/cashiq/internal/event"
	"github.com/Dengwilliam/cashiq/internal/genai"
	"github.com/Dengwilliam/cashiq/internal/leaderboard"
	"github.com/Dengwilliam/cashiq/internal/payment"
	"github.com/Dengwilliam/cashiq/internal/quiz"
	"github.com/Dengwilliam/cashiq/internal/reward"
	"github.com/Dengwilliam/cashiq/internal/score"
	"github.com/Dengwilliam/cashiq/internal/telemetry"
	"github.com/Dengwilliam/cashiq/internal/user"
	"github.com/Dengwilliam/cashiq/internal/wallet"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	// Timezone anchors weekly and daily boundaries; empty means UTC.
	Timezone string

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Wallet struct {
		EntryFee         int64
		PoolContribution int64
	}

	Quiz struct {
		Prefix string
	}

	Auth struct {
		BaseURL string
		APIKey  string
	}

	GenAI struct {
		BaseURL string
		APIKey  string
		Model   string
	}

	Email struct {
		BaseURL string
		APIKey  string
		From    string
	}

	Blob struct {
		BaseURL string
		APIKey  string
		Bucket  string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		user        *user.Service
		wallet      *wallet.Service
		score       *score.Service
		leaderboard *leaderboard.Service
		payment     *payment.Service
		quiz        *quiz.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	loc := time.UTC
	if s.c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(s.c.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	cc := cycle.New(loc)

	fee := s.c.Wallet.EntryFee
	if fee == 0 {
		fee = reward.EntryFee
	}
	contribution := s.c.Wallet.PoolContribution
	if contribution == 0 {
		contribution = reward.PoolContribution
	}

	s.service.user = user.NewService(user.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.wallet = wallet.NewService(wallet.Config{
		EventBus:         s.eb,
		DB:               s.infra.postgres,
		EntryFee:         fee,
		PoolContribution: contribution,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Scores:   s.service.score,
		Pools:    s.service.wallet,
		Cycle:    cc,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	mailer := email.NewClient(email.Config{
		BaseURL: s.c.Email.BaseURL,
		APIKey:  s.c.Email.APIKey,
		From:    s.c.Email.From,
	})

	blobs := blob.NewHTTPStore(blob.Config{
		BaseURL: s.c.Blob.BaseURL,
		APIKey:  s.c.Blob.APIKey,
		Bucket:  s.c.Blob.Bucket,
	})

	s.service.payment = payment.NewService(payment.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
		Wallet:   s.service.wallet,
		Blobs:    blobs,
		Mailer:   mailer,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		Users:  s.service.user,
		Wallet: s.service.wallet,
		Scores: s.service.score,
		Generator: genai.NewClient(genai.Config{
			BaseURL: s.c.GenAI.BaseURL,
			APIKey:  s.c.GenAI.APIKey,
			Model:   s.c.GenAI.Model,
		}),
		Blobs:  blobs,
		Cycle:  cc,
		Redis:  s.infra.redis.leaderboard,
		Prefix: s.c.Quiz.Prefix,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.RequestLogger())

	api.New(api.Config{
		Router:   e,
		EventBus: s.eb,
		Auth: auth.NewHTTPProvider(auth.Config{
			BaseURL: s.c.Auth.BaseURL,
			APIKey:  s.c.Auth.APIKey,
		}),
		Quiz:         s.service.quiz,
		Leaderboard:  s.service.leaderboard,
		Users:        s.service.user,
		Wallet:       s.service.wallet,
		Payments:     s.service.payment,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.Close()
	if err := s.infra.redis.leaderboard.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
