package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizbattle/internal/battle"
	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/event"
	"github.com/victornm/quizbattle/internal/hub"
	"github.com/victornm/quizbattle/internal/matchmaking"
	"github.com/victornm/quizbattle/internal/question"
)

const (
	defaultRandomLimit   = 5
	defaultMaxRandom     = 50
	defaultHandleTimeout = 15 * time.Second

	// Bounds of the lifecycle publisher, separate from the other event subscribers.
	lifecyclePoolSize = 64
	lifecycleTimeout  = 5 * time.Second
)

type Config struct {
	HTTP     *gin.Engine
	GRPC     *grpc.Server
	EventBus *event.Bus

	Hub         *hub.Hub
	Matchmaking *matchmaking.Service
	Battle      *battle.Service
	Questions   question.Sampler

	Redis        Redis
	PubsubPrefix string

	// Checks are the dependencies reported by the health endpoints.
	Checks map[string]Checker

	// OriginPatterns are the hosts allowed to open a WebSocket from a browser.
	// Same-origin requests are always accepted.
	OriginPatterns []string
	// MaxRandom caps the number of questions returned by the random endpoint.
	MaxRandom int
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	hub *hub.Hub
	mm  *matchmaking.Service
	bs  *battle.Service
	qs  question.Sampler

	redis  Redis
	prefix string

	checks    map[string]Checker
	health    *health.Server
	origins   []string
	maxRandom int
}

func New(c Config) *API {
	a := &API{
		hub:       c.Hub,
		mm:        c.Matchmaking,
		bs:        c.Battle,
		qs:        c.Questions,
		redis:     c.Redis,
		prefix:    c.PubsubPrefix,
		checks:    c.Checks,
		health:    health.NewServer(),
		origins:   c.OriginPatterns,
		maxRandom: c.MaxRandom,
	}
	if a.maxRandom <= 0 {
		a.maxRandom = defaultMaxRandom
	}

	// HTTP APIs
	c.HTTP.GET("/ws", a.ServeWS)
	c.HTTP.GET("/healthz", a.Healthz)
	c.HTTP.GET("/api/quiz/battle/random", a.RandomQuestions)

	// gRPC APIs
	if c.GRPC != nil {
		healthpb.RegisterHealthServer(c.GRPC, a.health)
	}

	// Register event handlers
	for _, name := range []string{
		domain.EventNameSessionStarted,
		domain.EventNameSessionFinished,
		domain.EventNameSessionAbandoned,
	} {
		c.EventBus.Subscribe(name, a.PublishLifecycle,
			event.WithPoolSize(lifecyclePoolSize),
			event.WithTimeout(lifecycleTimeout),
		)
	}

	return a
}
