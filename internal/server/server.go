package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/quizbattle/internal/api"
	"github.com/victornm/quizbattle/internal/battle"
	"github.com/victornm/quizbattle/internal/broadcast"
	"github.com/victornm/quizbattle/internal/event"
	"github.com/victornm/quizbattle/internal/hub"
	"github.com/victornm/quizbattle/internal/matchmaking"
	"github.com/victornm/quizbattle/internal/question"
	"github.com/victornm/quizbattle/internal/telemetry"
)

type Config struct {
	Log struct {
		Level  string
		Format string
	}

	HTTP struct {
		Port           int32
		OriginPatterns []string
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Question struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Battle struct {
		DefaultQuestions int
		MaxQuestions     int
		Points           int
		SettleDelay      time.Duration
		SessionTTL       time.Duration
		ReapInterval     time.Duration
		RoomTTL          time.Duration
		OutboxSize       int
	}

	Health struct {
		Interval time.Duration
	}

	Startup struct {
		Attempts int
		Backoff  time.Duration
	}
}

// DefaultConfig returns the configuration used for every key missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Pubsub.Prefix = "quizbattle"
	c.Battle.DefaultQuestions = 5
	c.Battle.MaxQuestions = 50
	c.Battle.Points = 10
	c.Battle.SettleDelay = 1500 * time.Millisecond
	c.Battle.SessionTTL = 30 * time.Minute
	c.Battle.ReapInterval = time.Minute
	c.Battle.RoomTTL = 2 * time.Hour
	c.Battle.OutboxSize = 32
	c.Health.Interval = 10 * time.Second
	c.Startup.Attempts = 20
	c.Startup.Backoff = 5 * time.Second
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			pubsub redis.UniversalClient
		}

		postgres struct {
			question *pgxpool.Pool
		}
	}

	hub    *hub.Hub
	fanout *broadcast.Fanout

	service struct {
		question    *question.Store
		battle      *battle.Service
		matchmaking *matchmaking.Service
	}

	api  *api.API
	http *http.Server
	grpc *grpc.Server

	cancel context.CancelFunc
	bg     errgroup.Group
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
	s.initTelemetry()
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
		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		err := s.retry("redis", func(ctx context.Context) error {
			return r.Ping(ctx).Err()
		})
		if err != nil {
			_ = r.Close()
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		var db *pgxpool.Pool
		err = s.retry("postgres", func(ctx context.Context) error {
			if db == nil {
				p, err := pgxpool.NewWithConfig(ctx, cc)
				if err != nil {
					return err
				}
				db = p
			}
			return db.Ping(ctx)
		})
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, err
		}

		return db, nil
	}

	q := s.c.Postgres.Question
	s.infra.postgres.question, err = connect(q.Addr, q.User, q.Pass, q.Name)
	if err != nil {
		return fmt.Errorf("question: %w", err)
	}

	return nil
}

// retry calls f until it succeeds, with a fixed backoff and a bounded number of attempts.
func (s *Server) retry(name string, f func(ctx context.Context) error) error {
	attempts := max(s.c.Startup.Attempts, 1)

	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = f(ctx)
		cancel()

		if err == nil {
			return nil
		}

		slog.Warn("server: dependency not ready",
			"name", name,
			"attempt", i,
			"attempts", attempts,
			"error", err,
		)
		if i < attempts {
			time.Sleep(s.c.Startup.Backoff)
		}
	}

	return fmt.Errorf("%s not ready after %d attempts: %w", name, attempts, err)
}

func (s *Server) initService() error {
	s.hub = hub.New(hub.Config{
		OutboxSize: s.c.Battle.OutboxSize,
		OnDrop: func(id string) {
			slog.Warn("server: slow connection dropped", "conn", id)
		},
	})

	s.fanout = broadcast.New(broadcast.Config{
		Redis:   s.infra.redis.pubsub,
		Prefix:  s.c.Redis.Pubsub.Prefix,
		Hub:     s.hub,
		RoomTTL: s.c.Battle.RoomTTL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.fanout.Start(ctx); err != nil {
		return err
	}

	s.service.question = question.NewStore(question.Config{
		DB: s.infra.postgres.question,
	})

	s.service.battle = battle.NewService(battle.Config{
		Questions:        s.service.question,
		Publisher:        s.fanout,
		Presence:         s.hub,
		EventBus:         s.eb,
		Points:           s.c.Battle.Points,
		SettleDelay:      s.c.Battle.SettleDelay,
		SessionTTL:       s.c.Battle.SessionTTL,
		DefaultQuestions: s.c.Battle.DefaultQuestions,
		MaxQuestions:     s.c.Battle.MaxQuestions,
	})

	s.service.matchmaking = matchmaking.NewService(matchmaking.Config{
		Sessions: s.service.battle,
		Notifier: s.fanout,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)

	s.api = api.New(api.Config{
		HTTP:        e,
		GRPC:        s.grpc,
		EventBus:    s.eb,
		Hub:         s.hub,
		Matchmaking: s.service.matchmaking,
		Battle:      s.service.battle,
		Questions:   s.service.question,
		Redis:       s.infra.redis.pubsub,
		Checks: map[string]api.Checker{
			"redis":    s.fanout,
			"postgres": s.service.question,
		},
		PubsubPrefix:   s.c.Redis.Pubsub.Prefix,
		OriginPatterns: s.c.HTTP.OriginPatterns,
		MaxRandom:      s.c.Battle.MaxQuestions,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) initTelemetry() {
	telemetry.NewMetrics(prometheus.DefaultRegisterer, s.eb, telemetry.Gauges{
		Sessions: s.service.battle.Len,
		Waiting: func() int {
			if _, ok := s.service.matchmaking.Waiting(); ok {
				return 1
			}
			return 0
		},
		Connections: s.hub.Len,
	})
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.bg.Go(func() error {
		s.service.battle.Run(ctx, s.c.Battle.ReapInterval)
		return nil
	})
	s.bg.Go(func() error {
		s.api.WatchHealth(ctx, s.c.Health.Interval)
		return nil
	})

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.api.ShutdownHealth()
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.bg.Wait()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Hijacked WebSocket connections are not tracked by the HTTP server, they go away with the process.
	s.service.battle.Shutdown()
	s.fanout.Stop()
	s.eb.Stop()

	s.infra.postgres.question.Close()
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
