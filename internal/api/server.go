package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"autoassign/internal/assign"
	"autoassign/internal/config"
	"autoassign/internal/lock"
	"autoassign/internal/model"
	"autoassign/internal/store"
	"autoassign/internal/webhooks"
)

type Server struct {
	Config   config.Config
	Store    store.Store
	Engine   *assign.Engine
	Broker   AssignmentBroker
	Notifier *webhooks.Notifier
	// Limiter throttles the auto-assign trigger. Nil disables throttling.
	Limiter *rate.Limiter

	rdb *redis.Client
}

// NewServer wires the service from cfg. Without DATABASE_URL the in-memory
// store is used; without REDIS_URL the run lock and event broker are local
// to this process.
func NewServer(cfg config.Config) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(context.Background()); err != nil {
				_ = sp.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s = sp
	}

	srv := &Server{Config: cfg, Store: s}
	var locker lock.Locker = lock.NewLocal()
	srv.Broker = NewLocalBroker()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_URL: %v", config.ErrInvalid, err)
		}
		srv.rdb = redis.NewClient(opt)
		locker = lock.NewRedis(srv.rdb)
		srv.Broker = NewRedisBroker(srv.rdb)
	}
	if cfg.WebhookURL != "" {
		srv.Notifier = webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookMaxAttempts)
	}
	if cfg.RateRPS > 0 {
		srv.Limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), max(cfg.RateBurst, 1))
	}

	srv.Engine, err = assign.New(
		assign.Deps{Orders: s, Drivers: s, Availability: s, Bookings: s, Lock: locker},
		assign.Options{
			Location:          loc,
			RunTimeout:        cfg.RunTimeout,
			CommitTimeout:     cfg.CommitTimeout,
			FetchConcurrency:  cfg.FetchConcurrency,
			CommitConcurrency: cfg.CommitConcurrency,
			LockTTL:           cfg.LockTTL,
		},
		assign.Hooks{Assigned: srv.publishAssigned, Completed: srv.notifyCompleted},
	)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Routes returns the service's HTTP handler with access logging and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	trigger := s.rateLimit(http.HandlerFunc(s.AutoAssignHandler))
	mux.Handle("/auto-assign", trigger)
	mux.Handle("/v1/auto-assign", trigger)

	// /v1/drivers/{id}/assignments/stream and /ws
	mux.HandleFunc("/v1/drivers/", s.DriverAssignmentsHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/debug/info", s.DebugJSON)

	return logMiddleware(metricsMiddleware(mux))
}

// Start launches background workers.
func (s *Server) Start() {
	if s.Notifier != nil {
		s.Notifier.Start()
	}
}

// Close flushes queued webhooks, then releases connections.
func (s *Server) Close() error {
	if s.Notifier != nil {
		s.Notifier.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (s *Server) publishAssigned(_ context.Context, evt model.AssignedEvent) {
	s.Broker.Publish(evt)
}

func (s *Server) notifyCompleted(_ context.Context, sum model.Summary) {
	if s.Notifier != nil {
		s.Notifier.Emit("run.completed", sum)
	}
}
