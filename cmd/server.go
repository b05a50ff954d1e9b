package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/api"
	"github.com/fathima-sithara/delivery-service/internal/auth"
	"github.com/fathima-sithara/delivery-service/internal/config"
	"github.com/fathima-sithara/delivery-service/internal/delivery"
	"github.com/fathima-sithara/delivery-service/internal/discovery"
	"github.com/fathima-sithara/delivery-service/internal/events"
	"github.com/fathima-sithara/delivery-service/internal/kafka"
	"github.com/fathima-sithara/delivery-service/internal/metrics"
	"github.com/fathima-sithara/delivery-service/internal/pending"
	"github.com/fathima-sithara/delivery-service/internal/presence"
	"github.com/fathima-sithara/delivery-service/internal/reconciler"
	"github.com/fathima-sithara/delivery-service/internal/repository"
	"github.com/fathima-sithara/delivery-service/internal/session"
)

// Server holds service dependencies
type Server struct {
	Cfg *config.Config
	Log *zap.Logger
	App *fiber.App

	Redis  *redis.Client
	Mongo  *mongo.Client
	NATS   *nats.Conn
	SQLite *repository.SQLiteStore

	Bus              events.Bus
	Producer         *kafka.Producer
	ReceiptsConsumer *kafka.ReceiptsConsumer
	Coordinator      *delivery.Coordinator
	Reconciler       *reconciler.Reconciler
	Sessions         *session.Manager
	Registrar        *discovery.Registrar
	Metrics          *metrics.Metrics

	// runtime context for background workers
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error
}

// NewServer builds the server and all dependencies. Errors if a required dependency fails.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if err := cfg.ValidateHTTP(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newServer(ctx, cfg, log, true)
}

// NewWorker builds the background workers only: no HTTP app, token
// validator or consul registration.
func NewWorker(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	return newServer(ctx, cfg, log, false)
}

func newServer(ctx context.Context, cfg *config.Config, log *zap.Logger, withHTTP bool) (*Server, error) {
	wctx, cancel := context.WithCancel(context.Background())
	s := &Server{Cfg: cfg, Log: log, ctx: wctx, cancel: cancel, errs: make(chan error, 4)}
	if err := s.build(ctx, withHTTP); err != nil {
		s.closeClients()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, withHTTP bool) error {
	cfg, log := s.Cfg, s.Log

	// 1) Redis: presence, and optionally pending queues and the bus
	s.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Redis.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// 2) MongoDB, only when a component is backed by it
	var db *mongo.Database
	if cfg.Store.Driver == "mongo" || cfg.Pending.Driver == "mongo" {
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		s.Mongo = client
		db = client.Database(cfg.Mongo.DB)
		log.Info("connected to mongo", zap.String("db", cfg.Mongo.DB))
	}

	// 3) conversation store and unseen receipts
	var (
		store    repository.Store
		receipts repository.ReceiptIndex
	)
	switch cfg.Store.Driver {
	case "mongo":
		ms, err := repository.NewMongoStore(ctx, db)
		if err != nil {
			return err
		}
		store, receipts = ms, repository.NewMongoReceipts(db)
	case "sqlite":
		ss, err := repository.NewSQLiteStore(cfg.Store.SQLitePath, log)
		if err != nil {
			return err
		}
		s.SQLite = ss
		store, receipts = ss, ss
	}

	// 4) presence and pending queues
	reg := presence.NewRedisRegistry(s.Redis, cfg.Redis.Prefix, cfg.PresenceLease)
	var queue pending.Queue
	switch cfg.Pending.Driver {
	case "redis":
		queue = pending.NewRedisQueue(s.Redis, cfg.Redis.Prefix, cfg.PendingTTL)
	case "mongo":
		mq, err := pending.NewMongoQueue(ctx, db)
		if err != nil {
			return err
		}
		queue = mq
	}

	// 5) event bus behind a circuit breaker
	var inner events.Bus
	switch cfg.Bus.Driver {
	case "redis":
		inner = events.NewRedisBus(s.Redis)
	case "nats":
		nc, err := events.ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		s.NATS = nc
		inner = events.NewNATSBus(nc)
	}
	s.Bus = events.NewBreakerBus(inner, events.BreakerSettings{
		MaxFailures: cfg.Bus.Breaker.MaxFailures,
		Interval:    time.Duration(cfg.Bus.Breaker.IntervalSec) * time.Second,
		Timeout:     time.Duration(cfg.Bus.Breaker.TimeoutSec) * time.Second,
	}, log)

	s.Metrics = metrics.New()

	// 6) core services
	opts := delivery.Options{PublishDelay: cfg.PublishDelay, Metrics: s.Metrics}
	if cfg.Kafka.Enabled {
		s.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		opts.Notifier = s.Producer
	}
	s.Coordinator = delivery.New(store, reg, queue, s.Bus, log, opts)
	s.Reconciler = reconciler.New(store, receipts, queue, s.Bus, log, reconciler.Options{Metrics: s.Metrics})
	s.Sessions = session.NewManager(reg, queue, receipts, s.Bus, log, s.Metrics)
	if cfg.Kafka.Enabled {
		s.ReceiptsConsumer = kafka.NewReceiptsConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReceipts, cfg.Kafka.GroupID, s.Reconciler.Handle, log)
	}

	if !withHTTP {
		return nil
	}

	// 7) HTTP
	var (
		validator *auth.JWTValidator
		err       error
	)
	if strings.EqualFold(cfg.JWT.Alg, "HS256") {
		validator, err = auth.NewHS256Validator(cfg.JWT.HSSecret)
	} else {
		validator, err = auth.NewRS256Validator(cfg.JWT.PublicKeyPath)
	}
	if err != nil {
		return fmt.Errorf("jwt validator: %w", err)
	}
	s.App = api.NewServer(api.Deps{
		Delivery: s.Coordinator,
		Sessions: s.Sessions,
		Auth:     validator,
		Metrics:  s.Metrics,
		Limiter:  api.NewRateLimiter(cfg.App.RateLimitPerMin),
		Log:      log,
		Service:  cfg.App.Name,
		Version:  cfg.App.Version,
	})

	// 8) service discovery
	s.Registrar, err = discovery.NewRegistrar(cfg.Consul.Addr, cfg.Consul.ServiceName, cfg.Consul.AdvertiseAddr, cfg.App.Port, log)
	if err != nil {
		return fmt.Errorf("consul: %w", err)
	}
	return nil
}

// StartWorkers runs the reconciler and, when enabled, the kafka receipts bridge.
func (s *Server) StartWorkers() {
	s.goWorker("reconciler", s.Reconciler.Run)
	if s.ReceiptsConsumer != nil {
		s.goWorker("kafka receipts", s.ReceiptsConsumer.Run)
	}
}

func (s *Server) goWorker(name string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Log.Error("worker stopped", zap.String("worker", name), zap.Error(err))
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Start starts background workers, the HTTP server and the consul registration.
func (s *Server) Start() {
	s.StartWorkers()

	addr := ":" + s.Cfg.App.PortString()
	go func() {
		s.Log.Info("starting delivery-service", zap.String("addr", addr), zap.String("version", s.Cfg.App.Version))
		if err := s.App.Listen(addr); err != nil {
			s.fail(fmt.Errorf("http: %w", err))
		}
	}()

	if err := s.Registrar.Register(); err != nil {
		s.Log.Warn("consul registration failed", zap.Error(err))
	}
}

func (s *Server) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Errors reports fatal failures of the HTTP server or a worker.
func (s *Server) Errors() <-chan error { return s.errs }

// Shutdown stops the HTTP server first so no new sends arrive, then drains
// delayed publishes and stops workers before closing clients.
func (s *Server) Shutdown() {
	s.Log.Info("shutting down delivery-service")

	if err := s.Registrar.Deregister(); err != nil {
		s.Log.Warn("consul deregistration failed", zap.Error(err))
	}

	if s.App != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.ShutdownTimeout)
		if err := s.App.ShutdownWithContext(ctx); err != nil {
			s.Log.Error("failed to shutdown fiber app", zap.Error(err))
		}
		cancel()
	}
	if s.Coordinator != nil {
		s.Coordinator.Wait()
	}

	s.cancel()
	s.wg.Wait()

	s.closeClients()
	s.Log.Info("delivery-service stopped")
}

func (s *Server) closeClients() {
	if s.ReceiptsConsumer != nil {
		if err := s.ReceiptsConsumer.Close(); err != nil {
			s.Log.Error("failed to close kafka consumer", zap.Error(err))
		}
	}
	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			s.Log.Error("failed to close kafka producer", zap.Error(err))
		}
	}
	if s.Bus != nil {
		if err := s.Bus.Close(); err != nil {
			s.Log.Error("failed to close event bus", zap.Error(err))
		}
	}
	if s.NATS != nil {
		s.NATS.Close()
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			s.Log.Error("failed to close sqlite", zap.Error(err))
		}
	}
	if s.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Mongo.Disconnect(ctx); err != nil {
			s.Log.Error("failed to disconnect mongo", zap.Error(err))
		}
		cancel()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Log.Error("failed to close redis", zap.Error(err))
		}
	}
}
