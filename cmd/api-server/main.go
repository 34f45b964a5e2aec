package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/barbershop-scheduling/internal/api"
	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/config"
	"github.com/hackgods/barbershop-scheduling/internal/db"
	"github.com/hackgods/barbershop-scheduling/internal/metrics"
	redisclient "github.com/hackgods/barbershop-scheduling/internal/redis"
	"github.com/hackgods/barbershop-scheduling/internal/relay"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
	"github.com/hackgods/barbershop-scheduling/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "err", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger("api-server", cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(rootCtx, telemetry.TracingConfig{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "barbershop-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	repo, closeStore, err := openStore(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		rdb    *redis.Client
		locker redisclient.Locker = redisclient.LocalLocker{}
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.Connect(rootCtx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "err", err)
			}
		}()
		locker = redisclient.NewSlotLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis", "addr", cfg.RedisAddr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}

	var notifier reminder.Notifier = reminder.NewLogNotifier(logger)
	if cfg.ReminderWebhookURL != "" {
		notifier = reminder.NewWebhookNotifier(cfg.ReminderWebhookURL, cfg.ReminderWebhookAuth, cfg.ReminderSendTimeout)
	}
	reminders := reminder.NewScheduler(notifier, reminder.Options{
		Lead:        cfg.ReminderLead,
		Message:     cfg.ReminderMessage,
		SendTimeout: cfg.ReminderSendTimeout,
		Logger:      logger,
		Sent:        m.RemindersSent,
		Failed:      m.RemindersFailed,
	})
	defer reminders.Stop()

	bus := broadcast.New(broadcast.Options{
		History:     cfg.WSHistory,
		MaxBacklog:  cfg.WSMaxBacklog,
		Subscribers: m.Subscribers,
		Dropped:     m.SubscribersDropped,
	})
	defer bus.Close()

	engine := appointment.NewEngine(repo, bus, reminders, appointment.Options{
		Location:  cfg.Location,
		Locker:    locker,
		Protected: appointment.ProtectedFromSeed(seed).Protected,
		Logger:    logger,
		Metrics:   m,
	})

	if err := engine.Bootstrap(rootCtx, seed); err != nil {
		return err
	}
	armed, err := engine.Rehydrate(rootCtx)
	if err != nil {
		return err
	}
	logger.Info("engine ready", "reminders_armed", armed, "epoch", bus.Epoch())

	relayDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		r := relay.New(bus, relay.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		go func() {
			defer close(relayDone)
			if err := r.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, broadcast.ErrClosed) {
				logger.Error("kafka relay stopped", "err", err)
			}
		}()
		logger.Info("kafka relay enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		close(relayDone)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:        engine,
			Redis:          rdb,
			Env:            cfg.Env,
			Version:        version,
			Logger:         logger,
			Metrics:        m,
			Gatherer:       reg,
			Location:       cfg.Location,
			AllowedOrigins: cfg.WSAllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down api-server")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Sockets are hijacked and not tracked by Shutdown; closing the bus ends
	// their subscriptions.
	bus.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	<-relayDone
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (appointment.Repository, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, nothing survives a restart")
		return appointment.NewMemoryRepository(), func() {}, nil

	case "postgres":
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigratePostgres(pgCtx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("connected to Postgres")
		return appointment.NewPgRepository(pool), pool.Close, nil

	default:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite store", "path", cfg.SQLitePath)
		return appointment.NewSQLiteRepository(sqlDB), func() {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("error closing sqlite", "err", err)
			}
		}, nil
	}
}
