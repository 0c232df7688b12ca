package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"scheduleguard/internal/api"
	"scheduleguard/internal/config"
	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/editsession"
	"scheduleguard/internal/events"
	"scheduleguard/internal/grpchealth"
	"scheduleguard/internal/history"
	"scheduleguard/internal/marketapi"
	"scheduleguard/internal/metrics"
	"scheduleguard/internal/pending"
)

func main() {
	cfg, err := config.Load(os.Getenv("SCHEDULEGUARD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	fetchPolicy, err := editsession.ParseFetchPolicy(cfg.Conflicts.OnFetchError)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid conflicts.on_fetch_error")
	}
	scope, err := conflicts.ParsePriorityScope(cfg.Conflicts.PriorityScope)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid conflicts.priority_scope")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	historyDB, err := history.NewDB(cfg.History.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open history db error")
	}
	defer historyDB.Close()

	bus := events.NewEventBus(&logger)
	history.Subscribe(bus, historyDB)

	backup := history.NewBackupService(historyDB, history.BackupConfig{
		Enabled:       cfg.History.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.BackupPath(),
		RetentionDays: cfg.History.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	memory := pending.NewMemoryStore(cfg.SessionTimeout())
	go cleanupSessions(ctx, memory, cfg.SessionCleanupInterval(), &logger)

	var store pending.Store = memory
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		store = pending.NewFailoverStore(pending.NewRedisStore(rdb, cfg.SessionTimeout()), memory, &logger)
	} else {
		logger.Warn().Msg("redis is not configured, edit sessions are kept in memory")
	}

	client := marketapi.NewClient(cfg.Marketplace.BaseURL, marketapi.Options{
		APIKey:        cfg.Marketplace.APIKey,
		Token:         cfg.Marketplace.Token,
		Timeout:       cfg.MarketplaceTimeout(),
		RatePerSecond: cfg.Marketplace.RatePerSecond,
		Burst:         cfg.Marketplace.Burst,
	})

	service := editsession.NewService(client, store, bus, editsession.Options{
		OnFetchError:  fetchPolicy,
		PriorityScope: scope,
	}, &logger)

	checker := grpchealth.NewChecker(2*time.Second,
		grpchealth.Check{Name: "history db", Fn: historyDB.PingContext},
		grpchealth.Check{Name: "marketplace", Fn: client.HealthCheck},
	)
	go startHealthServer(ctx, cfg.HealthCheckPort(), checker, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.PrometheusPort(), &logger)
	}

	if cfg.GRPC.Enabled {
		if err := startGRPCServer(ctx, cfg.GRPCPort(), checker, &logger); err != nil {
			logger.Fatal().Err(err).Msg("grpc server error")
		}
	}

	server := api.NewHTTPServer(api.Config{
		Port:         cfg.HTTPPort(),
		APIKeys:      cfg.HTTP.APIKeys,
		ReadTimeout:  cfg.HTTPReadTimeout(),
		WriteTimeout: cfg.HTTPWriteTimeout(),
		Defaults:     cfg.DefaultSchedule(),
	}, service, historyDB, &logger)

	logger.Info().
		Str("on_fetch_error", string(fetchPolicy)).
		Str("priority_scope", string(scope)).
		Msg("scheduleguard started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
	logger.Info().Msg("scheduleguard stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Str("app", "scheduleguard").Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

func cleanupSessions(ctx context.Context, store *pending.MemoryStore, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Cleanup(); n > 0 {
				logger.Debug().Int("removed", n).Msg("expired edit sessions dropped")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, checker *grpchealth.Checker, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			ctxPing, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				// sessions fall back to memory, still ready
				logger.Warn().Err(err).Msg("redis ping failed")
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func startGRPCServer(ctx context.Context, port int, checker *grpchealth.Checker, logger *zerolog.Logger) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	hs := grpchealth.NewServer(checker, "scheduleguard", logger)
	hs.Register(srv)
	go hs.Watch(ctx, 10*time.Second)

	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server starting")
		if err := srv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server error")
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return nil
}
