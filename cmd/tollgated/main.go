// Command tollgated serves the tollgate HTTP API as a standalone process.
//
// It runs the engine on the store named by DATABASE_DRIVER and DATABASE_URL
// (PostgreSQL, SQLite or MongoDB through grove, or memory for local runs)
// with the TBC Pay gateway and Prometheus metrics on /metrics. Redis rate
// limiting, RabbitMQ lifecycle events and an audit log are optional.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/tollgate"
	amqphook "github.com/xraph/tollgate/amqp_hook"
	"github.com/xraph/tollgate/api"
	audithook "github.com/xraph/tollgate/audit_hook"
	"github.com/xraph/tollgate/gateway/tbc"
	"github.com/xraph/tollgate/observability"
	"github.com/xraph/tollgate/ratelimit"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("tollgated exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewPrometheusFactory(registry)

	opts := []tollgate.Option{
		tollgate.WithLogger(logger),
		tollgate.WithPlugin(observability.NewMetricsExtension(metrics)),
		tollgate.WithIPHashSalt(cfg.IPHashSalt),
		tollgate.WithCallbackAllowedIPs(cfg.AllowedIPs()...),
		tollgate.WithURLs(cfg.WebBaseURL, cfg.APIBaseURL, cfg.CallbackURL),
		tollgate.WithGatewayTimeout(cfg.GatewayTimeout),
		tollgate.WithNumbering(cfg.NumberingMaxAttempts, linearBackoff),
		tollgate.WithMockBilling(cfg.AllowMockBilling),
		tollgate.WithSweep(cfg.SweepSchedule, 0, 0),
	}

	if cfg.TBCAPIKey != "" {
		gw, err := tbc.New(tbc.Config{
			BaseURL:      cfg.TBCBaseURL,
			APIKey:       cfg.TBCAPIKey,
			ClientID:     cfg.TBCClientID,
			ClientSecret: cfg.TBCClientSecret,
		}, tbc.WithLogger(logger))
		if err != nil {
			return err
		}
		opts = append(opts, tollgate.WithGateway(gw))
	} else {
		logger.Warn("TBC_API_KEY not set; checkouts will fail")
	}

	if cfg.RabbitMQURL != "" {
		pub, err := amqphook.Dial(cfg.RabbitMQURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, tollgate.WithPlugin(amqphook.New(pub, amqphook.WithLogger(logger))))
		logger.Info("publishing lifecycle events", "exchange", cfg.AMQPExchange)
	}

	if cfg.AuditLog {
		auditLogger := logger.With("component", "audit")
		recorder := audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
			auditLogger.InfoContext(ctx, ev.Action,
				"resource", ev.Resource,
				"resource_id", ev.ResourceID,
				"outcome", ev.Outcome,
				"severity", ev.Severity,
				"reason", ev.Reason,
				"metadata", ev.Metadata,
			)
			return nil
		})
		opts = append(opts, tollgate.WithPlugin(audithook.New(recorder, audithook.WithLogger(logger))))
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	logger.Info("store opened", "driver", cfg.DatabaseDriverName())

	engine := tollgate.New(st, opts...)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = engine.Stop() }()

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAdminToken(cfg.AdminToken),
		api.WithTrustedProxies(cfg.Proxies()...),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		apiOpts = append(apiOpts, api.WithRateLimiter(ratelimit.New(client, ""), ratelimit.Rule{}, ratelimit.Rule{}))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, engine, metrics, api.New(engine, apiOpts...)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tollgated listening", "addr", cfg.Addr, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *Config, engine *tollgate.Tollgate, metrics *observability.PrometheusFactory, a *api.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Store().Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	base := "/" + strings.Trim(cfg.BasePath, "/")
	if base == "/" {
		r.Mount("/", a.Handler())
	} else {
		r.Mount(base, a.Handler())
	}
	return r
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 20 * time.Millisecond
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
