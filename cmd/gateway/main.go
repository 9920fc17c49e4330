package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"navi-gateway/middleware/ratelimit"
	"navi-gateway/middleware/ratelimit/domain"
	"navi-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := loadDotEnv(); err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Error("invalid UPSTREAM_URL", "err", err)
		os.Exit(1)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "err", err, "path", r.URL.Path, "request_id", r.Header.Get(ratelimit.HeaderRequestID))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := chi.NewRouter()
	r.Use(requestID)

	var reaperDone <-chan struct{}
	if cfg.rateEnabled {
		var statsStore domain.StatsStore
		if cfg.rateStatsEnabled {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.rateStatsRedisAddr,
				Password: cfg.rateStatsRedisPassword,
				DB:       cfg.rateStatsRedisDB,
			})
			defer func() { _ = rdb.Close() }()

			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			err := rdb.Ping(pingCtx).Err()
			pingCancel()
			if err != nil {
				logger.Error("redis stats ping error", "err", err)
				os.Exit(1)
			}

			statsStore = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.rateStatsPrefix),
				infra.WithStatsTTL(cfg.rateStatsTTL),
				infra.WithStatsSeries(cfg.rateStatsSeries),
				infra.WithStatsTrackClients(cfg.rateStatsTrackClients),
			)
		}

		classifier, err := cfg.classifier()
		if err != nil {
			logger.Error("config error", "err", err)
			os.Exit(1)
		}

		window := infra.NewSlidingWindow()
		bucket := infra.NewTokenBucket()

		if cfg.cleanupEnabled {
			reaper := infra.NewReaper(
				[]domain.Sweeper{window, bucket},
				infra.WithReapInterval(cfg.cleanupInterval),
				infra.WithReapHorizon(cfg.cleanupHorizon),
				infra.WithReapBackoff(cfg.cleanupBackoff),
				infra.WithReapLogger(logger),
			)
			reaperDone = reaper.Start(ctx)
		}

		mw, err := ratelimit.New(ratelimit.Options{
			Classifier:        classifier,
			Window:            window,
			Bucket:            bucket,
			Whitelist:         cfg.whitelist,
			Stats:             statsStore,
			StatsContext:      ctx,
			StatsQueueSize:    cfg.rateStatsQueueSize,
			TrustProxyHeaders: cfg.trustProxyHeaders,
			Logger:            logger,
		})
		if err != nil {
			logger.Error("rate limit wiring error", "err", err)
			os.Exit(1)
		}
		r.Use(mw)
	}

	r.Get("/health", health)
	r.Handle("/*", proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("rate limit",
		"enabled", cfg.rateEnabled,
		"algorithm", cfg.algorithm,
		"default", limitAttr(cfg.defaultLimit, cfg.defaultWindow),
		"login", limitAttr(cfg.loginLimit, cfg.loginWindow),
		"upload", limitAttr(cfg.uploadLimit, cfg.uploadWindow),
		"whitelist", len(cfg.whitelist),
		"trustProxyHeaders", cfg.trustProxyHeaders,
	)
	logger.Info("rate limit cleanup", "enabled", cfg.cleanupEnabled, "interval", cfg.cleanupInterval, "horizon", cfg.cleanupHorizon)
	logger.Info("rate stats", "enabled", cfg.rateStatsEnabled, "redisAddr", cfg.rateStatsRedisAddr, "series", cfg.rateStatsSeries, "trackClients", cfg.rateStatsTrackClients, "ttl", cfg.rateStatsTTL)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	if reaperDone != nil {
		<-reaperDone
	}
}

func limitAttr(limit int, window time.Duration) slog.Value {
	return slog.GroupValue(slog.Int("limit", limit), slog.Duration("window", window))
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requestID garante um X-Request-ID por request (gera um uuid quando o
// cliente não mandou) e devolve o mesmo valor na resposta.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ratelimit.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(ratelimit.HeaderRequestID, id)
		}
		w.Header().Set(ratelimit.HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}
