package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"navi-gateway/middleware/ratelimit"
	"navi-gateway/middleware/ratelimit/application"
	"navi-gateway/middleware/ratelimit/domain"
	"navi-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy),
	// com limites baixos para ver o 429 rápido.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	classifier, err := application.NewClassifier(
		domain.WindowPolicy(application.ClassDefault, 10, 10*time.Second),
		application.DefaultRules(
			domain.WindowPolicy(application.ClassLogin, 2, 10*time.Second),
			domain.BucketPolicy(application.ClassUpload, 2, 10*time.Second),
		)...,
	)
	if err != nil {
		logger.Error("classifier", "err", err)
		os.Exit(1)
	}

	window := infra.NewSlidingWindow()
	bucket := infra.NewTokenBucket()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	infra.NewReaper(
		[]domain.Sweeper{window, bucket},
		infra.WithReapInterval(30*time.Second),
		infra.WithReapHorizon(time.Minute),
		infra.WithReapLogger(logger),
	).Start(ctx)

	r := chi.NewRouter()
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Classifier: classifier,
		Window:     window,
		Bucket:     bucket,
		Whitelist:  domain.ParseWhitelist(os.Getenv("RATE_LIMIT_WHITELIST_IPS")),
		Logger:     logger,
	}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Post("/api/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"access_token": "demo", "token_type": "bearer"})
	})
	r.Get("/api/websites", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]string{{"name": "Go", "url": "https://go.dev"}})
	})
	r.Post("/api/data/load", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"message": "loaded"})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
