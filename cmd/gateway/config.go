package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"navi-gateway/middleware/ratelimit/application"
	"navi-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr        string
	upstreamURL       string
	logLevel          slog.Level
	trustProxyHeaders bool

	rateEnabled   bool
	algorithm     domain.Algorithm
	defaultLimit  int
	defaultWindow time.Duration
	loginLimit    int
	loginWindow   time.Duration
	uploadLimit   int
	uploadWindow  time.Duration
	whitelist     domain.Whitelist

	cleanupEnabled  bool
	cleanupInterval time.Duration
	cleanupHorizon  time.Duration
	cleanupBackoff  time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsSeries        bool
	rateStatsTrackClients  bool
	rateStatsQueueSize     int
}

// loadDotEnv carrega ENV_FILE (padrão .env). Arquivo ausente não é erro;
// variáveis já exportadas no ambiente têm precedência.
func loadDotEnv() error {
	path := getenvDefault("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// readConfig lê e valida tudo no startup. Quota mal configurada derruba o
// processo aqui, nunca em tempo de request.
func readConfig() (config, error) {
	var errs []error
	p := envParser{errs: &errs}

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = strings.TrimSpace(os.Getenv("UPSTREAM_URL"))
	cfg.trustProxyHeaders = p.boolOf("TRUST_PROXY_HEADERS", true)

	if err := cfg.logLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	cfg.rateEnabled = p.boolOf("RATE_LIMIT_ENABLED", true)
	alg, err := domain.ParseAlgorithm(getenvDefault("RATE_LIMIT_ALGORITHM", string(domain.AlgorithmSlidingWindow)))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_ALGORITHM: %w", err))
	}
	cfg.algorithm = alg
	cfg.defaultLimit = p.intOf("RATE_LIMIT_DEFAULT_LIMIT", 60)
	cfg.defaultWindow = p.secondsOf("RATE_LIMIT_DEFAULT_WINDOW", 60)
	cfg.loginLimit = p.intOf("RATE_LIMIT_LOGIN_LIMIT", 5)
	cfg.loginWindow = p.secondsOf("RATE_LIMIT_LOGIN_WINDOW", 60)
	cfg.uploadLimit = p.intOf("RATE_LIMIT_UPLOAD_LIMIT", 10)
	cfg.uploadWindow = p.secondsOf("RATE_LIMIT_UPLOAD_WINDOW", 60)
	cfg.whitelist = domain.ParseWhitelist(os.Getenv("RATE_LIMIT_WHITELIST_IPS"))

	cfg.cleanupEnabled = p.boolOf("RATE_LIMIT_ENABLE_CLEANUP", true)
	cfg.cleanupInterval = p.durationOf("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute)
	cfg.cleanupHorizon = p.durationOf("RATE_LIMIT_CLEANUP_HORIZON", time.Hour)
	cfg.cleanupBackoff = p.durationOf("RATE_LIMIT_CLEANUP_BACKOFF", time.Minute)

	cfg.rateStatsEnabled = p.boolOf("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = p.intOf("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = p.durationOf("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsSeries = p.boolOf("RATE_STATS_SERIES", true)
	cfg.rateStatsTrackClients = p.boolOf("RATE_STATS_TRACK_CLIENTS", false)
	cfg.rateStatsQueueSize = p.intOf("RATE_STATS_QUEUE_SIZE", 1024)

	if cfg.upstreamURL == "" {
		errs = append(errs, errors.New("UPSTREAM_URL is required"))
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		errs = append(errs, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true"))
	}
	if cfg.rateStatsEnabled && cfg.rateStatsQueueSize <= 0 {
		errs = append(errs, errors.New("RATE_STATS_QUEUE_SIZE must be > 0"))
	}
	if cfg.cleanupEnabled {
		if cfg.cleanupInterval <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_CLEANUP_INTERVAL must be > 0"))
		}
		if cfg.cleanupBackoff <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_CLEANUP_BACKOFF must be > 0"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}

	// políticas e horizonte são validados montando o classifier.
	if _, err := cfg.classifier(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) policy(class string, limit int, window time.Duration) domain.Policy {
	if c.algorithm == domain.AlgorithmTokenBucket {
		return domain.BucketPolicy(class, limit, window)
	}
	return domain.WindowPolicy(class, limit, window)
}

func (c config) classifier() (*application.Classifier, error) {
	login := c.policy(application.ClassLogin, c.loginLimit, c.loginWindow)
	upload := c.policy(application.ClassUpload, c.uploadLimit, c.uploadWindow)
	def := c.policy(application.ClassDefault, c.defaultLimit, c.defaultWindow)

	cls, err := application.NewClassifier(def, application.DefaultRules(login, upload)...)
	if err != nil {
		return nil, err
	}
	if c.cleanupEnabled {
		if err := cls.CheckHorizon(c.cleanupHorizon); err != nil {
			return nil, err
		}
	}
	return cls, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// envParser acumula erros de parse em vez de cair silenciosamente no padrão.
type envParser struct {
	errs *[]error
}

func (p envParser) fail(k string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", k, err))
}

func (p envParser) intOf(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, err)
		return def
	}
	return i
}

// secondsOf lê um inteiro em segundos (ex: "60").
func (p envParser) secondsOf(k string, def int) time.Duration {
	return time.Duration(p.intOf(k, def)) * time.Second
}

func (p envParser) boolOf(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, err)
		return def
	}
	return b
}

func (p envParser) durationOf(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, err)
		return def
	}
	return d
}
