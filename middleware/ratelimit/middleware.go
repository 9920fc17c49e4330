package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"navi-gateway/middleware/ratelimit/application"
	"navi-gateway/middleware/ratelimit/domain"
	"navi-gateway/middleware/ratelimit/infra"

	"golang.org/x/time/rate"
)

const (
	HeaderRetryAfter = "Retry-After"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderWindow     = "X-RateLimit-Window"
	HeaderType       = "X-RateLimit-Type"
	HeaderRequestID  = "X-Request-ID"

	rejectMessage = "too many requests, please retry later"
)

// DefaultExemptPaths são os endpoints de infraestrutura sem autenticação
// (health check, documentação, estáticos) que nunca passam pelo limiter.
// Não confundir com a whitelist de IPs.
var DefaultExemptPaths = []string{"/health", "/docs", "/redoc", "/openapi.json", "/static", "/media"}

type KeyFunc func(r *http.Request) string

type Options struct {
	Classifier *application.Classifier
	Window     domain.Limiter
	Bucket     domain.Limiter
	Whitelist  domain.Whitelist
	// ExemptPaths nil usa DefaultExemptPaths.
	ExemptPaths []string
	// Stats recebe um evento por decisão, fora do caminho da requisição: o
	// middleware enfileira numa infra.AsyncStatsStore (a não ser que Stats já
	// seja uma) e a drena numa goroutine presa a StatsContext.
	Stats          domain.StatsStore
	StatsContext   context.Context
	StatsQueueSize int

	KeyFn             KeyFunc
	TrustProxyHeaders bool

	RejectStatus int
	// RejectLogInterval limita os warnings de rejeição: os 10 primeiros sempre
	// saem, depois no máximo um por intervalo. 0 usa 1s.
	RejectLogInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultKeyFunc identifica o cliente: primeiro IP do X-Forwarded-For, depois
// X-Real-IP, depois o peer da conexão. Sem nada disso cai em "unknown", que
// junta todos os clientes não rastreáveis numa mesma quota.
func DefaultKeyFunc(trustProxyHeaders bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxyHeaders {
			// X-Forwarded-For: client, proxy1, proxy2
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
			return addr
		}
		return "unknown"
	}
}

type rejection struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	Limit      int    `json:"limit"`
	Window     int    `json:"window"`
}

// New monta o ponto de admissão:
//
//	RECEIVED -> WHITELIST_CHECK -> {BYPASS | CLASSIFY} -> LIMIT_CHECK -> {ADMIT | REJECT}
//
// Não guarda estado próprio; o estado por chave vive nos limiters. Retorna
// erro se alguma política do classifier não tiver limiter para o seu algoritmo.
func New(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.Classifier == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.TrustProxyHeaders)
	}
	if opts.ExemptPaths == nil {
		opts.ExemptPaths = DefaultExemptPaths
	}
	if opts.RejectLogInterval <= 0 {
		opts.RejectLogInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	svc, err := application.NewService(opts.Window, opts.Bucket, opts.Classifier.Policies()...)
	if err != nil {
		return nil, err
	}
	svc.Now = now

	if opts.Stats != nil {
		if _, ok := opts.Stats.(*infra.AsyncStatsStore); !ok {
			ctx := opts.StatsContext
			if ctx == nil {
				ctx = context.Background()
			}
			async := infra.NewAsyncStatsStore(opts.Stats,
				infra.WithStatsQueueSize(opts.StatsQueueSize),
				infra.WithStatsLogger(opts.Logger),
			)
			async.Start(ctx)
			opts.Stats = async
		}
	}
	rejectLog := &rate.Sometimes{First: 10, Interval: opts.RejectLogInterval}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if isExempt(path, opts.ExemptPaths) {
				next.ServeHTTP(w, r)
				return
			}

			client := opts.KeyFn(r)
			if opts.Whitelist.Contains(client) {
				next.ServeHTTP(w, r)
				return
			}

			key, policy := opts.Classifier.Classify(client, path)
			dec := svc.Decide(key, policy)

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     key,
					Class:   policy.Class,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    path,
					At:      now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.Debug("rate limit stats event dropped", "err", err)
				}
			}

			if !dec.Allowed {
				rejectLog.Do(func() {
					opts.Logger.Warn("rate limit exceeded",
						"client", client,
						"path", path,
						"type", policy.Class,
						"retry_after", dec.RetryAfter,
						"request_id", r.Header.Get(HeaderRequestID),
					)
				})
				writeRejection(w, opts.RejectStatus, dec)
				return
			}

			sw := &stampWriter{ResponseWriter: w, policy: policy}
			next.ServeHTTP(sw, r)
			sw.stamp()
		})
	}, nil
}

// Middleware é New para o wiring estático: configuração inválida é bug de
// startup, então entra em panic.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	mw, err := New(opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func setPolicyHeaders(h http.Header, p domain.Policy) {
	h.Set(HeaderLimit, formatInt(p.HeaderLimit()))
	h.Set(HeaderWindow, formatInt(p.HeaderWindow()))
	h.Set(HeaderType, p.Class)
}

func writeRejection(w http.ResponseWriter, status int, dec domain.Decision) {
	h := w.Header()
	h.Set(HeaderRetryAfter, formatInt(dec.RetryAfter))
	setPolicyHeaders(h, dec.Policy)
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{
		Error:      rejectMessage,
		RetryAfter: dec.RetryAfter,
		Limit:      dec.Policy.HeaderLimit(),
		Window:     dec.Policy.HeaderWindow(),
	})
}

// stampWriter grava os headers X-RateLimit-* logo antes da resposta sair,
// sobrescrevendo o que o handler (ou o upstream do proxy) tiver colocado.
type stampWriter struct {
	http.ResponseWriter
	policy  domain.Policy
	stamped bool
}

func (w *stampWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	setPolicyHeaders(w.ResponseWriter.Header(), w.policy)
}

// Respostas 1xx (ex: 103 Early Hints) não carimbam: o ReverseProxy limpa o
// Header() depois de repassar cada 1xx, e o carimbo tem que sair na final.
func (w *stampWriter) WriteHeader(code int) {
	if code < 100 || code >= 200 || code == http.StatusSwitchingProtocols {
		w.stamp()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *stampWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

// Unwrap deixa http.ResponseController (usado pelo httputil.ReverseProxy)
// alcançar Flush/Hijack do writer original.
func (w *stampWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
