package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Key identifica o estado de quota: cliente + classe da política
// (ex: "203.0.113.5:login"). Assim "login" e "default" do mesmo cliente
// não compartilham quota.
type Key string

func NewKey(client, class string) Key {
	return Key(client + ":" + class)
}

// Client e Class desfazem NewKey. O corte é no último ":" porque o cliente
// pode ser um IPv6.
func (k Key) Client() string {
	client, _ := k.split()
	return client
}

func (k Key) Class() string {
	_, class := k.split()
	return class
}

func (k Key) split() (client, class string) {
	s := string(k)
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "window"
	AlgorithmTokenBucket   Algorithm = "bucket"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmSlidingWindow, AlgorithmTokenBucket:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

var (
	ErrInvalidLimit      = errors.New("ratelimit: limit must be >= 0")
	ErrInvalidWindow     = errors.New("ratelimit: window must be > 0")
	ErrInvalidCapacity   = errors.New("ratelimit: bucket capacity must be >= 1")
	ErrInvalidRefillRate = errors.New("ratelimit: refill rate must be > 0")
	ErrInvalidHorizon    = errors.New("ratelimit: retention horizon must cover every policy window")
	ErrUnknownAlgorithm  = errors.New("ratelimit: unknown algorithm")
	ErrMissingLimiter    = errors.New("ratelimit: no limiter for policy algorithm")
)

// Policy é imutável depois de validada. Class serve só para observabilidade
// e namespacing da chave.
//
// Sliding window usa Limit/Window; token bucket usa Capacity/RefillRate.
type Policy struct {
	Class     string
	Algorithm Algorithm

	Limit  int
	Window time.Duration

	Capacity   int
	RefillRate float64 // tokens por segundo
}

// WindowPolicy monta uma política de janela deslizante.
func WindowPolicy(class string, limit int, window time.Duration) Policy {
	return Policy{Class: class, Algorithm: AlgorithmSlidingWindow, Limit: limit, Window: window}
}

// BucketPolicy deriva um token bucket equivalente a "limit por window":
// capacidade = limit, reposição = limit/window.
func BucketPolicy(class string, limit int, window time.Duration) Policy {
	p := Policy{Class: class, Algorithm: AlgorithmTokenBucket, Capacity: limit, Window: window}
	if window > 0 {
		p.RefillRate = float64(limit) / window.Seconds()
	}
	return p
}

func (p Policy) Validate() error {
	switch p.Algorithm {
	case AlgorithmSlidingWindow:
		if p.Limit < 0 {
			return fmt.Errorf("policy %q: %w", p.Class, ErrInvalidLimit)
		}
		if p.Window <= 0 {
			return fmt.Errorf("policy %q: %w", p.Class, ErrInvalidWindow)
		}
	case AlgorithmTokenBucket:
		// bucket de capacidade 0 nunca admite; "bloquear tudo" só existe na janela (limit 0)
		if p.Capacity < 1 {
			return fmt.Errorf("policy %q: %w", p.Class, ErrInvalidCapacity)
		}
		if p.RefillRate <= 0 || math.IsNaN(p.RefillRate) || math.IsInf(p.RefillRate, 0) {
			return fmt.Errorf("policy %q: %w", p.Class, ErrInvalidRefillRate)
		}
	default:
		return fmt.Errorf("policy %q: %w: %q", p.Class, ErrUnknownAlgorithm, p.Algorithm)
	}
	return nil
}

// HeaderLimit é o valor publicado em X-RateLimit-Limit.
func (p Policy) HeaderLimit() int {
	if p.Algorithm == AlgorithmTokenBucket {
		return p.Capacity
	}
	return p.Limit
}

// HeaderWindow é o valor (segundos) publicado em X-RateLimit-Window.
// No token bucket é o tempo para reencher um bucket vazio, arredondado pra cima.
func (p Policy) HeaderWindow() int {
	if p.Algorithm == AlgorithmTokenBucket {
		if p.RefillRate <= 0 {
			return 0
		}
		return int(math.Ceil(float64(p.Capacity) / p.RefillRate))
	}
	return int(p.Window / time.Second)
}

// Span é o intervalo de tempo que a política observa; o horizonte do reaper
// precisa ser >= a todos os spans.
func (p Policy) Span() time.Duration {
	if p.Algorithm == AlgorithmTokenBucket {
		return time.Duration(p.HeaderWindow()) * time.Second
	}
	return p.Window
}

type Decision struct {
	Allowed bool
	Key     Key
	Policy  Policy
	// RetryAfter em segundos inteiros; 0 quando permitido.
	RetryAfter int
}

// Limiter decide admit/reject para uma chave sob uma política, no instante now.
//
// Implementações: janela deslizante e token bucket (pacote infra).
type Limiter interface {
	Check(key Key, p Policy, now time.Time) Decision
}

// Sweeper é algo que o reaper consegue varrer, removendo estado ocioso.
// Retorna quantas chaves foram removidas.
type Sweeper interface {
	Sweep(now time.Time, horizon time.Duration) int
}
