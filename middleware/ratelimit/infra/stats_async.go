package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

// ErrStatsQueueFull é retornado por AsyncStatsStore.Record quando a fila está
// cheia e o evento foi descartado.
var ErrStatsQueueFull = errors.New("ratelimit: stats queue full, event dropped")

const (
	DefaultStatsQueueSize = 1024
	DefaultStatsTimeout   = time.Second
)

// AsyncStatsStore tira a gravação de estatísticas do caminho da requisição.
//
// Record só enfileira (canal com buffer) e nunca bloqueia; com a fila cheia o
// evento é descartado. Uma goroutine, presa ao ctx passado em Start, drena a
// fila para o store real com timeout por evento, então um Redis lento ou
// travado só atrasa a própria drenagem.
type AsyncStatsStore struct {
	next    domain.StatsStore
	queue   chan domain.StatsEvent
	timeout time.Duration
	logger  *slog.Logger

	dropped atomic.Int64
}

type AsyncStatsOption func(*AsyncStatsStore)

func WithStatsQueueSize(n int) AsyncStatsOption {
	return func(s *AsyncStatsStore) {
		if n > 0 {
			s.queue = make(chan domain.StatsEvent, n)
		}
	}
}

func WithStatsTimeout(d time.Duration) AsyncStatsOption {
	return func(s *AsyncStatsStore) { s.timeout = d }
}

func WithStatsLogger(l *slog.Logger) AsyncStatsOption {
	return func(s *AsyncStatsStore) { s.logger = l }
}

func NewAsyncStatsStore(next domain.StatsStore, opts ...AsyncStatsOption) *AsyncStatsStore {
	s := &AsyncStatsStore{
		next:    next,
		queue:   make(chan domain.StatsEvent, DefaultStatsQueueSize),
		timeout: DefaultStatsTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *AsyncStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	select {
	case s.queue <- ev:
		return nil
	default:
		s.dropped.Add(1)
		return ErrStatsQueueFull
	}
}

// Dropped conta os eventos descartados por fila cheia.
func (s *AsyncStatsStore) Dropped() int64 { return s.dropped.Load() }

// Run drena a fila até o ctx ser cancelado. O que ainda estiver na fila no
// cancelamento é descartado.
func (s *AsyncStatsStore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.forward(ctx, ev)
		}
	}
}

func (s *AsyncStatsStore) forward(ctx context.Context, ev domain.StatsEvent) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.next.Record(ctx, ev); err != nil {
		s.logger.Debug("rate limit stats record failed", "err", err, "class", ev.Class)
	}
}

// Start roda Run numa goroutine; o canal retornado fecha quando ela termina.
func (s *AsyncStatsStore) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}
