package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

const (
	DefaultReapInterval = 5 * time.Minute
	DefaultReapHorizon  = time.Hour
	DefaultReapBackoff  = time.Minute
)

// Reaper varre periodicamente os stores e remove chaves ociosas há mais que
// o horizonte, limitando a memória aos clientes ativos.
//
// Uma passada com falha é logada e ignorada: o reaper espera Backoff e
// continua. Só para quando o ctx é cancelado.
type Reaper struct {
	targets  []domain.Sweeper
	interval time.Duration
	horizon  time.Duration
	backoff  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type ReaperOption func(*Reaper)

func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.interval = d }
}

func WithReapHorizon(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.horizon = d }
}

func WithReapBackoff(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.backoff = d }
}

func WithReapClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

func WithReapLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = l }
}

func NewReaper(targets []domain.Sweeper, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		targets:  targets,
		interval: DefaultReapInterval,
		horizon:  DefaultReapHorizon,
		backoff:  DefaultReapBackoff,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Pass executa uma varredura em todos os alvos. Um panic dentro de um alvo
// vira erro; os alvos seguintes ainda são varridos.
func (r *Reaper) Pass() (removed int, err error) {
	now := r.now()
	for _, t := range r.targets {
		n, perr := sweepSafely(t, now, r.horizon)
		removed += n
		if perr != nil && err == nil {
			err = perr
		}
	}
	return removed, err
}

func sweepSafely(t domain.Sweeper, now time.Time, horizon time.Duration) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reaper: sweep panicked: %v", rec)
		}
	}()
	return t.Sweep(now, horizon), nil
}

// Run bloqueia até o ctx ser cancelado. Faz uma passada logo no início e
// depois uma a cada interval (ou backoff, se a passada anterior falhou).
func (r *Reaper) Run(ctx context.Context) {
	for {
		wait := r.interval
		removed, err := r.Pass()
		if err != nil {
			r.logger.Error("rate limiter cleanup error", "err", err)
			wait = r.backoff
		} else if removed > 0 {
			r.logger.Debug("rate limiter cleanup", "removed", removed)
		}
		if wait <= 0 {
			wait = DefaultReapInterval
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Start inicia o reaper numa goroutine. Pare cancelando o contexto; o canal
// retornado fecha quando a goroutine termina.
func (r *Reaper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return done
}
