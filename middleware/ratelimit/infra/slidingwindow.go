package infra

import (
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

// windowLog guarda os timestamps das requisições admitidas, do mais antigo
// para o mais novo. Só cresce no fim e só é aparado no começo, então fica
// sempre ordenado.
type windowLog struct {
	ts []time.Time
}

// trim remove os timestamps estritamente anteriores a cutoff.
func (l *windowLog) trim(cutoff time.Time) {
	i := 0
	for i < len(l.ts) && l.ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// copia para o início para o array de suporte não crescer sem limite.
	n := copy(l.ts, l.ts[i:])
	clear(l.ts[n:])
	l.ts = l.ts[:n]
}

// SlidingWindow é o contador de janela deslizante: um log de timestamps por
// chave, com expurgo dos expirados a cada chamada.
type SlidingWindow struct {
	entries *table[windowLog]
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{entries: newTable[windowLog]()}
}

// IsAllowed apara o log da chave para [now-window, now] e admite se ainda
// houver menos de limit requisições. Ao rejeitar retorna em quantos segundos o
// timestamp mais antigo sai da janela (+1, para o cliente nunca tentar um tick
// cedo demais). Rejeição não registra a requisição.
func (s *SlidingWindow) IsAllowed(key domain.Key, limit int, window time.Duration, now time.Time) (allowed bool, retryAfter int) {
	s.entries.with(key, now, func(l *windowLog, _ bool) {
		l.trim(now.Add(-window))

		if len(l.ts) >= limit {
			oldest := now
			if len(l.ts) > 0 {
				oldest = l.ts[0]
			}
			retryAfter = int(oldest.Add(window).Sub(now)/time.Second) + 1
			return
		}

		l.ts = append(l.ts, now)
		allowed = true
	})
	return allowed, retryAfter
}

// Check implementa domain.Limiter.
func (s *SlidingWindow) Check(key domain.Key, p domain.Policy, now time.Time) domain.Decision {
	ok, retry := s.IsAllowed(key, p.Limit, p.Window, now)
	return domain.Decision{Allowed: ok, Key: key, Policy: p, RetryAfter: retry}
}

// Sweep implementa domain.Sweeper: apara cada log com o horizonte (bem maior
// que qualquer janela) e remove as chaves que ficaram vazias.
func (s *SlidingWindow) Sweep(now time.Time, horizon time.Duration) int {
	cutoff := now.Add(-horizon)
	return s.entries.sweep(func(l *windowLog, _ time.Time) bool {
		l.trim(cutoff)
		return len(l.ts) == 0
	})
}

// Len retorna quantas chaves estão sendo rastreadas.
func (s *SlidingWindow) Len() int { return s.entries.len() }

func (s *SlidingWindow) Tracks(key domain.Key) bool { return s.entries.contains(key) }
