package infra

import (
	"time"

	"navi-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// bucket é o estado por chave do token bucket. O saldo (float) e o instante
// da última reposição ficam dentro do rate.Limiter: burst = capacidade,
// limit = taxa de reposição por segundo.
type bucket struct {
	lim *rate.Limiter
}

// TokenBucket é uma implementação de infra baseada em token-bucket (x/time/rate)
// com um limiter por chave.
type TokenBucket struct {
	entries *table[bucket]
}

func NewTokenBucket() *TokenBucket {
	return &TokenBucket{entries: newTable[bucket]()}
}

// Consume tenta consumir um token da chave no instante now.
//
// Na primeira vez que a chave aparece o bucket começa cheio. Abaixo de 1 token
// a requisição é rejeitada, mesmo que o saldo esteja quase em 1; nesse caso
// wait = floor((1 - tokens) / refillRate) + 1.
//
// refillRate <= 0 é erro de configuração e deve ser barrado na validação da
// política; aqui só rejeita com wait 0.
func (b *TokenBucket) Consume(key domain.Key, capacity int, refillRate float64, now time.Time) (allowed bool, wait int) {
	if refillRate <= 0 {
		return false, 0
	}

	b.entries.with(key, now, func(st *bucket, created bool) {
		if created || st.lim == nil {
			st.lim = rate.NewLimiter(rate.Limit(refillRate), capacity)
		} else {
			if st.lim.Limit() != rate.Limit(refillRate) {
				st.lim.SetLimitAt(now, rate.Limit(refillRate))
			}
			if st.lim.Burst() != capacity {
				st.lim.SetBurstAt(now, capacity)
			}
		}

		if st.lim.AllowN(now, 1) {
			allowed = true
			return
		}

		tokens := st.lim.TokensAt(now)
		wait = int((1-tokens)/refillRate) + 1
	})
	return allowed, wait
}

// Check implementa domain.Limiter.
func (b *TokenBucket) Check(key domain.Key, p domain.Policy, now time.Time) domain.Decision {
	ok, wait := b.Consume(key, p.Capacity, p.RefillRate, now)
	return domain.Decision{Allowed: ok, Key: key, Policy: p, RetryAfter: wait}
}

// Sweep implementa domain.Sweeper: remove buckets sem uso há mais que horizon.
// Um bucket ocioso por tanto tempo já estaria cheio de novo, então recriá-lo
// não muda nenhuma decisão.
func (b *TokenBucket) Sweep(now time.Time, horizon time.Duration) int {
	cutoff := now.Add(-horizon)
	return b.entries.sweep(func(_ *bucket, lastSeen time.Time) bool {
		return lastSeen.Before(cutoff)
	})
}

func (b *TokenBucket) Len() int { return b.entries.len() }

func (b *TokenBucket) Tracks(key domain.Key) bool { return b.entries.contains(key) }
