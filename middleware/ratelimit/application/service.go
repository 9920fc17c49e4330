package application

import (
	"fmt"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// A estratégia é escolhida pelo Algorithm da política.
type Service struct {
	Window domain.Limiter
	Bucket domain.Limiter
	// Now permite fixar o relógio em testes. nil usa time.Now.
	Now func() time.Time
}

// NewService garante, no wiring, que toda política tem um limiter para o seu
// algoritmo. Política sem limiter seria admitida sem checagem nenhuma.
func NewService(window, bucket domain.Limiter, policies ...domain.Policy) (*Service, error) {
	s := &Service{Window: window, Bucket: bucket}
	for _, p := range policies {
		if s.limiterFor(p) == nil {
			return nil, fmt.Errorf("%w: policy %q uses %q", domain.ErrMissingLimiter, p.Class, p.Algorithm)
		}
	}
	return s, nil
}

func (s *Service) limiterFor(p domain.Policy) domain.Limiter {
	switch p.Algorithm {
	case domain.AlgorithmSlidingWindow:
		return s.Window
	case domain.AlgorithmTokenBucket:
		return s.Bucket
	}
	return nil
}

func (s *Service) Decide(key domain.Key, p domain.Policy) domain.Decision {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.limiterFor(p).Check(key, p, now())
}
