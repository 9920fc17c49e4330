package application

import (
	"fmt"
	"strings"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

const (
	ClassDefault = "default"
	ClassLogin   = "login"
	ClassUpload  = "upload"
)

// Rule associa um prefixo de path a uma política especial.
type Rule struct {
	Prefix string
	Policy domain.Policy
}

// Classifier mapeia (cliente, path) para a chave e a política aplicadas.
// As regras são avaliadas em ordem; a primeira que casar vence e o que não
// casar cai na política default.
type Classifier struct {
	rules []Rule
	def   domain.Policy
}

// NewClassifier valida todas as políticas; erro aqui é erro de configuração
// e deve derrubar o startup.
func NewClassifier(def domain.Policy, rules ...Rule) (*Classifier, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for _, r := range rules {
		if strings.TrimSpace(r.Prefix) == "" {
			return nil, fmt.Errorf("rule for policy %q has an empty prefix", r.Policy.Class)
		}
		if err := r.Policy.Validate(); err != nil {
			return nil, err
		}
	}
	return &Classifier{rules: append([]Rule(nil), rules...), def: def}, nil
}

// DefaultRules são as rotas especiais do backend de navegação: login (com e
// sem o prefixo /api) e o upload do backup JSON.
func DefaultRules(login, upload domain.Policy) []Rule {
	return []Rule{
		{Prefix: "/auth/login", Policy: login},
		{Prefix: "/api/auth/login", Policy: login},
		{Prefix: "/api/data/load", Policy: upload},
	}
}

func (c *Classifier) Classify(client, path string) (domain.Key, domain.Policy) {
	p := c.def
	for _, r := range c.rules {
		if strings.HasPrefix(path, r.Prefix) {
			p = r.Policy
			break
		}
	}
	return domain.NewKey(client, p.Class), p
}

// Policies retorna a default seguida das políticas das regras.
func (c *Classifier) Policies() []domain.Policy {
	out := []domain.Policy{c.def}
	for _, r := range c.rules {
		out = append(out, r.Policy)
	}
	return out
}

// MaxSpan é o maior intervalo observado por qualquer política.
func (c *Classifier) MaxSpan() time.Duration {
	var longest time.Duration
	for _, p := range c.Policies() {
		longest = max(longest, p.Span())
	}
	return longest
}

// CheckHorizon garante que o horizonte do reaper cobre todas as janelas;
// senão o reaper apagaria timestamps ainda válidos.
func (c *Classifier) CheckHorizon(horizon time.Duration) error {
	if span := c.MaxSpan(); horizon < span {
		return fmt.Errorf("%w: horizon %s < window %s", domain.ErrInvalidHorizon, horizon, span)
	}
	return nil
}
