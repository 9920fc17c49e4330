// Package ratelimit fornece o adapter HTTP (net/http) do rate limit do backend
// de navegação (favoritos/categorias).
//
// Visão geral (camadas):
//
//   - domain: chave, política, decisão e contratos (sem dependência de net/http)
//   - application: classificação (cliente + path -> chave + política) e decisão allow/deny
//   - infra: janela deslizante, token bucket, reaper e estatísticas
//   - ratelimit (este pacote): middleware HTTP + extração do cliente + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Paths de infraestrutura (/health, /docs, estáticos) passam direto
//  2. Extrai o cliente (X-Forwarded-For / X-Real-IP / peer); whitelist passa direto
//  3. Classifica o path (login, upload, default) e pede a decisão à camada application
//  4. Se bloqueado, responde 429 com JSON + Retry-After e X-RateLimit-*
//  5. Se permitido, chama o próximo handler (ex: reverse proxy) e carimba X-RateLimit-*
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_LIMIT_DEFAULT_LIMIT, RATE_LIMIT_LOGIN_WINDOW e RATE_LIMIT_WHITELIST_IPS.
package ratelimit
