// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SlidingWindow: log de timestamps por chave
//   - TokenBucket: token bucket por chave usando golang.org/x/time/rate
//   - Reaper: limpeza periódica das chaves ociosas
//   - MemoryStatsStore / RedisStatsStore: estatísticas das decisões
package infra
