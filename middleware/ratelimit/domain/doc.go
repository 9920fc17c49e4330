// Package domain define contratos e tipos de domínio do rate limit:
// chave (cliente + classe), política, decisão, whitelist e os contratos
// Limiter/Sweeper/StatsStore.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
