package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"navi-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava as decisões agrupadas por classe de política (login,
// upload, default) no Redis.
//
// O Redis nunca participa da decisão, só recebe o resultado. Use atrás de uma
// AsyncStatsStore para não pagar o round trip na requisição.
type RedisStatsStore struct {
	rdb    redis.Cmdable
	prefix string
	// ttl vale para a série por minuto e para o ranking de clientes
	// rejeitados; os contadores cumulativos não expiram.
	ttl          time.Duration
	series       bool
	trackClients bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsSeries liga/desliga a série por minuto de cada classe.
func WithStatsSeries(on bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.series = on }
}

// WithStatsTrackClients mantém, por classe, um sorted set com quantas vezes
// cada cliente foi rejeitado. A cardinalidade cresce com o número de clientes
// abusivos, por isso vem desligado.
func WithStatsTrackClients(on bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackClients = on }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		series: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout (prefix padrão "ratelimit:stats"):
//
//	<prefix>:total                          hash allowed/denied
//	<prefix>:class:<class>                  hash allowed/denied
//	<prefix>:class:<class>:200601021504     hash allowed/denied (expira em ttl)
//	<prefix>:class:<class>:rejected         zset cliente -> rejeições (expira em ttl)
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", outcome, 1)

	class := eventClass(ev)
	if class != "" {
		base := s.classKey(class)
		pipe.HIncrBy(ctx, base, outcome, 1)

		if s.series {
			at := ev.At
			if at.IsZero() {
				at = time.Now()
			}
			minute := base + ":" + at.UTC().Format("200601021504")
			pipe.HIncrBy(ctx, minute, outcome, 1)
			s.expire(ctx, pipe, minute)
		}

		if s.trackClients && !ev.Allowed {
			if client := ev.Key.Client(); client != "" {
				rejected := base + ":rejected"
				pipe.ZIncrBy(ctx, rejected, 1, client)
				s.expire(ctx, pipe, rejected)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ClassCounters lê os contadores cumulativos de uma classe.
func (s *RedisStatsStore) ClassCounters(ctx context.Context, class string) (Counters, error) {
	vals, err := s.rdb.HMGet(ctx, s.classKey(class), "allowed", "denied").Result()
	if err != nil {
		return Counters{}, err
	}
	return Counters{Allowed: toInt64(vals[0]), Denied: toInt64(vals[1])}, nil
}

// RejectedClient é uma linha do ranking de rejeições de uma classe.
type RejectedClient struct {
	Client   string
	Rejected int64
}

// TopRejected retorna os n clientes mais rejeitados da classe (precisa de
// WithStatsTrackClients).
func (s *RedisStatsStore) TopRejected(ctx context.Context, class string, n int64) ([]RejectedClient, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.classKey(class)+":rejected", 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RejectedClient, 0, len(zs))
	for _, z := range zs {
		client, _ := z.Member.(string)
		out = append(out, RejectedClient{Client: client, Rejected: int64(z.Score)})
	}
	return out, nil
}

func (s *RedisStatsStore) classKey(class string) string {
	return s.prefix + ":class:" + class
}

func (s *RedisStatsStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// eventClass prefere a classe do evento e cai na classe embutida na chave.
func eventClass(ev domain.StatsEvent) string {
	if class := strings.TrimSpace(ev.Class); class != "" {
		return class
	}
	return ev.Key.Class()
}

// HMGet devolve string (ou nil para campo ausente).
func toInt64(v any) int64 {
	str, _ := v.(string)
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}
