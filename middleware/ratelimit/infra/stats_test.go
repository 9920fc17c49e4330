package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"navi-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStatsStore_CountsByClassAndRoute(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "ip1:login", Class: "login", Allowed: true, Method: "POST", Path: "/api/auth/login"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip1:login", Class: "login", Allowed: false, Method: "POST", Path: "/api/auth/login"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip1:default", Class: "default", Allowed: true, Method: "GET", Path: "/api/websites"})

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected total: %+v", got)
	}
	if got := s.ByClass()["login"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected login counters: %+v", got)
	}
	if got := s.ByRoute()["GET /api/websites"]; got.Allowed != 1 {
		t.Fatalf("unexpected route counters: %+v", got)
	}
	if got := s.ByKey()["ip1:login"]; got.Denied != 1 {
		t.Fatalf("unexpected key counters: %+v", got)
	}
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "ip1:default", Class: "default", Allowed: true})

	if len(s.ByKey()) != 0 {
		t.Fatalf("expected per-key counters to be off by default")
	}
}

func TestRedisStatsStore_Integration(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	prefix := fmt.Sprintf("navi_test_%d", time.Now().UnixNano())
	s := NewRedisStatsStore(rdb, WithStatsPrefix(prefix), WithStatsTTL(time.Minute), WithStatsTrackClients(true))
	minute := prefix + ":class:login:" + t0.UTC().Format("200601021504")
	defer rdb.Del(context.Background(), prefix+":total", prefix+":class:login", prefix+":class:login:rejected", minute)

	events := []domain.StatsEvent{
		{Key: domain.NewKey("2001:db8::1", "login"), Class: "login", Allowed: true, At: t0},
		{Key: domain.NewKey("2001:db8::1", "login"), Class: "login", Allowed: false, At: t0},
		{Key: domain.NewKey("2001:db8::1", "login"), Class: "login", Allowed: false, At: t0},
		// sem Class: cai na classe da chave
		{Key: domain.NewKey("203.0.113.5", "login"), Allowed: false, At: t0},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.ClassCounters(ctx, "login")
	if err != nil {
		t.Fatalf("class counters: %v", err)
	}
	if got.Allowed != 1 || got.Denied != 3 {
		t.Fatalf("unexpected login counters: %+v", got)
	}

	top, err := s.TopRejected(ctx, "login", 1)
	if err != nil {
		t.Fatalf("top rejected: %v", err)
	}
	if len(top) != 1 || top[0].Client != "2001:db8::1" || top[0].Rejected != 2 {
		t.Fatalf("unexpected top rejected: %+v", top)
	}

	if ttl, err := rdb.TTL(ctx, minute).Result(); err != nil || ttl <= 0 {
		t.Fatalf("expected per-minute series to expire, ttl=%s err=%v", ttl, err)
	}
	if ttl, err := rdb.TTL(ctx, prefix+":class:login").Result(); err != nil || ttl != -1 {
		t.Fatalf("expected cumulative class counters without expiry, ttl=%s err=%v", ttl, err)
	}
}
