package infra

import (
	"sync"
	"time"

	"navi-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// table guarda o estado por chave em shards.
//
// O mutex do shard só protege o map (lookup/insert/delete). Cada entrada tem
// seu próprio mutex, então chaves diferentes nunca esperam pelo estado uma da
// outra.
type table[S any] struct {
	shards [shardCount]shard[S]
}

type shard[S any] struct {
	mu sync.Mutex
	m  map[domain.Key]*entry[S]
}

type entry[S any] struct {
	mu       sync.Mutex
	state    S
	lastSeen time.Time
	// dead é marcado pelo reaper (com mu travado) antes de remover a entrada do map.
	// Quem pegou o ponteiro antes da remoção refaz o lookup.
	dead bool
}

func newTable[S any]() *table[S] {
	t := &table[S]{}
	for i := range t.shards {
		t.shards[i].m = make(map[domain.Key]*entry[S])
	}
	return t
}

func (t *table[S]) shardFor(key domain.Key) *shard[S] {
	return &t.shards[xxhash.Sum64String(string(key))%shardCount]
}

// with executa fn com o lock da entrada travado. created indica que a entrada
// acabou de ser criada (primeira vez que a chave aparece).
func (t *table[S]) with(key domain.Key, now time.Time, fn func(state *S, created bool)) {
	sh := t.shardFor(key)
	for {
		sh.mu.Lock()
		e, ok := sh.m[key]
		if !ok {
			e = &entry[S]{}
			sh.m[key] = e
		}
		sh.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(&e.state, !ok)
		e.lastSeen = now
		e.mu.Unlock()
		return
	}
}

// sweep percorre todas as entradas sem segurar lock durante a varredura
// inteira: copia as entradas do shard, solta o lock do shard e trava cada
// entrada individualmente. Se evict retornar true a entrada é removida.
func (t *table[S]) sweep(evict func(state *S, lastSeen time.Time) bool) int {
	removed := 0
	snapshot := make(map[domain.Key]*entry[S])

	for i := range t.shards {
		sh := &t.shards[i]

		sh.mu.Lock()
		for k, e := range sh.m {
			snapshot[k] = e
		}
		sh.mu.Unlock()

		for k, e := range snapshot {
			e.mu.Lock()
			if !e.dead && evict(&e.state, e.lastSeen) {
				e.dead = true
				sh.mu.Lock()
				if sh.m[k] == e {
					delete(sh.m, k)
				}
				sh.mu.Unlock()
				removed++
			}
			e.mu.Unlock()
		}
		clear(snapshot)
	}
	return removed
}

func (t *table[S]) len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

func (t *table[S]) contains(key domain.Key) bool {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.m[key]
	return ok
}
