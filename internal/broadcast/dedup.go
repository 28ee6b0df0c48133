package broadcast

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUDedup implements EventDedup with an in-process, TTL-expiring cache
// (spec.md §4.J: "event_id ... sliding 15-minute window"). This replaces
// the filesystem `storage/tmp/event_<id>.lock` approach of the reference
// implementation: a single chainsyncd process owns its intake endpoint, so
// an in-memory cache is sufficient and avoids the janitor sweep the
// filesystem variant needed. Multi-process deployments sharing one intake
// path would need a shared store (e.g. the mempool table's database) instead
// of this cache — out of scope here since spec.md §5 describes a single
// owning process per node.
type LRUDedup struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewLRUDedup builds a dedup cache with a 15-minute sliding TTL and a
// generous capacity bound to keep memory use predictable under a broadcast
// storm.
func NewLRUDedup() *LRUDedup {
	return &LRUDedup{cache: expirable.NewLRU[string, struct{}](10000, nil, 15*time.Minute)}
}

func (d *LRUDedup) SeenRecently(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.cache.Get(eventID)
	return ok
}

func (d *LRUDedup) Remember(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Add(eventID, struct{}{})
}
