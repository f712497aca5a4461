package mesh

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// logThrottle suppresses repeated log lines for the same (key) to at most
// once per interval, used by the spec's several "logged at most once per
// second" call sites (unregistered usertype, malformed frames, queue dumps).
// Bounded by an LRU so a burst of distinct keys (e.g. many misbehaving
// peers) can't grow this unboundedly.
type logThrottle struct {
	mu       sync.Mutex
	cache    *lru.Cache
	interval time.Duration
	now      func() time.Time
}

func newLogThrottle(interval time.Duration) *logThrottle {
	c, err := lru.New(256)
	if err != nil {
		// lru.New only errors on a non-positive size, which 256 never is.
		panic(err)
	}
	return &logThrottle{cache: c, interval: interval, now: time.Now}
}

// Allow reports whether the caller should log now for key, recording the
// attempt either way.
func (t *logThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if v, ok := t.cache.Get(key); ok {
		last := v.(time.Time)
		if now.Sub(last) < t.interval {
			return false
		}
	}
	t.cache.Add(key, now)
	return true
}
