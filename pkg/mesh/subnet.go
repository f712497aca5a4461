package mesh

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// resolveCacheTTL bounds how long a subnet suffix's DNS resolvability is
// trusted before pick rechecks it. A dedicated TCP-path failure (the dial
// itself, or the watchdog closing a silent socket) still marks the suffix
// bad immediately via markBad regardless of this cache.
const resolveCacheTTL = 5 * time.Second

// subnetResolveCache memoizes "<host><suffix>" DNS resolvability so a busy
// connector retrying many peers doesn't re-resolve the same handful of
// subnet addresses every dial attempt. Bounded by an LRU for the same
// reason logThrottle is: an unbounded number of distinct hosts must not
// grow this without limit.
type subnetResolveCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

type resolveCacheEntry struct {
	ok bool
	at time.Time
}

func newSubnetResolveCache() *subnetResolveCache {
	c, err := lru.New(512)
	if err != nil {
		// lru.New only errors on a non-positive size, which 512 never is.
		panic(err)
	}
	return &subnetResolveCache{cache: c, now: time.Now}
}

// lookup resolves addr via fn, serving a cached verdict if one was recorded
// within resolveCacheTTL.
func (c *subnetResolveCache) lookup(addr string, fn func(string) error) error {
	c.mu.Lock()
	if v, ok := c.cache.Get(addr); ok {
		e := v.(resolveCacheEntry)
		if c.now().Sub(e.at) < resolveCacheTTL {
			c.mu.Unlock()
			if e.ok {
				return nil
			}
			return fmt.Errorf("mesh: %q did not resolve (cached)", addr)
		}
	}
	c.mu.Unlock()

	err := fn(addr)
	c.mu.Lock()
	c.cache.Add(addr, resolveCacheEntry{ok: err == nil, at: c.now()})
	c.mu.Unlock()
	return err
}

// subnetState tracks one Net's configured subnet suffixes and the single
// most recently bad one, per spec.md §4.10: "skipping... the single most
// recently marked-bad subnet if its blackout timer has not expired".
type subnetState struct {
	mu       sync.Mutex
	suffixes []string
	disabled map[string]bool

	lastBadSuffix string
	lastBadAt     time.Time
	blackout      time.Duration

	resolveCache *subnetResolveCache

	// rngMu/rng back the random starting offset in pick: a per-instance
	// PRNG seeded per spec.md's crc32c recipe (see jitter.go), never the
	// shared math/rand source.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func newSubnetState(suffixes []string, blackout time.Duration) *subnetState {
	cp := make([]string, len(suffixes))
	copy(cp, suffixes)
	return &subnetState{
		suffixes:     cp,
		disabled:     make(map[string]bool),
		blackout:     blackout,
		resolveCache: newSubnetResolveCache(),
		rng:          newSeededRand(),
	}
}

// randOffset returns a random index in [0, n) from this subnetState's own
// seeded PRNG.
func (s *subnetState) randOffset(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// disable administratively excludes suffix from selection (net_clipper).
func (s *subnetState) disable(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[suffix] = true
}

// enable re-admits a previously disabled suffix.
func (s *subnetState) enable(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disabled, suffix)
}

// list returns a copy of the configured subnet suffixes.
func (s *subnetState) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suffixes...)
}

// isDisabled reports whether suffix is currently administratively disabled.
func (s *subnetState) isDisabled(suffix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[suffix]
}

// markBad records suffix as the single most recently bad subnet, starting
// its blackout timer.
func (s *subnetState) markBad(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBadSuffix = suffix
	s.lastBadAt = time.Now()
}

// pick iterates the configured suffixes starting from a random offset,
// skipping administratively disabled suffixes and the single most recently
// bad one (unless its blackout has expired), and returns the first suffix
// whose "<host><suffix>" DNS lookup succeeds. lookup is swappable for
// tests; production callers pass net.LookupHost-shaped resolution via
// resolveSubnetHost.
func (s *subnetState) pick(host string, lookup func(string) error) (string, error) {
	s.mu.Lock()
	suffixes := append([]string(nil), s.suffixes...)
	disabled := make(map[string]bool, len(s.disabled))
	for k := range s.disabled {
		disabled[k] = true
	}
	badSuffix, badAt, blackout := s.lastBadSuffix, s.lastBadAt, s.blackout
	cache := s.resolveCache
	s.mu.Unlock()

	cachedLookup := lookup
	if cache != nil {
		cachedLookup = func(addr string) error { return cache.lookup(addr, lookup) }
	}

	if len(suffixes) == 0 {
		if err := cachedLookup(host); err != nil {
			return "", fmt.Errorf("mesh: no subnets configured and %q does not resolve: %w", host, err)
		}
		return "", nil
	}

	offset := s.randOffset(len(suffixes))
	for i := 0; i < len(suffixes); i++ {
		suffix := suffixes[(offset+i)%len(suffixes)]
		if disabled[suffix] {
			continue
		}
		if suffix == badSuffix && time.Since(badAt) < blackout {
			continue
		}
		if err := cachedLookup(host + suffix); err == nil {
			return suffix, nil
		}
	}
	return "", fmt.Errorf("mesh: no subnet suffix resolved a usable address for %q", host)
}

func resolveSubnetHost(addr string) error {
	_, err := net.LookupHost(addr)
	return err
}

// getDedicatedConnHost resolves the address the connector should dial for
// peer, returning the chosen suffix (empty if no subnets are configured)
// and the dial address (host+suffix).
func (n *Net) getDedicatedConnHost(host string) (suffix, dialHost string, err error) {
	suffix, err = n.subnets.pick(host, resolveSubnetHost)
	if err != nil {
		return "", "", err
	}
	return suffix, host + suffix, nil
}

// killSubnet walks every live Net in the process and shuts down every peer
// socket currently bound through suffix, per spec.md's "kill_subnet".
func killSubnet(suffix string) {
	for _, n := range snapshotNets() {
		n.subnets.markBad(suffix)
		for _, p := range n.dir.all() {
			if p.Subnet() == suffix {
				p.closeSocket()
			}
		}
		n.metrics.subnetKills.WithLabelValues(suffix).Inc()
	}
}

// globalNets is the process-wide registry of every Net, used only by
// killSubnet (spec.md's "Global listener set"). Guarded by its own mutex,
// per the lock-ordering list's final item.
var globalNets = struct {
	mu   sync.Mutex
	list []*Net
}{}

func registerNet(n *Net) {
	globalNets.mu.Lock()
	defer globalNets.mu.Unlock()
	globalNets.list = append(globalNets.list, n)
}

func unregisterNet(n *Net) {
	globalNets.mu.Lock()
	defer globalNets.mu.Unlock()
	for i, other := range globalNets.list {
		if other == n {
			globalNets.list = append(globalNets.list[:i], globalNets.list[i+1:]...)
			return
		}
	}
}

func snapshotNets() []*Net {
	globalNets.mu.Lock()
	defer globalNets.mu.Unlock()
	out := make([]*Net, len(globalNets.list))
	copy(out, globalNets.list)
	return out
}
