// Package hostid interns peer hostnames into small comparable handles so
// that peer identity throughout pkg/mesh is a cheap integer comparison
// instead of a string comparison, matching the wire format's "pointer
// equality on interned strings" assumption.
package hostid

import (
	"sync"

	"github.com/twmb/murmur3"
)

// ID is an opaque handle for an interned hostname. The zero value never
// refers to a real host.
type ID uint64

const shardCount = 16

type shard struct {
	mu   sync.RWMutex
	byID map[ID]string
	byNm map[string]ID
}

// Table is a sharded hostname-interning table. The zero value is not usable;
// construct with New.
type Table struct {
	shards [shardCount]*shard
	next   struct {
		mu  sync.Mutex
		val ID
	}
}

// New returns an empty interning table.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{
			byID: make(map[ID]string),
			byNm: make(map[string]ID),
		}
	}
	return t
}

func (t *Table) shardFor(host string) *shard {
	h := murmur3.StringSum64(host)
	return t.shards[h%uint64(shardCount)]
}

// Intern returns the ID for host, allocating a fresh one on first sight.
// Concurrent calls for the same hostname are idempotent: exactly one ID is
// ever assigned to a given string.
func (t *Table) Intern(host string) ID {
	s := t.shardFor(host)

	s.mu.RLock()
	if id, ok := s.byNm[host]; ok {
		s.mu.RUnlock()
		return id
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byNm[host]; ok {
		return id
	}
	id := t.allocate()
	s.byNm[host] = id
	s.byID[id] = host
	return id
}

func (t *Table) allocate() ID {
	t.next.mu.Lock()
	defer t.next.mu.Unlock()
	t.next.val++
	return t.next.val
}

// String resolves id back to its hostname, or "" if never interned in this
// table (IDs are never valid across distinct Table instances).
func (t *Table) String(id ID) string {
	for _, s := range t.shards {
		s.mu.RLock()
		host, ok := s.byID[id]
		s.mu.RUnlock()
		if ok {
			return host
		}
	}
	return ""
}
