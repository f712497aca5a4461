package mesh

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/clusterfabric/meshbus/pkg/hostid"
)

// directory is the Net's map of known peers, keyed by hostname. Lookup goes
// through the byHost map, fronted by a single-entry last-used cache for the
// common "send to the same peer repeatedly" case. The last-used cache's hit
// check compares interned HostIds rather than raw
// hostnames, per spec.md §9's "Hostname interning... compact HostId index"
// design note — a uint64 compare instead of a string compare on the hot
// repeated-send-to-the-same-peer path.
//
// Lock order item 1: acquire the directory lock before any individual
// peer's own mutex.
type directory struct {
	hosts *hostid.Table

	mu    sync.RWMutex
	byHost map[string]*Peer

	lastUsed atomic.Pointer[Peer]

	sanctionedMu sync.Mutex
	sanctioned   *list.List // of sanctionedEntry, configured membership only
}

type sanctionedEntry struct {
	host string
	port int
}

func newDirectory(hosts *hostid.Table) *directory {
	return &directory{
		hosts:      hosts,
		byHost:     make(map[string]*Peer),
		sanctioned: list.New(),
	}
}

// add idempotently inserts (host,port), returning the existing Peer if one
// is already known for that hostname. newlyCreated reports whether this
// call is the one that created the Peer, so the caller (net.go's learnPeer)
// knows whether to fire NewNode and spin up a connector.
func (d *directory) add(n *Net, host string, port int32) (p *Peer, newlyCreated bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byHost[host]; ok {
		return existing, false
	}
	p = newPeer(n, host, port)
	d.byHost[host] = p
	return p, true
}

// remove unlinks host from the directory and marks decomFlag so the peer's
// connector task performs the actual teardown; see connector.go. remove
// itself never blocks on IO.
func (d *directory) remove(host string) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byHost[host]
	if !ok {
		return nil
	}
	delete(d.byHost, host)
	if old := d.lastUsed.Load(); old != nil && old.HostID() == p.HostID() {
		d.lastUsed.Store(nil)
	}
	p.decomFlag.Store(true)
	return p
}

// lookup finds the Peer for host, consulting the one-entry cache first. The
// cache hit check compares interned HostIds, not raw strings.
func (d *directory) lookup(host string) *Peer {
	id := d.hosts.Intern(host)
	if cached := d.lastUsed.Load(); cached != nil && cached.HostID() == id {
		return cached
	}
	d.mu.RLock()
	p, ok := d.byHost[host]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	d.lastUsed.Store(p)
	return p
}

// all returns every known peer, a snapshot slice safe to range over without
// holding the directory lock.
func (d *directory) all() []*Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Peer, 0, len(d.byHost))
	for _, p := range d.byHost {
		out = append(out, p)
	}
	return out
}

// snapshot returns the read-only telemetry view of every known peer.
func (d *directory) snapshot() []PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerInfo, 0, len(d.byHost))
	for _, p := range d.byHost {
		out = append(out, p.snapshot())
	}
	return out
}

// addSanctioned records a configured (host,port) pair for the membership
// health reporter. It is never mutated by gossip, only by config load.
func (d *directory) addSanctioned(host string, port int) {
	d.sanctionedMu.Lock()
	defer d.sanctionedMu.Unlock()
	for e := d.sanctioned.Front(); e != nil; e = e.Next() {
		se := e.Value.(sanctionedEntry)
		if se.host == host {
			return
		}
	}
	d.sanctioned.PushBack(sanctionedEntry{host: host, port: port})
}

// sanctionedHosts returns every configured member hostname, for the health
// reporter to cross-check against live directory entries.
func (d *directory) sanctionedHosts() []string {
	d.sanctionedMu.Lock()
	defer d.sanctionedMu.Unlock()
	out := make([]string, 0, d.sanctioned.Len())
	for e := d.sanctioned.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(sanctionedEntry).host)
	}
	return out
}
