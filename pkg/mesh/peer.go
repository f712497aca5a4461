package mesh

import (
	"bufio"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterfabric/meshbus/pkg/hostid"
	"go.uber.org/zap"
)

// State is one of the four connection-lifecycle states a Peer moves
// through. Transitions are driven exclusively by the peer's connector,
// reader and writer tasks.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Counters holds the per-peer telemetry spec.md calls out by name.
type Counters struct {
	Enqueued    atomic.Int64
	EnqueBytes  atomic.Int64
	Drops       atomic.Int64
	Dedupes     atomic.Int64
	Reorders    atomic.Int64
	Sends        atomic.Int64
	Flushes      atomic.Int64
	NumQueueFull atomic.Int64
}

// Peer is everything this Net knows about one remote host. A Peer is
// created once when first learned (via config, accept, or gossip) and
// destroyed only when the Net shuts down or the peer is decommissioned;
// see connector.go for the teardown barrier.
type Peer struct {
	net     *Net
	hostID  hostid.ID
	host    string
	port    int32 // desired/last-known port; may be refreshed by port-mux
	queue   *sendQueue
	waits   *ackWaitList
	scratch []byte

	// lifecycle mutex: guards conn/br/bw/state/closed/reallyClosed and the
	// three "have thread" presence bits. Lock order item 2.
	mu            sync.Mutex
	conn          net.Conn
	br            *bufio.Reader
	bw            *bufio.Writer
	state         State
	closed        bool
	reallyClosed  bool
	haveConnector bool
	haveReader    bool
	haveWriter    bool

	// writeLock: held by the writer while draining, and by the connector
	// while writing the initial connect message. Lock order item 5.
	writeLock sync.Mutex

	// sendsSinceFlush counts non-NODELAY sends written since the last
	// stream flush, guarded by writeLock (drain holds it throughout).
	// Compared against EnqueFlushInterval so a busy peer with no NODELAY
	// traffic still flushes periodically instead of buffering forever.
	sendsSinceFlush int

	gotHello    atomic.Bool
	decomFlag   atomic.Bool
	distress    atomic.Bool
	runningUser atomic.Int32

	// handlerCalls/handlerNanos accumulate USER_MSG handler timing and
	// count, per spec.md §4.5.
	handlerCalls atomic.Int64
	handlerNanos atomic.Int64

	lastSeen atomic.Pointer[time.Time]
	subnet   atomic.Pointer[string]

	// udpAddrCache holds the resolved UDP sockaddr for this peer, lazily
	// populated by the UDP side channel (see udp.go) and reused across
	// sends the same way the directory's lastUsed cache short-circuits
	// repeated TCP lookups.
	udpAddrCache atomic.Pointer[net.UDPAddr]
	udpSent      atomic.Int64
	udpRecv      atomic.Int64

	wake     chan struct{} // writer wakeup, buffered(1)
	stopCh   chan struct{} // closed to tell the connector to stop re-dialing
	stopOnce sync.Once

	// throttleMu/waitersCount count goroutines currently parked in
	// ThrottleWait, so the connector's teardown barrier (see connector.go)
	// can wait for them to drain alongside the reader and writer.
	throttleMu   sync.Mutex
	waitersCount int

	// rngMu/rng back randJitter: a per-peer PRNG seeded per spec.md's
	// crc32c recipe (see jitter.go), never the shared math/rand source.
	rngMu sync.Mutex
	rng   *rand.Rand

	log *zap.Logger
}

func newPeer(n *Net, host string, port int32) *Peer {
	p := &Peer{
		net:    n,
		hostID: n.hosts.Intern(host),
		host:   host,
		port:   port,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		rng:    newSeededRand(),
		log:    n.log.With(zap.String("peer", host)),
	}
	p.queue = newSendQueue(n.cfg.MaxQueue, n.cfg.MaxBytes, n.cfg.EnqueReorderLookahead)
	p.waits = newAckWaitList()
	p.scratch = make([]byte, n.cfg.UserDataBufSize)
	p.reallyClosed = true
	p.closed = true
	empty := ""
	p.subnet.Store(&empty)
	now := time.Now()
	p.lastSeen.Store(&now)
	return p
}

// Host returns the peer's hostname.
func (p *Peer) Host() string { return p.host }

// HostID returns the peer's interned HostId handle, per spec.md §9's
// "Hostname interning... compact HostId index" design note.
func (p *Peer) HostID() hostid.ID { return p.hostID }

// Port returns the peer's currently configured port.
func (p *Peer) Port() int32 { return atomic.LoadInt32(&p.port) }

// State returns the peer's current connection-lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GotHello reports whether this peer has completed a hello/membership
// round (either direction).
func (p *Peer) GotHello() bool { return p.gotHello.Load() }

// Subnet returns the DNS suffix the peer's current socket was dialed
// through, or "" if unknown/not connected.
func (p *Peer) Subnet() string {
	if s := p.subnet.Load(); s != nil {
		return *s
	}
	return ""
}

// Distressed reports whether the peer's reader hit an IO error since the
// last successful reconnect (cleared on recovery).
func (p *Peer) Distressed() bool { return p.distress.Load() }

// touchLiveness records a successful header read, used by the watchdog.
func (p *Peer) touchLiveness() {
	now := time.Now()
	p.lastSeen.Store(&now)
}

func (p *Peer) livenessAge() time.Duration {
	if t := p.lastSeen.Load(); t != nil {
		return time.Since(*t)
	}
	return 0
}

// hasSocket reports whether the peer currently owns an open connection.
func (p *Peer) hasSocket() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.reallyClosed
}

// wakeWriter signals the writer task to drain the queue now, coalescing
// redundant wakeups (the channel is buffered(1), so a writer already
// scheduled to wake doesn't need a second signal).
func (p *Peer) wakeWriter() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// closeSocket marks the peer closed and closes its connection at once;
// there is no separate shutdown step first, and the close is not left to
// the last of {reader, writer, connector} to exit. A blocked read or write
// returns with an error, and finishIOTask clears the stream state once
// both reader and writer have exited.
func (p *Peer) closeSocket() {
	p.mu.Lock()
	conn := p.conn
	already := p.closed
	p.closed = true
	p.mu.Unlock()
	if already || conn == nil {
		return
	}
	// net.Conn has no portable shutdown(2); Close() is the closest
	// analogue and is safe to call once even while a read/write is
	// blocked on it — concurrent Close+Read/Write is explicitly supported
	// by net.Conn implementations for this exact unblock-then-exit pattern.
	_ = conn.Close()
	p.wakeWriter()
}

// beginWait/endWait count a goroutine parked waiting on this peer (queue
// throttle or an outstanding ack), so the connector's teardown barrier (see
// connector.go) can wait for them to drain alongside the reader and writer.
func (p *Peer) beginWait() {
	p.throttleMu.Lock()
	p.waitersCount++
	p.throttleMu.Unlock()
}

func (p *Peer) endWait() {
	p.throttleMu.Lock()
	p.waitersCount--
	p.throttleMu.Unlock()
}

// ThrottleWait blocks the calling producer while this peer's send queue
// exceeds pct% of its byte cap.
func (p *Peer) ThrottleWait(pct int) {
	p.beginWait()
	defer p.endWait()
	p.queue.ThrottleWait(pct)
}

// randJitter returns a random duration in [0, 5s) from this peer's own
// seeded PRNG, used to stagger reconnect attempts across peers.
func (p *Peer) randJitter() time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return time.Duration(p.rng.Int63n(int64(5 * time.Second)))
}

func (p *Peer) hasWaiters() bool {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	return p.waitersCount > 0
}

// requestStop tells the connector to stop re-dialing and exit once reader
// and writer have drained. Safe to call more than once (e.g. both Shutdown
// and a delayed decom racing on the same peer).
func (p *Peer) requestStop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// readerHandle returns the peer's current buffered reader, or false if no
// socket is installed.
func (p *Peer) readerHandle() (*bufio.Reader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.br == nil {
		return nil, false
	}
	return p.br, true
}

// writerHandle returns the peer's current buffered writer, or false if no
// socket is installed.
func (p *Peer) writerHandle() (*bufio.Writer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bw == nil {
		return nil, false
	}
	return p.bw, true
}

// finishIOTask clears the reader or writer presence bit and, if it was the
// last of the two still running, tears down the stale socket state so the
// connector's hasSocket check notices and redials. Reader and writer are
// the only tasks that actually hold the fd open day-to-day; the connector
// itself exits separately once decom/shutdown is requested (see
// connector.go's teardown).
func (p *Peer) finishIOTask(isReader bool) {
	p.mu.Lock()
	if isReader {
		p.haveReader = false
	} else {
		p.haveWriter = false
	}
	last := !p.haveReader && !p.haveWriter
	if last {
		p.reallyClosed = true
		p.conn = nil
		p.br = nil
		p.bw = nil
		p.state = StateDisconnected
	}
	p.mu.Unlock()
}

// hasIOTasks reports whether a reader or writer task is currently running
// for this peer.
func (p *Peer) hasIOTasks() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haveReader || p.haveWriter
}

// markReallyClosed clears the socket state and marks the peer
// Disconnected; the connector calls it from its teardown on exit.
func (p *Peer) markReallyClosed() {
	p.mu.Lock()
	p.reallyClosed = true
	p.conn = nil
	p.br = nil
	p.bw = nil
	p.state = StateDisconnected
	p.mu.Unlock()
}

func (p *Peer) snapshot() PeerInfo {
	return PeerInfo{
		Host:      p.host,
		Port:      p.Port(),
		State:     p.State(),
		GotHello:  p.GotHello(),
		Subnet:    p.Subnet(),
		Distress:  p.Distressed(),
		DecomFlag: p.decomFlag.Load(),
		QueueLen:  p.queue.Len(),
	}
}

// PeerInfo is the read-only telemetry view returned by directory.snapshot().
type PeerInfo struct {
	Host      string
	Port      int32
	State     State
	GotHello  bool
	Subnet    string
	Distress  bool
	DecomFlag bool
	QueueLen  int
}
