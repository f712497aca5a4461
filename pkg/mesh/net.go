// Package mesh implements the peer-to-peer cluster messaging fabric: a
// reliable, full-duplex TCP message bus with membership gossip, heartbeat
// liveness, multi-subnet failover, and a UDP side channel, all keyed off a
// shared peer directory.
package mesh

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/clusterfabric/meshbus/pkg/hostid"
	"github.com/clusterfabric/meshbus/pkg/wire"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Net is one messaging endpoint instance: it owns the listening port, the
// peer directory, the accept task, the heartbeat and watchdog tasks, and
// per-instance stats. A Net may be a child of another Net, sharing the
// parent's listener and demultiplexed by the connect message's child-net
// number; see accept.go.
type Net struct {
	// ID is a per-process instance identifier distinct from the wire-level
	// sequence counter, useful for correlating this Net's log lines across
	// a restart without reading the wire protocol.
	ID string

	cfg      config.Mesh
	log      *zap.Logger
	hosts    *hostid.Table
	dir      *directory
	cb       Callbacks
	handlers UserHandlers
	portmux  PortMux
	metrics  *metrics
	throttle *logThrottle
	subnets  *subnetState

	seq atomic.Int32

	listener net.Listener

	parent   *Net
	childMu  sync.RWMutex
	children map[int32]*Net

	exiting  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // per-peer connector/reader/writer tasks

	// tasks joins this Net's three long-lived top-level loops (accept,
	// heartbeat-sender, watchdog). Per-peer shutdown ordering is bespoke
	// (see connector.go's teardown barrier) and can't fit an errgroup
	// barrier, but these three have no such ordering constraint between
	// them, so first-error-capturing join is the natural fit.
	tasks *errgroup.Group
}

// NewNet constructs a Net from cfg. It does not bind a socket or start any
// background task; call Start for that. pm may be nil, in which case a
// StaticPortMux seeded from cfg.Port is used (the common case when every
// peer's port is statically configured rather than resolved live).
func NewNet(cfg config.Mesh, cb Callbacks, handlers UserHandlers, pm PortMux, reg prometheus.Registerer, log *zap.Logger) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mesh: invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if pm == nil {
		static := NewStaticPortMux()
		static.Seed(cfg.App, cfg.Service, cfg.Instance, cfg.Port)
		pm = static
	}
	namespace := cfg.Name
	if namespace == "" {
		namespace = "mesh"
	}
	id := uuid.NewString()
	hosts := hostid.New()
	n := &Net{
		ID:       id,
		cfg:      cfg,
		log:      log.With(zap.String("net", cfg.Name), zap.String("host", cfg.Host), zap.String("instance", id)),
		hosts:    hosts,
		dir:      newDirectory(hosts),
		cb:       cb,
		handlers: handlers,
		portmux:  pm,
		metrics:  newMetrics(namespace, reg),
		throttle: newLogThrottle(time.Second),
		subnets:  newSubnetState(cfg.Subnets, cfg.SubnetBlackoutTime),
		children: make(map[int32]*Net),
		stopCh:   make(chan struct{}),
	}
	// Seeding the sequence counter from the pid, per spec.md's "per-Net
	// monotonically increasing counter (seeded from pid)" — purely to keep
	// sequence numbers from colliding across process restarts that reuse
	// the same peer set, not a security property.
	n.seq.Store(int32(os.Getpid()))
	return n, nil
}

// NewChild returns a Net that shares this Net's listener, demultiplexed by
// childNet (the number stolen from the connect message's Flags low bits).
// The child gets its own directory, handlers and callbacks but no listener
// or accept task of its own.
func (n *Net) NewChild(childNet int32, cfg config.Mesh, cb Callbacks, handlers UserHandlers, reg prometheus.Registerer) (*Net, error) {
	child, err := NewNet(cfg, cb, handlers, n.portmux, reg, n.log)
	if err != nil {
		return nil, err
	}
	child.parent = n
	n.childMu.Lock()
	n.children[childNet] = child
	n.childMu.Unlock()
	return child, nil
}

func (n *Net) childFor(childNet int32) *Net {
	if childNet == 0 {
		return n
	}
	n.childMu.RLock()
	defer n.childMu.RUnlock()
	return n.children[childNet]
}

// ownHost returns this Net's own advertised hostname.
func (n *Net) ownHost() string { return n.cfg.Host }

// ownPort returns this Net's own listening port, resolved live if it was
// configured as zero.
func (n *Net) ownPort() int32 { return int32(n.cfg.Port) }

func (n *Net) nextSeq() int32 { return n.seq.Add(1) }

// Start resolves this Net's port, binds the listener, registers with
// port-mux, seeds the directory from configured Members, and spawns the
// accept, heartbeat-sender and watchdog tasks. It returns once the listener
// is bound; background tasks keep running until Shutdown.
func (n *Net) Start() error {
	if n.cfg.Port == 0 {
		port, err := n.portmux.Resolve(n.cfg.App, n.cfg.Service, n.cfg.Instance)
		if err != nil {
			return fmt.Errorf("mesh: resolve own port: %w", err)
		}
		n.cfg.Port = port
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", n.cfg.Port))
	if err != nil {
		return fmt.Errorf("mesh: listen on %d: %w", n.cfg.Port, err)
	}
	n.listener = ln

	if err := n.portmux.Register(n.cfg.App, n.cfg.Service, n.cfg.Instance, n.cfg.Port); err != nil {
		n.log.Warn("portmux register failed", zap.Error(err))
	}

	for _, m := range n.cfg.Members {
		n.dir.addSanctioned(m.Host, m.Port)
		n.learnPeer(m.Host, int32(m.Port))
	}

	registerNet(n)

	n.tasks = new(errgroup.Group)
	n.tasks.Go(n.runAccept)
	n.tasks.Go(n.runHeartbeatSender)
	n.tasks.Go(n.runWatchdog)

	n.log.Info("mesh net started", zap.Int("port", n.cfg.Port))
	return nil
}

// Shutdown tears down every peer, stops the listener, and waits for every
// background task this Net owns to exit.
func (n *Net) Shutdown() {
	n.stopOnce.Do(func() {
		n.exiting.Store(true)
		close(n.stopCh)
		if n.listener != nil {
			_ = n.listener.Close()
		}
		for _, p := range n.dir.all() {
			p.closeSocket()
			p.requestStop()
		}
		unregisterNet(n)
	})
	if n.tasks != nil {
		if err := n.tasks.Wait(); err != nil {
			n.log.Warn("a top-level task exited with an error", zap.Error(err))
		}
	}
	n.wg.Wait()
}

// learnPeer finds-or-creates a Peer for (host,port), firing NewNode and
// spinning up a connector the first time this Net hears of it. It is the
// single entry point config load, hello gossip and the accept path all
// funnel through.
func (n *Net) learnPeer(host string, port int32) *Peer {
	if host == n.ownHost() {
		return nil
	}
	p, created := n.dir.add(n, host, port)
	if created {
		if n.cb.NewNode != nil {
			n.cb.NewNode(host, int(port))
		}
		p.ensureConnector()
	}
	return p
}

// WriteMessage enqueues msg for delivery to host, applying the hello gate
// and directory checks spec.md's write_message describes. payloadLen is the
// caller-computed payload size for the queue's byte-cap accounting.
func (n *Net) WriteMessage(host string, msg *wire.Message, flags EnqueueFlag, payloadLen int, sortKey []byte) error {
	if host == n.ownHost() {
		return ErrSendToMe
	}
	p := n.dir.lookup(host)
	if p == nil {
		return ErrInvalidNode
	}
	if p.decomFlag.Load() {
		return ErrClosed
	}
	if flags&FlagNoHelloCheck == 0 && !p.GotHello() {
		return ErrNoHelloYet
	}
	msg.Header.FromHost = n.ownHost()
	msg.Header.FromPort = n.ownPort()
	msg.Header.ToHost = host
	msg.Header.ToPort = p.Port()
	e := &entry{flags: flags, enqueued: time.Now(), msg: msg, payloadLen: payloadLen, sortKey: sortKey}
	dedupes := p.queue.counters.Dedupes.Load()
	if err := p.queue.Push(e, n.cb.NetCmp); err != nil {
		n.metrics.queueDrops.Inc()
		return err
	}
	if p.queue.counters.Dedupes.Load() != dedupes {
		n.metrics.queueDedupes.Inc()
	}
	if flags&FlagNoDelay != 0 {
		p.wakeWriter()
	}
	return nil
}

// Send enqueues a USER_MSG frame to host with the given user type and
// payload. This is the fire-and-forget path; see ack.go for the
// reply-bearing variant.
func (n *Net) Send(host string, userType int32, data []byte, flags EnqueueFlag) error {
	msg := &wire.Message{
		Header: wire.Header{Type: wire.TypeUserMsg},
		User:   &wire.UserPayload{UserType: userType, SeqNum: n.nextSeq(), Data: data},
	}
	return n.WriteMessage(host, msg, flags, len(data), data)
}

// Decom marks host for removal: its decomFlag is set immediately (further
// sends to it fail with ErrClosed), and the peer is unlinked from the
// directory after a 2s grace period so any in-flight acks have a chance to
// land.
func (n *Net) Decom(host string) error {
	p := n.dir.lookup(host)
	if p == nil {
		return ErrInvalidNode
	}
	if p.decomFlag.Swap(true) {
		// Already decommissioned locally (e.g. a DECOM_NAME we broadcast
		// ourselves bounced back via a peer's own rebroadcast): the local
		// teardown timer is already running, so don't rebroadcast again.
		return nil
	}
	n.broadcastDecom(host)
	time.AfterFunc(2*time.Second, func() {
		n.dir.remove(host)
		p.closeSocket()
		p.requestStop()
	})
	return nil
}

// broadcastDecom tells every other known peer that host is being
// decommissioned, mirroring net_send_decom_all: every node in the cluster
// drops host from its own directory on receipt (see dispatch.go's
// TypeDecomName handling), not just the one being decommissioned.
func (n *Net) broadcastDecom(host string) {
	id := n.hosts.Intern(host)
	payload := wire.DecomPayload{Name: host}
	var sizing bytes.Buffer
	_ = wire.EncodeDecomName(&sizing, host)
	for _, peer := range n.dir.all() {
		if peer.HostID() == id {
			continue
		}
		msg := &wire.Message{Header: wire.Header{Type: wire.TypeDecomName}, Decom: &payload}
		_ = n.WriteMessage(peer.Host(), msg, FlagNoDelay|FlagNoHelloCheck, sizing.Len(), nil)
	}
}

// Snapshot returns telemetry for every known peer.
func (n *Net) Snapshot() []PeerInfo { return n.dir.snapshot() }
