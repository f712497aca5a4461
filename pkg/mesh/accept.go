package mesh

import (
	"net"
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
	"go.uber.org/zap"
)

// runAccept is the single listener task: accept, set socket options, poll
// for the first byte, and route to the connect-message handler, per
// spec.md §4.9. The app-socket dispatcher (non-zero, non-'@' first byte) is
// out of scope for this package; those connections are simply closed.
//
// It returns nil once Shutdown closes the listener; any other Accept error
// is logged and the loop keeps accepting.
func (n *Net) runAccept() error {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.exiting.Load() {
				return nil
			}
			n.log.Warn("accept error", zap.Error(err))
			continue
		}
		go n.handleAccepted(conn)
	}
}

func (n *Net) handleAccepted(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetReadBuffer(8 * 1024 * 1024)
		_ = tc.SetWriteBuffer(8 * 1024 * 1024)
		_ = tc.SetLinger(0)
	}

	poll := n.cfg.NetPoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	_ = conn.SetReadDeadline(time.Now().Add(poll))
	var first [1]byte
	if _, err := conn.Read(first[:]); err != nil {
		n.log.Debug("accept: no first byte within poll window, dropping", zap.Error(err))
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch {
	case first[0] == wire.ConnectMarker:
		n.handleConnectMessage(conn)
	case first[0] == '@':
		// Admin app-sock is out of this package's scope; only loopback
		// would ever be permitted to reach it.
		n.log.Debug("admin app-sock connection out of scope, dropping")
		conn.Close()
	default:
		n.log.Debug("app-sock connection out of scope, dropping")
		conn.Close()
	}
}

func (n *Net) handleConnectMessage(conn net.Conn) {
	payload, err := wire.DecodeConnect(conn)
	if err != nil {
		n.log.Warn("malformed connect message", zap.Error(err))
		conn.Close()
		return
	}
	if payload.ToHost != n.ownHost() || payload.ToPort != n.ownPort() {
		n.log.Warn("misdirected connect message",
			zap.String("to_host", payload.ToHost), zap.Int32("to_port", payload.ToPort))
		conn.Close()
		return
	}
	if n.cb.Allow != nil && !n.cb.Allow(payload.FromHost) {
		n.log.Info("rejecting connect from disallowed host", zap.String("from", payload.FromHost))
		conn.Close()
		return
	}
	target := n.childFor(payload.ChildNet())
	if target == nil {
		n.log.Warn("connect addressed an unknown child net", zap.Int32("childnet", payload.ChildNet()))
		conn.Close()
		return
	}
	target.acceptHandleNewHost(conn, payload)
}

// acceptHandleNewHost finds or creates the peer for an inbound connection
// and swings the new socket onto it, draining any stale reader/writer first,
// per spec.md §4.9.
func (n *Net) acceptHandleNewHost(conn net.Conn, payload wire.ConnectPayload) {
	p := n.learnPeer(payload.FromHost, payload.FromPort)
	if p == nil {
		conn.Close()
		return
	}

	if p.hasIOTasks() {
		p.closeSocket()
		for i := 0; p.hasIOTasks(); i++ {
			time.Sleep(100 * time.Millisecond)
			if i > 0 && i%10 == 0 {
				n.log.Warn("still waiting for stale peer stream to drain",
					zap.String("peer", p.Host()))
			}
		}
	}

	subnet := n.deriveSubnet(conn)
	if subnet != "" && n.subnets.isDisabled(subnet) {
		n.log.Info("dropping inbound connection on disabled subnet",
			zap.String("peer", p.Host()), zap.String("subnet", subnet))
		conn.Close()
		return
	}

	p.installStream(conn, subnet)
	p.ensureConnector()
}

// deriveSubnet matches this connection's local address against
// "<our hostname><suffix>" for each configured suffix, recording which
// physical network path accepted it.
func (n *Net) deriveSubnet(conn net.Conn) string {
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	for _, suffix := range n.subnets.list() {
		ips, err := net.LookupHost(n.ownHost() + suffix)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			if ip == local.IP.String() {
				return suffix
			}
		}
	}
	return ""
}
