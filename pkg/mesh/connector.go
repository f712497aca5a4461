package mesh

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
	"go.uber.org/zap"
)

// ensureConnector spawns the connector task for this peer if one isn't
// already running. Called the first time a peer is learned (config, accept,
// or gossip) and is a no-op on every later call, making it safe to invoke
// from both the directory and the accept path without double-spawning.
func (p *Peer) ensureConnector() {
	p.mu.Lock()
	if p.haveConnector {
		p.mu.Unlock()
		return
	}
	p.haveConnector = true
	p.mu.Unlock()

	p.net.wg.Add(1)
	go func() {
		defer p.net.wg.Done()
		p.runConnector()
	}()
}

// runConnector is the per-peer lifecycle owner: it exists for as long as
// this peer should be kept live, dialing (and redialing on failure) while
// no socket is installed, and exiting only once decom or Net shutdown is
// requested and both IO tasks have drained — see spec.md §4.4.
func (p *Peer) runConnector() {
	for {
		if p.shouldStop() {
			p.teardown()
			return
		}
		if p.hasSocket() {
			// A socket already exists — almost always because the accept
			// path swapped one in (see accept.go). The connector just
			// waits for it to go away again.
			if p.waitForSocketLoss() {
				p.teardown()
				return
			}
			continue
		}
		if !p.jitterSleep(p.randJitter()) {
			p.teardown()
			return
		}
		if err := p.dialOnce(); err != nil {
			p.log.Debug("connector dial failed, will retry", zap.Error(err))
			if !p.jitterSleep(time.Second) {
				p.teardown()
				return
			}
		}
	}
}

// shouldStop reports whether the connector should stop keeping this peer
// alive: decommissioned, asked to stop via requestStop, or this Net itself
// is exiting. A child Net's connectors do not look at the parent's state.
func (p *Peer) shouldStop() bool {
	if p.decomFlag.Load() || p.net.exiting.Load() {
		return true
	}
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// jitterSleep sleeps d or returns false early if the peer should stop.
func (p *Peer) jitterSleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	}
}

// waitForSocketLoss blocks (polling) until the peer's socket disappears or
// a stop is requested, returning true in the latter case.
func (p *Peer) waitForSocketLoss() bool {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return true
		case <-t.C:
			if p.decomFlag.Load() || p.net.exiting.Load() {
				return true
			}
			if !p.hasSocket() {
				return false
			}
		}
	}
}

// dialOnce performs one connect attempt: subnet-aware address resolution,
// port-mux resolution, the TCP handshake with keepalive/nodelay, the
// connect-message write, and installing the resulting stream.
func (p *Peer) dialOnce() error {
	suffix, dialHost, err := p.net.getDedicatedConnHost(p.Host())
	if err != nil {
		return err
	}

	port := p.Port()
	if port == 0 {
		resolved, err := p.net.portmux.Resolve(p.net.cfg.App, p.net.cfg.Service, p.net.cfg.Instance)
		if err != nil {
			return fmt.Errorf("resolve port via portmux: %w", err)
		}
		port = int32(resolved)
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", dialHost, port), 2*time.Second)
	if err != nil {
		p.net.subnets.markBad(suffix)
		return fmt.Errorf("dial %s:%d: %w", dialHost, port, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}

	connectMsg := wire.ConnectPayload{
		ToHost:   p.Host(),
		ToPort:   port,
		FromHost: p.net.ownHost(),
		FromPort: p.net.ownPort(),
	}
	p.writeLock.Lock()
	_, err = conn.Write([]byte{wire.ConnectMarker})
	if err == nil {
		err = wire.EncodeConnect(conn, connectMsg)
	}
	p.writeLock.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("write connect message: %w", err)
	}

	p.installStream(conn, suffix)
	return nil
}

// installStream wires a freshly dialed (or accepted) connection into the
// peer, starting reader and writer tasks if they aren't already running.
func (p *Peer) installStream(conn net.Conn, subnet string) {
	p.mu.Lock()
	p.conn = conn
	p.br = bufio.NewReaderSize(conn, p.net.cfg.BufSize)
	p.bw = bufio.NewWriterSize(conn, p.net.cfg.BufSize)
	p.closed = false
	p.reallyClosed = false
	p.state = StateConnected
	needReader := !p.haveReader
	needWriter := !p.haveWriter
	if needReader {
		p.haveReader = true
	}
	if needWriter {
		p.haveWriter = true
	}
	p.mu.Unlock()

	subnetCopy := subnet
	p.subnet.Store(&subnetCopy)
	p.touchLiveness()

	if needReader {
		p.net.wg.Add(1)
		go func() {
			defer p.net.wg.Done()
			p.runReader()
		}()
	}
	if needWriter {
		p.net.wg.Add(1)
		go func() {
			defer p.net.wg.Done()
			p.runWriter()
		}()
		go p.sendHello()
	}
}

// teardown is the connector's final act: wait for reader, writer and any
// throttle-waiters to drain, then remove this peer from the directory (if
// it hasn't been already) and mark it gone for good.
func (p *Peer) teardown() {
	for p.hasIOTasks() || p.hasWaiters() {
		time.Sleep(20 * time.Millisecond)
	}
	p.closeSocket()
	p.markReallyClosed()
	p.net.dir.remove(p.Host())

	p.mu.Lock()
	p.haveConnector = false
	p.mu.Unlock()
}
