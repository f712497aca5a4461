package mesh

import (
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
	"go.uber.org/zap"
)

// runHeartbeatSender enqueues a HEARTBEAT to every known peer on a fixed
// interval, per spec.md §4.8, using HEAD|NODUPE|NODELAY|NOLIMIT so a
// heartbeat never queues behind bulk data and never duplicates.
func (n *Net) runHeartbeatSender() error {
	ticker := time.NewTicker(n.cfg.HeartbeatSendTime)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return nil
		case <-ticker.C:
		}
		if n.exiting.Load() {
			return nil
		}
		for _, p := range n.dir.all() {
			msg := &wire.Message{Header: wire.Header{Type: wire.TypeHeartbeat}}
			flags := FlagHead | FlagNoDupe | FlagNoDelay | FlagNoLimit | FlagNoHelloCheck
			_ = n.WriteMessage(p.Host(), msg, flags, 0, nil)
		}
	}
}

// runWatchdog tears down any peer socket that's gone silent past
// HeartbeatCheckTime (unless a handler is currently running for it), and
// periodically re-registers this Net's port with port-mux — a drifted port
// is fatal, per spec.md §4.8.
func (n *Net) runWatchdog() error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastPortmuxRegister := time.Now()

	for {
		select {
		case <-n.stopCh:
			return nil
		case <-ticker.C:
		}
		if n.exiting.Load() {
			return nil
		}

		n.watchdogSweepOnce()

		if n.cfg.PortmuxRegisterInterval > 0 && time.Since(lastPortmuxRegister) >= n.cfg.PortmuxRegisterInterval {
			lastPortmuxRegister = time.Now()
			n.reregisterPortmux()
		}
	}
}

// watchdogSweepOnce closes every peer socket that has gone silent past
// HeartbeatCheckTime, unless a USER_MSG handler is currently running for
// that peer (a slow handler is not the same thing as a dead socket).
func (n *Net) watchdogSweepOnce() {
	for _, p := range n.dir.all() {
		if !p.hasSocket() || p.runningUser.Load() != 0 {
			continue
		}
		if p.livenessAge() > n.cfg.HeartbeatCheckTime {
			if s := p.Subnet(); s != "" {
				n.subnets.markBad(s)
			}
			n.log.Warn("watchdog closing silent peer",
				zap.String("peer", p.Host()), zap.Duration("age", p.livenessAge()))
			p.closeSocket()
			if n.cb.HostDown != nil {
				n.cb.HostDown(p.Host())
			}
		}
	}
}

func (n *Net) reregisterPortmux() {
	port, err := n.portmux.Resolve(n.cfg.App, n.cfg.Service, n.cfg.Instance)
	if err == nil && port != 0 && port != n.cfg.Port {
		n.log.Fatal("portmux returned a different port than registered, aborting",
			zap.Int("registered", n.cfg.Port), zap.Int("resolved", port))
	}
	if err := n.portmux.Register(n.cfg.App, n.cfg.Service, n.cfg.Instance, n.cfg.Port); err != nil {
		n.log.Warn("portmux re-registration failed", zap.Error(err))
	}
}
