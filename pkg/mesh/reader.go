package mesh

import (
	"github.com/clusterfabric/meshbus/pkg/wire"
	"go.uber.org/zap"
)

// runReader loops reading wire frames off this peer's socket and dispatching
// them, per spec.md §4.4. It updates liveness on every successful header
// read and never frees the peer itself — that's the connector's job once
// both IO tasks have exited.
func (p *Peer) runReader() {
	ioErr := false
	for {
		br, ok := p.readerHandle()
		if !ok {
			break
		}
		msg, err := wire.ReadFrame(br, p.scratch)
		if err != nil {
			if p.distress.CompareAndSwap(false, true) {
				p.log.Warn("peer reader IO error", zap.Error(err))
			}
			ioErr = true
			break
		}
		p.distress.Store(false)
		p.touchLiveness()
		p.net.metrics.framesRecv.WithLabelValues(msg.Header.Type.String()).Inc()
		p.dispatch(msg)
	}
	p.closeSocket()
	p.finishIOTask(true)
	if ioErr && !p.decomFlag.Load() && p.net.cb.HostDown != nil {
		p.net.cb.HostDown(p.Host())
	}
}
