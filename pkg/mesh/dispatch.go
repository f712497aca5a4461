package mesh

import (
	"time"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/clusterfabric/meshbus/pkg/wire"
	"go.uber.org/zap"
)

// dispatch routes one decoded inbound frame to the appropriate internal
// handler or user callback, per spec.md §4.5's reader dispatch table.
// touchLiveness has already run (see reader.go) by the time this is called.
func (p *Peer) dispatch(msg *wire.Message) {
	switch msg.Header.Type {
	case wire.TypeHeartbeat:
		// No-op beyond the liveness timestamp already updated by the reader.
	case wire.TypeHello:
		p.handleHello(msg.Hello, true)
	case wire.TypeHelloReply:
		p.handleHello(msg.Hello, false)
	case wire.TypeDecom:
		// Legacy numeric-node decom: this implementation has no external
		// node-id table to translate msg.Decom.Node back to a hostname, so
		// — matching the source's own behavior when its table lacks the
		// entry — it is silently dropped rather than treated as a protocol
		// violation.
		if p.net.throttle.Allow("decom-numeric") {
			p.log.Debug("legacy numeric DECOM has no node-id table to resolve, dropping",
				zap.Int32("node", msg.Decom.Node))
		}
	case wire.TypeDecomName:
		_ = p.net.Decom(msg.Decom.Name)
	case wire.TypeUserMsg:
		p.handleUserMsg(msg.User)
	case wire.TypeAck:
		p.waits.deliver(msg.Ack.SeqNum, msg.Ack.Outrc, nil)
	case wire.TypeAckPayload:
		p.waits.deliver(msg.Ack.SeqNum, msg.Ack.Outrc, msg.Ack.Data)
	default:
		if p.net.throttle.Allow("unknown-frame-type") {
			p.log.Warn("dropping frame of unknown type", zap.Int32("type", int32(msg.Header.Type)))
		}
	}
}

// handleUserMsg dispatches one USER_MSG to its registered handler, building
// an AckState when the sender requested one.
func (p *Peer) handleUserMsg(u *wire.UserPayload) {
	if u.UserType < 0 || u.UserType > config.MaxUserType {
		if p.net.throttle.Allow("usertype-out-of-range") {
			p.log.Warn("dropping frame with out-of-range usertype", zap.Int32("usertype", u.UserType))
		}
		return
	}
	handler := p.net.handlers[u.UserType]
	if handler == nil {
		if p.net.throttle.Allow("usertype-unregistered") {
			p.log.Warn("dropping frame for unregistered usertype", zap.Int32("usertype", u.UserType))
		}
		return
	}
	var ack *AckState
	if u.WaitForAck {
		ack = &AckState{net: p.net, from: p.Host(), seqnum: u.SeqNum}
	}
	p.runningUser.Add(1)
	start := time.Now()
	handler(p, u.Data, ack)
	p.handlerNanos.Add(int64(time.Since(start)))
	p.handlerCalls.Add(1)
	p.runningUser.Add(-1)
}
