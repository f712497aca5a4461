package mesh

import (
	"bytes"

	"github.com/clusterfabric/meshbus/pkg/wire"
)

// sendHello is fired once per freshly installed connection (see
// connector.go's installStream), per spec.md §4.7: "On first writer
// activation, a peer sends HELLO".
func (p *Peer) sendHello() {
	p.sendHelloFrame(wire.TypeHello)
}

func (p *Peer) sendHelloReply() {
	p.sendHelloFrame(wire.TypeHelloReply)
}

func (p *Peer) sendHelloFrame(typ wire.Type) {
	payload := wire.HelloPayload{Hosts: p.net.ownHelloSet()}
	var sizing bytes.Buffer
	_ = wire.EncodeHelloPayload(&sizing, payload)

	msg := &wire.Message{Header: wire.Header{Type: typ}, Hello: &payload}
	_ = p.net.WriteMessage(p.Host(), msg, FlagNoHelloCheck|FlagNoDelay, sizing.Len(), nil)
}

// ownHelloSet returns this Net's own (host,port) plus every peer it
// currently knows, the host-list shape both HELLO and HELLO_REPLY carry.
func (n *Net) ownHelloSet() []wire.HelloHost {
	peers := n.dir.all()
	hosts := make([]wire.HelloHost, 0, len(peers)+1)
	hosts = append(hosts, wire.HelloHost{Host: n.ownHost(), Port: n.ownPort()})
	for _, p := range peers {
		hosts = append(hosts, wire.HelloHost{Host: p.Host(), Port: p.Port()})
	}
	return hosts
}

// handleHello processes an inbound HELLO or HELLO_REPLY: every newly learned
// (host,port) is added to the directory (spinning up its connector), this
// peer is marked as having completed the membership handshake, and — for
// HELLO only — a HELLO_REPLY is sent back with our own view.
func (p *Peer) handleHello(payload *wire.HelloPayload, isHello bool) {
	for _, h := range payload.Hosts {
		if h.Host == p.net.ownHost() {
			continue
		}
		p.net.learnPeer(h.Host, h.Port)
	}
	p.gotHello.Store(true)
	if p.net.cb.Hello != nil {
		p.net.cb.Hello()
	}
	if isHello {
		p.sendHelloReply()
	}
}
