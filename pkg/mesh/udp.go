package mesh

import (
	"fmt"
	"net"

	"go.uber.org/zap"
)

// udpAddr returns this peer's resolved UDP sockaddr, resolving and caching
// it on first use — the datagram-path analogue of the directory's
// single-entry lastUsed cache.
func (p *Peer) udpAddr() (*net.UDPAddr, error) {
	if a := p.udpAddrCache.Load(); a != nil {
		return a, nil
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", p.Host(), p.Port()))
	if err != nil {
		return nil, fmt.Errorf("mesh: resolve udp address for %s: %w", p.Host(), err)
	}
	p.udpAddrCache.Store(addr)
	return addr, nil
}

// UDPSend looks up host via the same peer directory the TCP path uses and
// sends data as a single unframed datagram on conn, per spec.md §4.11.
// There is no retransmission, ordering, or framing imposed here — exactly
// what the spec calls out as this path's non-goals.
func (n *Net) UDPSend(conn *net.UDPConn, host string, data []byte) error {
	p := n.dir.lookup(host)
	if p == nil {
		return ErrInvalidNode
	}
	addr, err := p.udpAddr()
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("mesh: udp sendto %s: %w", host, err)
	}
	p.udpSent.Add(1)
	return nil
}

// RunUDPListener reads datagrams off conn until it errors or closes,
// attributing each to a known peer by source IP when possible and handing
// the payload to handler. Unlike the TCP path, the UDP side channel applies
// no framing of its own — handler receives exactly what was sent.
func (n *Net) RunUDPListener(conn *net.UDPConn, handler func(host string, data []byte)) {
	buf := make([]byte, 64*1024)
	for {
		nread, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if n.exiting.Load() {
				return
			}
			n.log.Warn("udp read error", zap.Error(err))
			continue
		}
		data := append([]byte(nil), buf[:nread]...)
		host := n.hostForUDPSource(src)
		if host != "" {
			if p := n.dir.lookup(host); p != nil {
				p.udpRecv.Add(1)
			}
		}
		if handler != nil {
			handler(host, data)
		}
	}
}

// hostForUDPSource reverse-matches a datagram's source address against
// every known peer's cached UDP address.
func (n *Net) hostForUDPSource(src *net.UDPAddr) string {
	for _, p := range n.dir.all() {
		if a := p.udpAddrCache.Load(); a != nil && a.IP.Equal(src.IP) && a.Port == src.Port {
			return p.Host()
		}
	}
	return ""
}
