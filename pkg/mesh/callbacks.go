package mesh

import "github.com/clusterfabric/meshbus/pkg/config"

// UserHandler processes one inbound USER_MSG frame. If ack is non-nil the
// sender set waitforack and the handler may (but need not) call ack.Ack or
// ack.AckPayload before returning; if it does neither, the sender's
// SendMessagePayloadAck call times out.
type UserHandler func(peer *Peer, data []byte, ack *AckState)

// Callbacks holds every registrable hook a Net may be configured with. All
// fields are optional; a nil hook is simply never called.
type Callbacks struct {
	// Allow is consulted on every inbound connect message; returning false
	// rejects the connection without tearing down the Net.
	Allow func(host string) bool
	// HostDown fires when a peer's socket is torn down by the watchdog or
	// an IO error (not on a graceful decom).
	HostDown func(host string)
	// NewNode fires when a previously-unknown (host,port) is learned,
	// whether from static config, an inbound accept, or gossip.
	NewNode func(host string, port int)
	// Hello fires each time this Net processes an inbound HELLO or
	// HELLO_REPLY frame from a peer.
	Hello func()
	// GetLSN is an opaque per-message sequence-token hook (e.g. a
	// replication log position). No code in this package calls it, so
	// nothing is stamped into outgoing traffic.
	GetLSN func() []byte
	// NetCmp orders two send-queue payloads for INORDER enqueues.
	// Reports a<b, matching sort.Interface's Less semantics.
	NetCmp func(a, b []byte) bool
}

// UserHandlers is the 0..MaxUserType handler table. Index i handles
// usertype i; a nil entry means "unregistered" (the frame is dropped and
// logged through the once-per-second limiter).
type UserHandlers [config.MaxUserType + 1]UserHandler
