package mesh

import "errors"

// Sentinel errors surfaced to senders, matching the wire-level error
// taxonomy of the spec this package implements. Wrap with fmt.Errorf and
// %w at call sites; never invent new error codes ad hoc.
var (
	// ErrInvalidNode is returned when the destination hostname is not in
	// the peer directory.
	ErrInvalidNode = errors.New("mesh: invalid node")
	// ErrSendToMe is returned when a caller tries to send to this Net's
	// own hostname.
	ErrSendToMe = errors.New("mesh: cannot send to self")
	// ErrNoSock is returned when the destination peer has no open socket.
	ErrNoSock = errors.New("mesh: no socket to peer")
	// ErrClosed is returned when the destination peer is closed or
	// decommissioned.
	ErrClosed = errors.New("mesh: peer closed")
	// ErrNoHelloYet is returned by WriteMessage when the peer hasn't
	// completed the hello/membership handshake and the caller didn't set
	// NoHelloCheck.
	ErrNoHelloYet = errors.New("mesh: no hello exchanged yet")
	// ErrQueueFull is returned by the send queue's admission check.
	ErrQueueFull = errors.New("mesh: send queue full")
	// ErrMallocFail models the C source's allocation-failure return code.
	// No code path in this package returns it; implausible payload sizes
	// are rejected by pkg/wire's decoders with their own errors.
	ErrMallocFail = errors.New("mesh: allocation failed")
	// ErrWriteFail is returned when enqueueing a message for an
	// ack-correlated send fails after the wait-list entry was created.
	ErrWriteFail = errors.New("mesh: enqueue failed")
	// ErrTimeout is returned by SendMessagePayloadAck when no ack arrives
	// before the deadline.
	ErrTimeout = errors.New("mesh: ack wait timed out")
	// ErrInternal covers invariant violations that should never happen in
	// a correct build; surfaced rather than panicking so a caller can log
	// and continue.
	ErrInternal = errors.New("mesh: internal error")
	// ErrShutdown names the condition of a Net that is shutting down.
	// Shutdown closes peer sockets directly, and no code path in this
	// package returns this error.
	ErrShutdown = errors.New("mesh: net is shutting down")
)

// InvalidAckRC is the outcome substituted for any negative ack outcome a
// handler reports, so it is the only negative outcome an ack frame carries.
const InvalidAckRC = -1

// ClampAckOutcome maps a handler-reported outcome to what's legal to return
// from SendMessagePayloadAck: any negative value becomes InvalidAckRC.
func ClampAckOutcome(rc int32) int32 {
	if rc < 0 {
		return InvalidAckRC
	}
	return rc
}
