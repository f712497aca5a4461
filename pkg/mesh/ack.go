package mesh

import (
	"sync"
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
)

// ackWaitEntry is one outstanding sequence number a caller is blocked
// waiting on. done is closed at most once, by the dispatch-side
// ACK/ACK_PAYLOAD handler; a caller whose deadline passes first removes the
// entry from the wait-list and leaves done open — a per-entry channel
// is the natural Go wakeup for this single-waiter case, unlike the send
// queue's throttle condition which genuinely has many waiters.
type ackWaitEntry struct {
	seqnum  int32
	done    chan struct{}
	once    sync.Once
	outcome int32
	payload []byte
}

func (e *ackWaitEntry) deliver(outcome int32, payload []byte) {
	e.once.Do(func() {
		e.outcome = outcome
		e.payload = payload
		close(e.done)
	})
}

// ackWaitList is a peer's table of outstanding acks, keyed by sequence
// number. The spec notes this is a small linked list in the source because
// outstanding acks per peer are few; a map keyed by seqnum is the equivalent
// Go shape without the pointer-chasing.
type ackWaitList struct {
	mu      sync.Mutex
	entries map[int32]*ackWaitEntry
}

func newAckWaitList() *ackWaitList {
	return &ackWaitList{entries: make(map[int32]*ackWaitEntry)}
}

func (l *ackWaitList) register(seq int32) *ackWaitEntry {
	e := &ackWaitEntry{seqnum: seq, done: make(chan struct{})}
	l.mu.Lock()
	l.entries[seq] = e
	l.mu.Unlock()
	return e
}

func (l *ackWaitList) remove(seq int32) {
	l.mu.Lock()
	delete(l.entries, seq)
	l.mu.Unlock()
}

// deliver finds the wait entry for seq and wakes it, reporting whether one
// was found (an ack for a seqnum nobody is waiting on — e.g. a duplicate or
// a timed-out caller — is simply dropped).
func (l *ackWaitList) deliver(seq int32, outcome int32, payload []byte) bool {
	l.mu.Lock()
	e, ok := l.entries[seq]
	l.mu.Unlock()
	if !ok {
		return false
	}
	e.deliver(outcome, payload)
	return true
}

// AckState is handed to a USER_MSG handler when the sender set waitforack,
// letting the handler reply asynchronously (possibly from another
// goroutine, possibly never — the sender simply times out).
type AckState struct {
	net    *Net
	from   string
	seqnum int32
}

// Ack replies with outcome rc and no payload.
func (a *AckState) Ack(rc int32) error {
	return a.send(rc, nil, false)
}

// AckPayload replies with outcome rc and up to wire.MaxAckPayload bytes.
func (a *AckState) AckPayload(rc int32, data []byte) error {
	return a.send(rc, data, true)
}

func (a *AckState) send(rc int32, data []byte, withPayload bool) error {
	outcome := ClampAckOutcome(rc)
	typ := wire.TypeAck
	if withPayload {
		typ = wire.TypeAckPayload
	}
	msg := &wire.Message{
		Header: wire.Header{Type: typ},
		Ack:    &wire.AckPayload{SeqNum: a.seqnum, Outrc: outcome, Data: data},
	}
	return a.net.WriteMessage(a.from, msg, FlagNoDelay|FlagNoHelloCheck, len(data), nil)
}

// SendMessagePayloadAck sends a USER_MSG to host and blocks until a
// matching ACK/ACK_PAYLOAD arrives or waitMs elapses, per spec.md §4.6.
func (n *Net) SendMessagePayloadAck(host string, userType int32, data []byte, waitMs int) (int32, []byte, error) {
	if host == n.ownHost() {
		return 0, nil, ErrSendToMe
	}
	p := n.dir.lookup(host)
	if p == nil {
		return 0, nil, ErrInvalidNode
	}
	if p.decomFlag.Load() {
		return 0, nil, ErrClosed
	}
	if !p.hasSocket() {
		return 0, nil, ErrNoSock
	}

	seq := n.nextSeq()
	waitForAck := waitMs > 0
	var wait *ackWaitEntry
	if waitForAck {
		wait = p.waits.register(seq)
	}

	msg := &wire.Message{
		Header: wire.Header{Type: wire.TypeUserMsg},
		User:   &wire.UserPayload{UserType: userType, SeqNum: seq, WaitForAck: waitForAck, Data: data},
	}
	if err := n.WriteMessage(host, msg, FlagNoDelay|FlagNoHelloCheck, len(data), nil); err != nil {
		if waitForAck {
			p.waits.remove(seq)
		}
		return 0, nil, ErrWriteFail
	}
	if !waitForAck {
		return 0, nil, nil
	}

	p.beginWait()
	defer p.endWait()
	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-wait.done:
		p.waits.remove(seq)
		return ClampAckOutcome(wait.outcome), wait.payload, nil
	case <-timer.C:
		p.waits.remove(seq)
		n.metrics.ackTimeouts.Inc()
		return 0, nil, ErrTimeout
	}
}
