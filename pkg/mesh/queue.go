package mesh

import (
	"container/list"
	"sync"
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
)

// EnqueueFlag bits control how one message is admitted into a peer's send
// queue, matching spec.md's §4.3 flag table exactly.
type EnqueueFlag uint8

const (
	// FlagNoDelay signals the writer immediately after enqueue and causes
	// an extra stream flush once the writer's drain batch ends.
	FlagNoDelay EnqueueFlag = 1 << iota
	// FlagNoLimit bypasses the MaxQueue/MaxBytes admission caps.
	FlagNoLimit
	// FlagNoDupe drops the new item (bumping counters.Dedupes) if the current
	// queue head has the same wire type; used exclusively for heartbeats.
	FlagNoDupe
	// FlagHead inserts at the head of the queue instead of the tail.
	FlagHead
	// FlagInOrder bounded-insertion-sorts the new item into the last
	// EnqueReorderLookahead queue slots using the Net's NetCmp callback.
	FlagInOrder
	// FlagNoHelloCheck bypasses the gotHello gate in WriteMessage (used
	// internally for heartbeat, decom, hello itself, and acks).
	FlagNoHelloCheck
)

// entry is one send-queue item. msg carries the full frame to be written;
// its Header.From*/To* fields are re-stamped by the writer at drain time,
// since the peer's port or our own could have changed since enqueue.
// payloadLen is the caller-computed payload size used for byte-cap
// accounting, so the queue never needs to encode a message just to measure
// it.
type entry struct {
	flags      EnqueueFlag
	enqueued   time.Time
	msg        *wire.Message
	payloadLen int
	sortKey    []byte // used by FlagInOrder via NetCmp; nil for non-INORDER entries
}

func (e *entry) size() int { return e.payloadLen }

// sendQueue is a per-peer bounded doubly-linked FIFO built on
// container/list, the same bounded-cache shape the teacher's
// consensus.relayCache uses for a different purpose.
type sendQueue struct {
	mu sync.Mutex
	l  *list.List

	maxQueue int
	maxBytes int
	lookahead int

	enqueCount int
	enqueBytes int

	counters Counters

	throttleMu   sync.Mutex
	throttleCond *sync.Cond
}

func newSendQueue(maxQueue, maxBytes, lookahead int) *sendQueue {
	q := &sendQueue{
		l:         list.New(),
		maxQueue:  maxQueue,
		maxBytes:  maxBytes,
		lookahead: lookahead,
	}
	q.throttleCond = sync.NewCond(&q.throttleMu)
	return q
}

// Len returns the current queue length.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len()
}

// Push enqueues e according to flags. cmp is the Net-level NetCmp callback
// (may be nil, in which case FlagInOrder degrades to a tail append).
func (q *sendQueue) Push(e *entry, cmp func(a, b []byte) bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.flags&FlagNoDupe != 0 {
		if front := q.l.Front(); front != nil {
			if front.Value.(*entry).msg.Header.Type == e.msg.Header.Type {
				q.counters.Dedupes.Add(1)
				return nil
			}
		}
	}

	if e.flags&FlagNoLimit == 0 && q.l.Len() > 0 {
		if q.enqueCount+1 > q.maxQueue || q.enqueBytes+e.size() > q.maxBytes {
			q.counters.NumQueueFull.Add(1)
			return ErrQueueFull
		}
	}

	switch {
	case e.flags&FlagHead != 0:
		q.l.PushFront(e)
	case e.flags&FlagInOrder != 0 && cmp != nil:
		q.insertOrdered(e, cmp)
	default:
		q.l.PushBack(e)
	}

	q.enqueCount++
	q.enqueBytes += e.size()
	q.counters.Enqueued.Add(1)
	q.counters.EnqueBytes.Add(int64(e.size()))
	return nil
}

// insertOrdered performs a bounded insertion sort: it walks back at most
// q.lookahead elements from the tail looking for the first element the new
// entry should precede, per cmp. On a tie (cmp reports neither a<b nor
// b<a) the existing element is kept ahead of the new one. This intentionally
// does not consider the whole queue — only the trailing window — per
// spec.md's "bounded sort" definition.
func (q *sendQueue) insertOrdered(e *entry, cmp func(a, b []byte) bool) {
	mark := q.l.Back()
	steps := q.lookahead
	for mark != nil && steps > 0 {
		cur := mark.Value.(*entry)
		if !cmp(e.sortKey, cur.sortKey) {
			// e does not sort before cur: insert right after cur.
			q.l.InsertAfter(e, mark)
			return
		}
		mark = mark.Prev()
		steps--
	}
	if mark == nil {
		q.l.PushFront(e)
		return
	}
	q.l.InsertAfter(e, mark)
}

// Detach atomically removes the entire queue contents as a slice (oldest
// first) and resets the enqueue counters, exactly matching the writer's
// "atomically detach the entire queue and reset counters under the enqueue
// lock" step. Callers drain the returned slice outside the lock.
func (q *sendQueue) Detach() []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.l.Len() == 0 {
		return nil
	}
	out := make([]*entry, 0, q.l.Len())
	for el := q.l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry))
	}
	q.l.Init()
	q.enqueCount = 0
	q.enqueBytes = 0
	return out
}

// PctFull returns the queue's current fullness as a percentage of maxBytes
// (the cap throttleWait compares against).
func (q *sendQueue) PctFull() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxBytes <= 0 {
		return 0
	}
	return q.enqueBytes * 100 / q.maxBytes
}

// ThrottleWait blocks the calling producer while this queue exceeds pct% of
// its byte cap, waking whenever the writer broadcasts after a drain.
func (q *sendQueue) ThrottleWait(pct int) {
	q.throttleMu.Lock()
	defer q.throttleMu.Unlock()
	for q.PctFull() > pct {
		q.throttleCond.Wait()
	}
}

// BroadcastThrottle wakes every producer blocked in ThrottleWait; called by
// the writer after each drain.
func (q *sendQueue) BroadcastThrottle() {
	q.throttleCond.Broadcast()
}
