package mesh

import (
	"testing"
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
	"github.com/stretchr/testify/require"
)

func mkEntry(flags EnqueueFlag, typ wire.Type, sortKey string, payloadLen int) *entry {
	return &entry{
		flags:      flags,
		enqueued:   time.Now(),
		msg:        &wire.Message{Header: wire.Header{Type: typ}},
		payloadLen: payloadLen,
		sortKey:    []byte(sortKey),
	}
}

func drainOrder(t *testing.T, q *sendQueue) []string {
	t.Helper()
	entries := q.Detach()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.sortKey))
	}
	return out
}

func TestQueueAdmissionAtExactCap(t *testing.T) {
	q := newSendQueue(2, 1<<20, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "a", 10), nil))
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "b", 10), nil))
	err := q.Push(mkEntry(0, wire.TypeUserMsg, "c", 10), nil)
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestQueueFirstEnqueueAlwaysSucceedsEvenOverBytesCap(t *testing.T) {
	q := newSendQueue(10, 4, 8)
	err := q.Push(mkEntry(0, wire.TypeUserMsg, "a", 999), nil)
	require.NoError(t, err, "first enqueue on an empty queue must always succeed")
	require.Equal(t, 1, q.Len())
}

func TestQueueNoLimitBypassesCaps(t *testing.T) {
	q := newSendQueue(1, 1, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "a", 1), nil))
	require.NoError(t, q.Push(mkEntry(FlagNoLimit, wire.TypeUserMsg, "b", 999), nil))
	require.Equal(t, 2, q.Len())
}

func TestQueueNoDupeDropsOnlyWhenHeadMatchesType(t *testing.T) {
	q := newSendQueue(10, 1<<20, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeHeartbeat, "first", 1), nil))
	err := q.Push(mkEntry(FlagNoDupe, wire.TypeHeartbeat, "second", 1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, q.Len(), "second heartbeat must be dropped, not queued")
	require.Equal(t, int64(1), q.counters.Dedupes.Load())

	require.NoError(t, q.Push(mkEntry(FlagNoDupe, wire.TypeUserMsg, "third", 1), nil))
	require.Equal(t, 2, q.Len(), "different type at head must not be deduped")
}

func TestQueueHeadInsert(t *testing.T) {
	q := newSendQueue(10, 1<<20, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "a", 1), nil))
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "b", 1), nil))
	require.NoError(t, q.Push(mkEntry(FlagHead, wire.TypeUserMsg, "urgent", 1), nil))
	require.Equal(t, []string{"urgent", "a", "b"}, drainOrder(t, q))
}

// lexCmp reports a < b lexicographically, the NetCmp shape used throughout.
func lexCmp(a, b []byte) bool { return string(a) < string(b) }

func TestQueueInOrderBoundedReorder(t *testing.T) {
	q := newSendQueue(100, 1<<20, 5)
	for _, k := range []string{"e", "d", "c", "b", "a"} {
		require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, k, 1), lexCmp))
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, drainOrder(t, q))

	for _, k := range []string{"z", "y", "x", "w", "v", "u"} {
		require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, k, 1), lexCmp))
	}
	require.Equal(t, []string{"u", "v", "w", "x", "y", "z"}, drainOrder(t, q))
}

func TestQueueInOrderWithoutCmpDegradesToAppend(t *testing.T) {
	q := newSendQueue(100, 1<<20, 5)
	require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, "b", 1), nil))
	require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, "a", 1), nil))
	require.Equal(t, []string{"b", "a"}, drainOrder(t, q))
}

func TestQueueInOrderTieKeepsExisting(t *testing.T) {
	q := newSendQueue(100, 1<<20, 5)
	require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, "m", 1), lexCmp))
	require.NoError(t, q.Push(mkEntry(FlagInOrder, wire.TypeUserMsg, "m", 1), lexCmp))
	require.Equal(t, 2, q.Len())
	order := drainOrder(t, q)
	require.Equal(t, []string{"m", "m"}, order)
}

func TestQueueDetachResetsCounters(t *testing.T) {
	q := newSendQueue(10, 1<<20, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "a", 100), nil))
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "b", 100), nil))
	entries := q.Detach()
	require.Len(t, entries, 2)
	require.Equal(t, 0, q.Len())
	require.Equal(t, 0, q.enqueBytes)
	require.Nil(t, q.Detach(), "draining an already-empty queue returns nil")
}

func TestQueuePctFullAndThrottle(t *testing.T) {
	q := newSendQueue(10, 1000, 8)
	require.NoError(t, q.Push(mkEntry(0, wire.TypeUserMsg, "a", 900), nil))
	require.Equal(t, 90, q.PctFull())

	done := make(chan struct{})
	go func() {
		q.ThrottleWait(50)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("ThrottleWait must block while over the percentage threshold")
	case <-time.After(50 * time.Millisecond):
	}

	q.Detach()
	q.BroadcastThrottle()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ThrottleWait must wake after BroadcastThrottle once under threshold")
	}
}
