package mesh

import (
	"testing"
	"time"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// buildTestNet returns a started Net bound to host (a distinct loopback
// address so two Nets in the same process are never confused with each
// other) with members pre-seeded for a direct two-node mesh.
func buildTestNet(t *testing.T, host string, port int, peerHost string, peerPort int, handlers UserHandlers) *Net {
	t.Helper()
	cfg := config.Defaults()
	cfg.Name = host
	cfg.Host = host
	cfg.Port = port
	cfg.App, cfg.Service, cfg.Instance = "meshtest", "meshtest", host
	cfg.HeartbeatSendTime = 50 * time.Millisecond
	cfg.HeartbeatCheckTime = 2 * time.Second
	if peerHost != "" {
		cfg.Members = []config.Member{{Host: peerHost, Port: peerPort}}
	}
	n, err := NewNet(cfg, Callbacks{}, handlers, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(n.Shutdown)
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true within %s", timeout)
}

// TestScenarioFullMeshBootstrap covers spec.md §8 scenario 1: two
// statically-configured peers dial each other, exchange HELLO/HELLO_REPLY,
// and both report the other as connected with hello completed.
func TestScenarioFullMeshBootstrap(t *testing.T) {
	const (
		hostA = "127.0.0.11"
		hostB = "127.0.0.12"
		portA = 19301
		portB = 19302
	)
	var handlers UserHandlers
	a := buildTestNet(t, hostA, portA, hostB, portB, handlers)
	b := buildTestNet(t, hostB, portB, hostA, portA, handlers)

	waitFor(t, 5*time.Second, func() bool {
		pa := a.dir.lookup(hostB)
		pb := b.dir.lookup(hostA)
		return pa != nil && pa.GotHello() && pb != nil && pb.GotHello()
	})

	snapA := a.Snapshot()
	require.Len(t, snapA, 1)
	require.Equal(t, hostB, snapA[0].Host)
	require.Equal(t, StateConnected, snapA[0].State)
}

// TestScenarioAckRoundTrip covers spec.md §8 scenario 3: a USER_MSG sent
// with SendMessagePayloadAck blocks until the remote handler acks back with
// a payload, and the caller observes the clamped outcome and payload.
func TestScenarioAckRoundTrip(t *testing.T) {
	const (
		hostA    = "127.0.0.13"
		hostB    = "127.0.0.14"
		portA    = 19303
		portB    = 19304
		userType = 7
	)
	var handlersB UserHandlers
	handlersB[userType] = func(peer *Peer, data []byte, ack *AckState) {
		require.NotNil(t, ack)
		require.Equal(t, "ping", string(data))
		require.NoError(t, ack.AckPayload(42, []byte("pong")))
	}

	a := buildTestNet(t, hostA, portA, hostB, portB, UserHandlers{})
	b := buildTestNet(t, hostB, portB, hostA, portA, handlersB)

	waitFor(t, 5*time.Second, func() bool {
		pa := a.dir.lookup(hostB)
		return pa != nil && pa.GotHello()
	})

	outcome, payload, err := a.SendMessagePayloadAck(hostB, userType, []byte("ping"), 2000)
	require.NoError(t, err)
	require.Equal(t, int32(42), outcome)
	require.Equal(t, "pong", string(payload))
}

// TestScenarioAckTimeoutWhenHandlerNeverReplies covers the timeout edge of
// scenario 3: a handler that never acks must cause the caller to time out
// rather than block forever.
func TestScenarioAckTimeoutWhenHandlerNeverReplies(t *testing.T) {
	const (
		hostA    = "127.0.0.15"
		hostB    = "127.0.0.16"
		portA    = 19305
		portB    = 19306
		userType = 9
	)
	var handlersB UserHandlers
	handlersB[userType] = func(peer *Peer, data []byte, ack *AckState) {
		// deliberately never acks
	}

	a := buildTestNet(t, hostA, portA, hostB, portB, UserHandlers{})
	b := buildTestNet(t, hostB, portB, hostA, portA, handlersB)

	waitFor(t, 5*time.Second, func() bool {
		pa := a.dir.lookup(hostB)
		return pa != nil && pa.GotHello()
	})

	_, _, err := a.SendMessagePayloadAck(hostB, userType, []byte("ping"), 200)
	require.ErrorIs(t, err, ErrTimeout)
}

// TestScenarioDecomTearsDownPeer covers spec.md §8 scenario 6: decom marks
// the peer unreachable immediately and removes it from the directory after
// the grace period.
func TestScenarioDecomTearsDownPeer(t *testing.T) {
	const (
		hostA = "127.0.0.17"
		hostB = "127.0.0.18"
		portA = 19307
		portB = 19308
	)
	a := buildTestNet(t, hostA, portA, hostB, portB, UserHandlers{})
	_ = buildTestNet(t, hostB, portB, hostA, portA, UserHandlers{})

	waitFor(t, 5*time.Second, func() bool {
		pa := a.dir.lookup(hostB)
		return pa != nil && pa.GotHello()
	})

	require.NoError(t, a.Decom(hostB))
	err := a.Send(hostB, 1, []byte("x"), 0)
	require.ErrorIs(t, err, ErrClosed)

	waitFor(t, 4*time.Second, func() bool {
		return a.dir.lookup(hostB) == nil
	})
}
