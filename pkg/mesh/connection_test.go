package mesh

import (
	"testing"
	"time"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestConnectorRedialsAfterSocketDrop is a regression test for the
// finishIOTask invariant: once both the reader and writer have exited after
// an IO error, hasSocket must report false so the connector notices and
// redials, rather than leaving a stale conn/reallyClosed pair behind.
func TestConnectorRedialsAfterSocketDrop(t *testing.T) {
	const (
		hostA = "127.0.0.21"
		hostB = "127.0.0.22"
		portA = 19401
		portB = 19402
	)
	cfgA := config.Defaults()
	cfgA.Name, cfgA.Host, cfgA.Port = hostA, hostA, portA
	cfgA.App, cfgA.Service, cfgA.Instance = "t", "t", hostA
	cfgA.Members = []config.Member{{Host: hostB, Port: portB}}
	cfgA.HeartbeatSendTime = 20 * time.Millisecond
	cfgA.HeartbeatCheckTime = time.Hour

	cfgB := cfgA
	cfgB.Name, cfgB.Host, cfgB.Port = hostB, hostB, portB
	cfgB.Instance = hostB
	cfgB.Members = []config.Member{{Host: hostA, Port: portA}}

	a, err := NewNet(cfgA, Callbacks{}, UserHandlers{}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Shutdown()

	b, err := NewNet(cfgB, Callbacks{}, UserHandlers{}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer b.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		pa := a.dir.lookup(hostB)
		return pa != nil && pa.hasSocket() && pa.GotHello()
	})

	pa := a.dir.lookup(hostB)
	require.NotNil(t, pa)

	// Sever the connection from A's side, as a dropped link would.
	pa.closeSocket()

	waitFor(t, 2*time.Second, func() bool {
		return !pa.hasSocket()
	})

	// The connector must notice the loss and redial, re-establishing hello.
	waitFor(t, 5*time.Second, func() bool {
		return pa.hasSocket() && pa.GotHello()
	})
}
