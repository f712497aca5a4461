package mesh

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubnetPickSkipsBlackedOutSuffix(t *testing.T) {
	s := newSubnetState([]string{"-a", "-b"}, 5*time.Second)
	lookup := func(addr string) error { return nil } // every suffix "resolves"

	s.markBad("-a")
	suffix, err := s.pick("node1", lookup)
	require.NoError(t, err)
	require.Equal(t, "-b", suffix, "the most recently bad suffix must be skipped inside its blackout window")
}

func TestSubnetPickAllowsBadSuffixAfterBlackoutExpires(t *testing.T) {
	s := newSubnetState([]string{"-a", "-b"}, 10*time.Millisecond)
	lookup := func(addr string) error { return nil }
	s.markBad("-a")
	time.Sleep(20 * time.Millisecond)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		suffix, err := s.pick("node1", lookup)
		require.NoError(t, err)
		seen[suffix] = true
	}
	require.True(t, seen["-a"], "suffix should be eligible again once its blackout has expired")
}

func TestSubnetPickSkipsDisabledSuffixEntirely(t *testing.T) {
	s := newSubnetState([]string{"-a", "-b"}, time.Second)
	s.disable("-a")
	lookup := func(addr string) error { return nil }
	for i := 0; i < 10; i++ {
		suffix, err := s.pick("node1", lookup)
		require.NoError(t, err)
		require.Equal(t, "-b", suffix)
	}
}

func TestSubnetPickFailsWhenNoSuffixResolves(t *testing.T) {
	s := newSubnetState([]string{"-a", "-b"}, time.Second)
	lookup := func(addr string) error { return fmt.Errorf("no such host") }
	_, err := s.pick("node1", lookup)
	require.Error(t, err)
}

func TestSubnetPickWithNoConfiguredSuffixesFallsBackToBareHostLookup(t *testing.T) {
	s := newSubnetState(nil, time.Second)
	called := false
	lookup := func(addr string) error {
		called = true
		require.Equal(t, "node1", addr)
		return nil
	}
	suffix, err := s.pick("node1", lookup)
	require.NoError(t, err)
	require.Empty(t, suffix)
	require.True(t, called)
}

func TestSubnetResolveCacheServesCachedVerdictWithinTTL(t *testing.T) {
	c := newSubnetResolveCache()
	calls := 0
	lookup := func(addr string) error {
		calls++
		return nil
	}
	require.NoError(t, c.lookup("nodea-a", lookup))
	require.NoError(t, c.lookup("nodea-a", lookup))
	require.Equal(t, 1, calls, "second lookup within the TTL must be served from cache")
}

func TestSubnetResolveCacheReResolvesAfterTTL(t *testing.T) {
	c := newSubnetResolveCache()
	fixed := time.Now()
	c.now = func() time.Time { return fixed }
	calls := 0
	lookup := func(addr string) error {
		calls++
		return nil
	}
	require.NoError(t, c.lookup("nodea-a", lookup))
	fixed = fixed.Add(resolveCacheTTL + time.Millisecond)
	require.NoError(t, c.lookup("nodea-a", lookup))
	require.Equal(t, 2, calls, "a lookup past the TTL must re-resolve rather than serve the stale cache entry")
}

func TestKillSubnetClosesMatchingPeerSockets(t *testing.T) {
	n := testNetForDirectory(t)
	registerNet(n)
	defer unregisterNet(n)

	p, _ := n.dir.add(n, "nodeb", 9002)
	client, server := net.Pipe()
	defer server.Close()
	bad := "-a"
	p.mu.Lock()
	p.subnet.Store(&bad)
	p.conn = client
	p.closed = false
	p.reallyClosed = false
	p.mu.Unlock()

	killSubnet("-a")

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	require.True(t, closed, "peer socket bound through the killed suffix must be closed")
}
