package mesh

import (
	"testing"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/clusterfabric/meshbus/pkg/hostid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNetForDirectory(t *testing.T) *Net {
	t.Helper()
	cfg := config.Defaults()
	cfg.Host = "self"
	cfg.Port = 9000
	hosts := hostid.New()
	return &Net{
		cfg:     cfg,
		log:     zap.NewNop(),
		hosts:   hosts,
		dir:     newDirectory(hosts),
		metrics: newMetrics("mesh_test", nil),
		subnets: newSubnetState(cfg.Subnets, cfg.SubnetBlackoutTime),
	}
}

func TestDirectoryAddIsIdempotent(t *testing.T) {
	n := testNetForDirectory(t)
	d := n.dir
	p1, created1 := d.add(n, "nodeb", 9002)
	require.True(t, created1)
	p2, created2 := d.add(n, "nodeb", 9002)
	require.False(t, created2)
	require.Same(t, p1, p2, "add(h,p) composed with itself must return the same peer")
}

func TestDirectoryLookupUsesLastUsedCache(t *testing.T) {
	n := testNetForDirectory(t)
	d := n.dir
	want, _ := d.add(n, "nodeb", 9002)
	require.Nil(t, d.lookup("nodec"))
	got := d.lookup("nodeb")
	require.Same(t, want, got)
	// second lookup should hit the cache path (same object, not rebuilt).
	got2 := d.lookup("nodeb")
	require.Same(t, want, got2)
}

func TestDirectoryRemoveMarksDecomAndUnlinks(t *testing.T) {
	n := testNetForDirectory(t)
	d := n.dir
	d.add(n, "nodeb", 9002)
	removed := d.remove("nodeb")
	require.NotNil(t, removed)
	require.True(t, removed.decomFlag.Load())
	require.Nil(t, d.lookup("nodeb"))
}

func TestDirectorySnapshotReflectsAllPeers(t *testing.T) {
	n := testNetForDirectory(t)
	d := n.dir
	d.add(n, "nodeb", 9002)
	d.add(n, "nodec", 9003)
	snap := d.snapshot()
	require.Len(t, snap, 2)
}

func TestSanctionedListIsDedupedAndIndependentOfGossip(t *testing.T) {
	n := testNetForDirectory(t)
	d := n.dir
	d.addSanctioned("nodeb", 9002)
	d.addSanctioned("nodeb", 9002)
	require.Equal(t, []string{"nodeb"}, d.sanctionedHosts())

	d.add(n, "nodec", 9003) // gossip-learned peer must not appear in sanctioned list
	require.Equal(t, []string{"nodeb"}, d.sanctionedHosts())
}
