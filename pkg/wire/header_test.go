package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{FromHost: "nodea", FromPort: 9001, ToHost: "nodeb", ToPort: 9002, Type: TypeHeartbeat},
		{FromHost: strings.Repeat("x", 15), ToHost: "short", Type: TypeUserMsg},
		{FromHost: strings.Repeat("y", 16), ToHost: strings.Repeat("z", 40), Type: TypeAck},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		require.NoError(t, EncodeHeader(&buf, h))
		got, err := DecodeHeader(&buf)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}

func TestHostnameSlotBoundary(t *testing.T) {
	// Length 15 fits inline (no escape, slot[0] != '.' in practice since it's
	// a normal hostname byte).
	h15 := strings.Repeat("a", 15)
	slot, long := hostSlot(h15)
	require.Nil(t, long)
	require.Equal(t, h15, cstring(slot[:]))

	// Length 16 requires the ".len" escape.
	h16 := strings.Repeat("b", 16)
	slot, long = hostSlot(h16)
	require.Equal(t, []byte(h16), long)
	require.True(t, slot[0] == '.')
	host, tailLen, err := resolveSlot(slot[:])
	require.NoError(t, err)
	require.Equal(t, "", host)
	require.Equal(t, 16, tailLen)
}

func TestHostSlotEdgeCaseHostnameStartingWithDot(t *testing.T) {
	// A legitimate (if unusual) hostname that happens to start with '.' is
	// short enough to fit inline, but resolveSlot reads any slot starting
	// with '.' as a length escape, so ".5x" is rejected as a malformed
	// escape instead of decoding as a hostname; this guard documents that
	// existing behavior rather than mandating a particular fix.
	h := ".5x"
	slot, long := hostSlot(h)
	require.Nil(t, long)
	_, _, err := resolveSlot(slot[:])
	require.Error(t, err, "digits-then-garbage after '.' is rejected as a malformed escape")
}
