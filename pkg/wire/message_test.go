package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserPayloadRoundTrip(t *testing.T) {
	p := UserPayload{UserType: 7, SeqNum: 42, WaitForAck: true, Data: []byte("ping")}
	var buf bytes.Buffer
	require.NoError(t, EncodeUserPayload(&buf, p))
	got, err := DecodeUserPayload(&buf, nil)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestUserPayloadScratchBuffer(t *testing.T) {
	p := UserPayload{UserType: 1, SeqNum: 1, Data: []byte("hi")}
	var buf bytes.Buffer
	require.NoError(t, EncodeUserPayload(&buf, p))
	scratch := make([]byte, 256*1024)
	got, err := DecodeUserPayload(&buf, scratch)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got.Data)
	// Fast path must reuse the scratch backing array, not allocate.
	require.Same(t, &scratch[0], &got.Data[0])
}

func TestAckPayloadRoundTrip(t *testing.T) {
	p := AckPayload{SeqNum: 5, Outrc: 0}
	var buf bytes.Buffer
	require.NoError(t, EncodeAckPayload(&buf, p, false))
	got, err := DecodeAckPayload(&buf, false)
	require.NoError(t, err)
	require.Equal(t, p, got)

	p2 := AckPayload{SeqNum: 5, Outrc: 0, Data: []byte("pong")}
	buf.Reset()
	require.NoError(t, EncodeAckPayload(&buf, p2, true))
	got2, err := DecodeAckPayload(&buf, true)
	require.NoError(t, err)
	require.Equal(t, p2, got2)
}

func TestAckPayloadLenBoundary(t *testing.T) {
	for _, n := range []int{0, MaxAckPayload + 1} {
		var buf bytes.Buffer
		p := AckPayload{SeqNum: 1, Data: make([]byte, n)}
		if n == 0 {
			// EncodeAckPayload happily writes paylen 0 for an empty
			// payload; decode must still reject it.
			require.NoError(t, EncodeAckPayload(&buf, p, true))
		} else {
			require.NoError(t, EncodeAckPayload(&buf, p, true))
		}
		_, err := DecodeAckPayload(&buf, true)
		require.Error(t, err)
	}

	// Boundary values that must succeed.
	for _, n := range []int{1, MaxAckPayload} {
		var buf bytes.Buffer
		p := AckPayload{SeqNum: 1, Data: make([]byte, n)}
		require.NoError(t, EncodeAckPayload(&buf, p, true))
		got, err := DecodeAckPayload(&buf, true)
		require.NoError(t, err)
		require.Len(t, got.Data, n)
	}
}

func TestHelloPayloadRoundTrip(t *testing.T) {
	p := HelloPayload{Hosts: []HelloHost{
		{Host: "a", Port: 1},
		{Host: strings.Repeat("b", 20), Port: 2},
		{Host: "c", Port: 3},
	}}
	var buf bytes.Buffer
	require.NoError(t, EncodeHelloPayload(&buf, p))
	got, err := DecodeHelloPayload(&buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestHelloOwnFullSetIntroducesNothingNew(t *testing.T) {
	// A HELLO containing exactly the receiver's own known set should decode
	// to the same host list the receiver already has — membership merge
	// logic (tested in pkg/mesh) relies on this being a faithful round trip.
	known := []HelloHost{{Host: "a", Port: 1}, {Host: "b", Port: 2}}
	var buf bytes.Buffer
	require.NoError(t, EncodeHelloPayload(&buf, HelloPayload{Hosts: known}))
	got, err := DecodeHelloPayload(&buf)
	require.NoError(t, err)
	require.Equal(t, known, got.Hosts)
}

func TestConnectPayloadRoundTrip(t *testing.T) {
	p := ConnectPayload{
		ToHost: "nodea", ToPort: 9001,
		Flags:    ConnectFlagTLS | 5,
		FromHost: strings.Repeat("q", 30), FromPort: 9002,
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeConnect(&buf, p))
	got, err := DecodeConnect(&buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
	require.True(t, got.WantsTLS())
	require.EqualValues(t, 5, got.ChildNet())
}

func TestConnectMarkerPrecedesBodyOnTheWire(t *testing.T) {
	p := ConnectPayload{ToHost: "nodea", ToPort: 9001, FromHost: "nodeb", FromPort: 9002}
	var buf bytes.Buffer
	buf.WriteByte(ConnectMarker)
	require.NoError(t, EncodeConnect(&buf, p))

	marker, err := buf.ReadByte()
	require.NoError(t, err)
	require.Equal(t, ConnectMarker, marker)

	got, err := DecodeConnect(&buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestFrameRoundTripAllTypes(t *testing.T) {
	msgs := []*Message{
		{Header: Header{Type: TypeHeartbeat, FromHost: "a", ToHost: "b"}},
		{Header: Header{Type: TypeHello, FromHost: "a", ToHost: "b"}, Hello: &HelloPayload{Hosts: []HelloHost{{Host: "c", Port: 1}}}},
		{Header: Header{Type: TypeHelloReply, FromHost: "a", ToHost: "b"}, Hello: &HelloPayload{}},
		{Header: Header{Type: TypeDecom, FromHost: "a", ToHost: "b"}, Decom: &DecomPayload{Node: 3}},
		{Header: Header{Type: TypeDecomName, FromHost: "a", ToHost: "b"}, Decom: &DecomPayload{Name: "nodec"}},
		{Header: Header{Type: TypeUserMsg, FromHost: "a", ToHost: "b"}, User: &UserPayload{UserType: 1, SeqNum: 2, Data: []byte("x")}},
		{Header: Header{Type: TypeAck, FromHost: "a", ToHost: "b"}, Ack: &AckPayload{SeqNum: 2, Outrc: 0}},
		{Header: Header{Type: TypeAckPayload, FromHost: "a", ToHost: "b"}, Ack: &AckPayload{SeqNum: 2, Outrc: 0, Data: []byte("y")}},
	}
	for _, m := range msgs {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, m))
		got, err := ReadFrame(&buf, nil)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}
