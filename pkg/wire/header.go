// Package wire implements the fixed-endian framed wire protocol used to
// exchange messages between mesh nodes: the fixed header with its
// variable-length hostname escape, and the eight on-wire message kinds.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// HostSlotSize is the width in bytes of the fixed from/to hostname slots in
// the wire header. Hostnames that don't fit verbatim are replaced by the
// ASCII ".<decimal length>" escape, zero-padded to this width, with the
// real name following the header as a raw byte run.
const HostSlotSize = 16

// Type identifies one of the eight wire message kinds (plus the
// connect-message pseudo-type 0, which is only ever the first frame on a
// freshly accepted socket and is handled separately by the accept path).
type Type int32

// Wire message kinds. Values are part of the wire compatibility contract
// and must never be renumbered.
const (
	TypeConnect    Type = 0
	TypeHeartbeat  Type = 1
	TypeHello      Type = 2
	TypeHelloReply Type = 3
	TypeDecom      Type = 4
	TypeDecomName  Type = 5
	TypeUserMsg    Type = 6
	TypeAck        Type = 7
	TypeAckPayload Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "connect"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeHello:
		return "hello"
	case TypeHelloReply:
		return "hello-reply"
	case TypeDecom:
		return "decom"
	case TypeDecomName:
		return "decom-name"
	case TypeUserMsg:
		return "user-msg"
	case TypeAck:
		return "ack"
	case TypeAckPayload:
		return "ack-payload"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// Header is the fixed prefix of every framed message on the wire. FromNode
// and ToNode are unused: nothing in this module sets them, so they go out
// as 0, and DecodeHeader copies whatever the sender wrote into them. They
// are kept in the struct because they occupy wire bytes that downstream
// versions of this protocol rely on being present.
type Header struct {
	FromHost string
	FromPort int32
	FromNode int32
	ToHost   string
	ToPort   int32
	ToNode   int32
	Type     Type
}

// hostSlot renders host into a 16-byte wire slot, returning the slot bytes
// and the long-name tail to append after the fixed header (nil if host fit
// inline).
func hostSlot(host string) ([HostSlotSize]byte, []byte) {
	var slot [HostSlotSize]byte
	if len(host) < HostSlotSize {
		copy(slot[:], host)
		return slot, nil
	}
	esc := fmt.Sprintf(".%d", len(host))
	if len(esc) > HostSlotSize {
		// A hostname too long even for the decimal-length escape is a
		// protocol violation the caller must catch before encoding.
		panic(fmt.Sprintf("wire: hostname length %d has no valid escape", len(host)))
	}
	copy(slot[:], esc)
	return slot, []byte(host)
}

// EncodeHeader writes the fixed header followed by any long-name tails
// (from first, then to) into w.
func EncodeHeader(w io.Writer, h Header) error {
	fromSlot, fromLong := hostSlot(h.FromHost)
	toSlot, toLong := hostSlot(h.ToHost)

	buf := make([]byte, 0, HostSlotSize+4+4+HostSlotSize+4+4+4)
	buf = append(buf, fromSlot[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.FromPort))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.FromNode))
	buf = append(buf, toSlot[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.ToPort))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.ToNode))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.Type))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if fromLong != nil {
		if _, err := w.Write(fromLong); err != nil {
			return fmt.Errorf("wire: write from-host tail: %w", err)
		}
	}
	if toLong != nil {
		if _, err := w.Write(toLong); err != nil {
			return fmt.Errorf("wire: write to-host tail: %w", err)
		}
	}
	return nil
}

// DecodeHeader reads a fixed header plus any long-name tails from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var raw [HostSlotSize + 4 + 4 + HostSlotSize + 4 + 4 + 4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	var h Header
	off := 0
	fromSlot := raw[off : off+HostSlotSize]
	off += HostSlotSize
	h.FromPort = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	h.FromNode = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	toSlot := raw[off : off+HostSlotSize]
	off += HostSlotSize
	h.ToPort = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	h.ToNode = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	h.Type = Type(int32(binary.BigEndian.Uint32(raw[off:])))

	fromHost, fromLen, err := resolveSlot(fromSlot)
	if err != nil {
		return Header{}, fmt.Errorf("wire: from-host: %w", err)
	}
	if fromLen > 0 {
		buf := make([]byte, fromLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Header{}, fmt.Errorf("wire: read from-host tail: %w", err)
		}
		fromHost = string(buf)
	}
	toHost, toLen, err := resolveSlot(toSlot)
	if err != nil {
		return Header{}, fmt.Errorf("wire: to-host: %w", err)
	}
	if toLen > 0 {
		buf := make([]byte, toLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Header{}, fmt.Errorf("wire: read to-host tail: %w", err)
		}
		toHost = string(buf)
	}
	h.FromHost = fromHost
	h.ToHost = toHost
	return h, nil
}

// resolveSlot interprets a 16-byte wire slot: either it holds an inline
// hostname (returned directly, tailLen 0) or a ".<len>" escape (returned
// empty, tailLen > 0 telling the caller how many tail bytes to read).
func resolveSlot(slot []byte) (host string, tailLen int, err error) {
	if len(slot) == 0 || slot[0] != '.' {
		return cstring(slot), 0, nil
	}
	// ".<decimal>" escape, NUL/space padded.
	end := bytes.IndexAny(slot[1:], "\x00 ")
	digits := slot[1:]
	if end >= 0 {
		digits = slot[1 : 1+end]
	}
	if len(digits) == 0 {
		return "", 0, fmt.Errorf("empty length escape")
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, fmt.Errorf("malformed length escape %q", slot)
		}
		n = n*10 + int(c-'0')
		if n > maxEscapedNameLen {
			return "", 0, fmt.Errorf("escaped length exceeds %d", maxEscapedNameLen)
		}
	}
	if n <= 0 {
		return "", 0, fmt.Errorf("non-positive escaped length %d", n)
	}
	return "", n, nil
}

// maxEscapedNameLen bounds the ".<decimal>" escape's declared tail length,
// matching the original's namelen > 256 check: without this a malformed or
// malicious escape can request an arbitrarily large allocation in
// DecodeHeader.
const maxEscapedNameLen = 256

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
