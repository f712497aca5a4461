package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxAckPayload is the largest payload an ACK_PAYLOAD frame may carry.
// A decoded paylen outside [1, MaxAckPayload] is a protocol violation.
const MaxAckPayload = 1024

// Message is a fully decoded frame: the fixed header plus whichever typed
// payload its Type implies. At most one of the payload fields is set,
// matching Header.Type; a heartbeat carries none.
type Message struct {
	Header  Header
	User    *UserPayload
	Ack     *AckPayload
	Hello   *HelloPayload
	Decom   *DecomPayload
	Connect *ConnectPayload
}

// UserPayload is the body of a TypeUserMsg frame.
type UserPayload struct {
	UserType   int32
	SeqNum     int32
	WaitForAck bool
	Data       []byte
}

// EncodeUserPayload writes a user-message body to w.
func EncodeUserPayload(w io.Writer, p UserPayload) error {
	buf := make([]byte, 0, 16+len(p.Data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.UserType))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.SeqNum))
	buf = binary.BigEndian.AppendUint32(buf, boolToU32(p.WaitForAck))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Data)))
	buf = append(buf, p.Data...)
	_, err := w.Write(buf)
	return err
}

// DecodeUserPayload reads a user-message body from r. scratch, if non-nil
// and large enough, is reused when datalen is at most len(scratch) to avoid
// an allocation on the inbound hot path; otherwise a fresh slice is
// allocated.
func DecodeUserPayload(r io.Reader, scratch []byte) (UserPayload, error) {
	var fixed [16]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return UserPayload{}, fmt.Errorf("wire: read user header: %w", err)
	}
	p := UserPayload{
		UserType:   int32(binary.BigEndian.Uint32(fixed[0:])),
		SeqNum:     int32(binary.BigEndian.Uint32(fixed[4:])),
		WaitForAck: binary.BigEndian.Uint32(fixed[8:]) != 0,
	}
	datalen := int(binary.BigEndian.Uint32(fixed[12:]))
	if datalen < 0 {
		return UserPayload{}, fmt.Errorf("wire: negative user datalen %d", datalen)
	}
	var data []byte
	if scratch != nil && datalen <= len(scratch) {
		data = scratch[:datalen]
	} else {
		data = make([]byte, datalen)
	}
	if datalen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return UserPayload{}, fmt.Errorf("wire: read user data: %w", err)
		}
	}
	p.Data = data
	return p, nil
}

// AckPayload is the body of a TypeAck/TypeAckPayload frame. Outrc carries
// the outcome code as a signed value; the mesh package replaces any
// negative handler outcome with -1 before encoding, so -1 is the only
// negative value it sends.
type AckPayload struct {
	SeqNum int32
	Outrc  int32
	Data   []byte
}

// EncodeAckPayload writes an ack body to w. withPayload selects TypeAck
// (paylen/data omitted) vs TypeAckPayload (paylen/data present); the caller
// is responsible for setting Header.Type to match.
func EncodeAckPayload(w io.Writer, p AckPayload, withPayload bool) error {
	buf := make([]byte, 0, 12+len(p.Data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.SeqNum))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.Outrc))
	if withPayload {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Data)))
		buf = append(buf, p.Data...)
	}
	_, err := w.Write(buf)
	return err
}

// DecodeAckPayload reads an ack body. withPayload must match the frame's
// Header.Type (TypeAckPayload vs TypeAck).
func DecodeAckPayload(r io.Reader, withPayload bool) (AckPayload, error) {
	var fixed [8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return AckPayload{}, fmt.Errorf("wire: read ack header: %w", err)
	}
	p := AckPayload{
		SeqNum: int32(binary.BigEndian.Uint32(fixed[0:])),
		Outrc:  int32(binary.BigEndian.Uint32(fixed[4:])),
	}
	if !withPayload {
		return p, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return AckPayload{}, fmt.Errorf("wire: read ack paylen: %w", err)
	}
	paylen := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if paylen < 1 || paylen > MaxAckPayload {
		return AckPayload{}, fmt.Errorf("wire: ack paylen %d out of range [1,%d]", paylen, MaxAckPayload)
	}
	data := make([]byte, paylen)
	if _, err := io.ReadFull(r, data); err != nil {
		return AckPayload{}, fmt.Errorf("wire: read ack payload: %w", err)
	}
	p.Data = data
	return p, nil
}

// HelloHost is one (hostname, port) tuple carried in a hello payload.
type HelloHost struct {
	Host string
	Port int32
}

// HelloPayload is the body of a TypeHello/TypeHelloReply frame: the
// sender's known (host,port) set.
type HelloPayload struct {
	Hosts []HelloHost
}

// EncodeHelloPayload writes a hello body: {datasz, numhosts, then each
// host's 16-byte slot (or escape) and port, then the long names in slot
// order}. datasz is the total encoded size of everything after the
// datasz/numhosts pair; DecodeHelloPayload reads exactly datasz bytes as
// the body and parses the hosts out of it.
func EncodeHelloPayload(w io.Writer, p HelloPayload) error {
	var body bytes.Buffer
	var tails [][]byte
	for _, h := range p.Hosts {
		slot, long := hostSlot(h.Host)
		body.Write(slot[:])
		var portBuf [4]byte
		binary.BigEndian.PutUint32(portBuf[:], uint32(h.Port))
		body.Write(portBuf[:])
		if long != nil {
			tails = append(tails, long)
		}
	}
	for _, t := range tails {
		body.Write(t)
	}
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:], uint32(body.Len()))
	binary.BigEndian.PutUint32(head[4:], uint32(len(p.Hosts)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("wire: write hello header: %w", err)
	}
	_, err := w.Write(body.Bytes())
	return err
}

// DecodeHelloPayload reads a hello body from r.
func DecodeHelloPayload(r io.Reader) (HelloPayload, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return HelloPayload{}, fmt.Errorf("wire: read hello header: %w", err)
	}
	datasz := int(binary.BigEndian.Uint32(head[0:]))
	numhosts := int(binary.BigEndian.Uint32(head[4:]))
	if numhosts < 0 || numhosts > 1<<16 {
		return HelloPayload{}, fmt.Errorf("wire: implausible hello numhosts %d", numhosts)
	}
	if datasz < 0 {
		return HelloPayload{}, fmt.Errorf("wire: negative hello datasz %d", datasz)
	}
	body := make([]byte, datasz)
	if _, err := io.ReadFull(r, body); err != nil {
		return HelloPayload{}, fmt.Errorf("wire: read hello body: %w", err)
	}
	br := bytes.NewReader(body)
	hosts := make([]HelloHost, numhosts)
	tailLens := make([]int, numhosts)
	for i := 0; i < numhosts; i++ {
		var slot [HostSlotSize]byte
		if _, err := io.ReadFull(br, slot[:]); err != nil {
			return HelloPayload{}, fmt.Errorf("wire: read hello host slot %d: %w", i, err)
		}
		var portBuf [4]byte
		if _, err := io.ReadFull(br, portBuf[:]); err != nil {
			return HelloPayload{}, fmt.Errorf("wire: read hello port %d: %w", i, err)
		}
		host, tailLen, err := resolveSlot(slot[:])
		if err != nil {
			return HelloPayload{}, fmt.Errorf("wire: hello host slot %d: %w", i, err)
		}
		hosts[i] = HelloHost{Host: host, Port: int32(binary.BigEndian.Uint32(portBuf[:]))}
		tailLens[i] = tailLen
	}
	for i, tailLen := range tailLens {
		if tailLen == 0 {
			continue
		}
		buf := make([]byte, tailLen)
		if _, err := io.ReadFull(br, buf); err != nil {
			return HelloPayload{}, fmt.Errorf("wire: read hello tail %d: %w", i, err)
		}
		hosts[i].Host = string(buf)
	}
	if numhosts == 0 {
		return HelloPayload{}, nil
	}
	return HelloPayload{Hosts: hosts}, nil
}

// DecomPayload is the body of a TypeDecom (legacy numeric node) or
// TypeDecomName (length-prefixed hostname) frame.
type DecomPayload struct {
	Node int32  // valid for TypeDecom
	Name string // valid for TypeDecomName
}

// EncodeDecom writes a legacy numeric-node decom body.
func EncodeDecom(w io.Writer, node int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(node))
	_, err := w.Write(buf[:])
	return err
}

// DecodeDecom reads a legacy numeric-node decom body.
func DecodeDecom(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("wire: read decom node: %w", err)
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// EncodeDecomName writes a length-prefixed hostname decom body.
func EncodeDecomName(w io.Writer, name string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(name)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, name)
	return err
}

// DecodeDecomName reads a length-prefixed hostname decom body.
func DecodeDecomName(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("wire: read decom-name length: %w", err)
	}
	n := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if n < 0 || n > 1<<20 {
		return "", fmt.Errorf("wire: implausible decom-name length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("wire: read decom-name: %w", err)
	}
	return string(buf), nil
}

// ConnectFlagTLS marks bit 31 of a connect message's Flags: the dialing
// side requests a TLS upgrade before any further frames are exchanged.
const ConnectFlagTLS uint32 = 1 << 31

// ConnectChildNetMask isolates the low 16 bits of Flags, which carry the
// target child-net number for demultiplexing a shared listener.
const ConnectChildNetMask uint32 = 0xFFFF

// ConnectPayload is the very first frame written on a freshly dialed
// socket (Header.Type == TypeConnect, the only place that type appears).
type ConnectPayload struct {
	ToHost   string
	ToPort   int32
	Flags    uint32
	FromHost string
	FromPort int32
	FromNode int32
}

// ConnectMarker is the single byte that must precede a connect message's
// body on a freshly dialed socket. The accept path peeks exactly one byte
// off every newly accepted connection to decide whether it's a mesh peer
// (this marker), an app-socket client (any other byte), or the admin
// app-sock ('@'); EncodeConnect's body itself carries no type tag, so the
// caller writes this marker first.
const ConnectMarker byte = 0

// EncodeConnect writes the connect-message body (the fixed header for this
// frame is NOT the general Header — the connect message is its own fixed
// layout read directly off the raw socket by the accept path before any
// Net/peer association exists). It does not write ConnectMarker; callers
// dialing a fresh socket must write that byte first.
func EncodeConnect(w io.Writer, p ConnectPayload) error {
	toSlot, toLong := hostSlot(p.ToHost)
	fromSlot, fromLong := hostSlot(p.FromHost)
	buf := make([]byte, 0, HostSlotSize+4+4+HostSlotSize+4+4)
	buf = append(buf, toSlot[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.ToPort))
	buf = binary.BigEndian.AppendUint32(buf, p.Flags)
	buf = append(buf, fromSlot[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.FromPort))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.FromNode))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: write connect: %w", err)
	}
	if toLong != nil {
		if _, err := w.Write(toLong); err != nil {
			return err
		}
	}
	if fromLong != nil {
		if _, err := w.Write(fromLong); err != nil {
			return err
		}
	}
	return nil
}

// DecodeConnect reads a connect-message body from r.
func DecodeConnect(r io.Reader) (ConnectPayload, error) {
	var raw [HostSlotSize + 4 + 4 + HostSlotSize + 4 + 4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return ConnectPayload{}, fmt.Errorf("wire: read connect: %w", err)
	}
	var p ConnectPayload
	off := 0
	toSlot := raw[off : off+HostSlotSize]
	off += HostSlotSize
	p.ToPort = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	p.Flags = binary.BigEndian.Uint32(raw[off:])
	off += 4
	fromSlot := raw[off : off+HostSlotSize]
	off += HostSlotSize
	p.FromPort = int32(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	p.FromNode = int32(binary.BigEndian.Uint32(raw[off:]))

	toHost, toLen, err := resolveSlot(toSlot)
	if err != nil {
		return ConnectPayload{}, fmt.Errorf("wire: connect to-host: %w", err)
	}
	if toLen > 0 {
		buf := make([]byte, toLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return ConnectPayload{}, fmt.Errorf("wire: read connect to-host tail: %w", err)
		}
		toHost = string(buf)
	}
	fromHost, fromLen, err := resolveSlot(fromSlot)
	if err != nil {
		return ConnectPayload{}, fmt.Errorf("wire: connect from-host: %w", err)
	}
	if fromLen > 0 {
		buf := make([]byte, fromLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return ConnectPayload{}, fmt.Errorf("wire: read connect from-host tail: %w", err)
		}
		fromHost = string(buf)
	}
	p.ToHost = toHost
	p.FromHost = fromHost
	return p, nil
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// ChildNet extracts the child-net number a connect message's Flags field
// addresses (the low 16 bits).
func (p ConnectPayload) ChildNet() int32 {
	return int32(p.Flags & ConnectChildNetMask)
}

// WantsTLS reports whether the dialing side requested a TLS upgrade.
func (p ConnectPayload) WantsTLS() bool {
	return p.Flags&ConnectFlagTLS != 0
}
