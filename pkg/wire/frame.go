package wire

import (
	"fmt"
	"io"
)

// ReadFrame decodes one full frame (header + typed payload) from r. scratch
// is passed through to DecodeUserPayload for the zero-allocation fast path;
// it is ignored for every other type.
func ReadFrame(r io.Reader, scratch []byte) (*Message, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: h}
	switch h.Type {
	case TypeHeartbeat:
		// No body.
	case TypeHello, TypeHelloReply:
		p, err := DecodeHelloPayload(r)
		if err != nil {
			return nil, err
		}
		m.Hello = &p
	case TypeDecom:
		node, err := DecodeDecom(r)
		if err != nil {
			return nil, err
		}
		m.Decom = &DecomPayload{Node: node}
	case TypeDecomName:
		name, err := DecodeDecomName(r)
		if err != nil {
			return nil, err
		}
		m.Decom = &DecomPayload{Name: name}
	case TypeUserMsg:
		p, err := DecodeUserPayload(r, scratch)
		if err != nil {
			return nil, err
		}
		m.User = &p
	case TypeAck:
		p, err := DecodeAckPayload(r, false)
		if err != nil {
			return nil, err
		}
		m.Ack = &p
	case TypeAckPayload:
		p, err := DecodeAckPayload(r, true)
		if err != nil {
			return nil, err
		}
		m.Ack = &p
	default:
		return nil, fmt.Errorf("wire: unknown frame type %d", int32(h.Type))
	}
	return m, nil
}

// WriteFrame encodes a full frame (header + typed payload matching
// m.Header.Type) to w.
func WriteFrame(w io.Writer, m *Message) error {
	if err := EncodeHeader(w, m.Header); err != nil {
		return err
	}
	switch m.Header.Type {
	case TypeHeartbeat:
		return nil
	case TypeHello, TypeHelloReply:
		if m.Hello == nil {
			return fmt.Errorf("wire: %s frame missing hello payload", m.Header.Type)
		}
		return EncodeHelloPayload(w, *m.Hello)
	case TypeDecom:
		if m.Decom == nil {
			return fmt.Errorf("wire: decom frame missing payload")
		}
		return EncodeDecom(w, m.Decom.Node)
	case TypeDecomName:
		if m.Decom == nil {
			return fmt.Errorf("wire: decom-name frame missing payload")
		}
		return EncodeDecomName(w, m.Decom.Name)
	case TypeUserMsg:
		if m.User == nil {
			return fmt.Errorf("wire: user-msg frame missing payload")
		}
		return EncodeUserPayload(w, *m.User)
	case TypeAck:
		if m.Ack == nil {
			return fmt.Errorf("wire: ack frame missing payload")
		}
		return EncodeAckPayload(w, *m.Ack, false)
	case TypeAckPayload:
		if m.Ack == nil {
			return fmt.Errorf("wire: ack-payload frame missing payload")
		}
		return EncodeAckPayload(w, *m.Ack, true)
	default:
		return fmt.Errorf("wire: unknown frame type %d", int32(m.Header.Type))
	}
}
