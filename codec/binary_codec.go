package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"e-router/message"
)

var errNotMessage = errors.New("BinaryCodec: v must be *message.Message")

// ErrTruncated is returned when a binary body ends before its declared fields.
var ErrTruncated = errors.New("BinaryCodec: truncated body")

// BinaryCodec lays a Message out as length-prefixed fields, big-endian:
//
//	clientID(u16+n) function(u16+n) endpoint(u16+n) status(u16+n) error(u16+n) payload(u32+n)
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.Message)
	if !ok {
		return nil, errNotMessage
	}

	strs := []string{msg.ClientID, msg.Function, msg.Endpoint, msg.Status, msg.Error}
	total := 4 + len(msg.Payload)
	for _, s := range strs {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("BinaryCodec: field too long (%d bytes)", len(s))
		}
		total += 2 + len(s)
	}

	buf := make([]byte, 0, total)
	for _, s := range strs {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.Message)
	if !ok {
		return errNotMessage
	}

	r := reader{data: data}
	msg.ClientID = r.str()
	msg.Function = r.str()
	msg.Endpoint = r.str()
	msg.Status = r.str()
	msg.Error = r.str()
	msg.Payload = r.bytes()
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader consumes length-prefixed fields and remembers the first error.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) str() string {
	l := r.take(2)
	if l == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(l))))
}

func (r *reader) bytes() []byte {
	l := r.take(4)
	if l == nil {
		return nil
	}
	b := r.take(int(binary.BigEndian.Uint32(l)))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
