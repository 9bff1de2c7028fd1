package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyBody is returned when a JSON frame carries no body at all.
var ErrEmptyBody = errors.New("JSONCodec: empty body")

// JSONCodec is the default codec. Messages stay readable in a packet capture
// of a routing experiment; Payload bytes travel base64-encoded.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSONCodec: encode: %w", err)
	}
	return data, nil
}

// Decode rejects trailing data after the first value, so two frames glued
// together by a broken peer are not half-accepted.
func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("JSONCodec: decode: %w", err)
	}
	if dec.More() {
		return errors.New("JSONCodec: trailing data after message")
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
