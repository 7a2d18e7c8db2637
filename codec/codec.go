// Package codec is the serialization boundary of the fabric. Payloads are
// msgpack: self-describing, so a decode into the wrong type fails instead
// of misreading bytes.
//
// Empty is the distinguished "no value" marker for services that take no
// request or produce no response. It encodes to the canonical msgpack nil
// byte, and that byte decodes only into Empty.
package codec

import (
	"bytes"
	"fmt"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
)

// Empty is the value used for "no request" and "no response" on RPC
// endpoints.
type Empty struct{}

// nilByte is the msgpack nil marker, reserved for Empty.
const nilByte = 0xC0

// Encode serializes v to msgpack bytes. Empty (or *Empty) encodes to the
// single canonical nil byte.
func Encode(v any) ([]byte, error) {
	switch v.(type) {
	case Empty, *Empty:
		return []byte{nilByte}, nil
	}

	var buf bytes.Buffer
	hd := msgpack.MsgpackHandle{}
	if err := msgpack.NewEncoder(&buf, &hd).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into out, which must be a pointer. The canonical
// nil payload decodes only into *Empty, and *Empty accepts nothing else.
func Decode(data []byte, out any) error {
	if _, ok := out.(*Empty); ok {
		if !IsNil(data) {
			return fmt.Errorf("payload of %d bytes does not decode into Empty", len(data))
		}
		return nil
	}
	if IsNil(data) {
		return fmt.Errorf("nil payload decodes only into Empty, not %T", out)
	}
	if len(data) == 0 {
		return fmt.Errorf("cannot decode empty payload into %T", out)
	}

	hd := msgpack.MsgpackHandle{}
	if err := msgpack.NewDecoder(bytes.NewReader(data), &hd).Decode(out); err != nil {
		return fmt.Errorf("msgpack decode into %T: %w", out, err)
	}
	return nil
}

// IsNil reports whether data is the canonical nil payload produced by
// encoding Empty.
func IsNil(data []byte) bool {
	return len(data) == 1 && data[0] == nilByte
}
