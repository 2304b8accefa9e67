// File: fake/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import "sync/atomic"

// XORCodec is a toy api.Codec flipping every byte with Key. It stands in
// for a TLS collaborator in tests.
type XORCodec struct {
	Key     byte
	decoded atomic.Int64
	encoded atomic.Int64
}

func (c *XORCodec) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.Key
	}
	return out
}

// Decode implements api.Codec.
func (c *XORCodec) Decode(in []byte) ([]byte, error) {
	c.decoded.Add(int64(len(in)))
	return c.apply(in), nil
}

// Encode implements api.Codec.
func (c *XORCodec) Encode(out []byte) ([]byte, error) {
	c.encoded.Add(int64(len(out)))
	return c.apply(out), nil
}

// Decoded returns the number of bytes passed to Decode.
func (c *XORCodec) Decoded() int64 { return c.decoded.Load() }

// Encoded returns the number of bytes passed to Encode.
func (c *XORCodec) Encoded() int64 { return c.encoded.Load() }
