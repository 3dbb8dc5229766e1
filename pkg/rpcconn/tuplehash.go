package rpcconn

import (
	"golang.org/x/crypto/sha3"
)

// tupleHash128 computes NIST SP 800-185 TupleHash128 with a 32-byte output:
// cSHAKE128 with function name "TupleHash" and the given customization
// string, over the length-framed tuple items followed by the encoded output
// length. Unlike plain concatenation, the framing makes the item boundaries
// part of the hash, so ("ab","c") and ("a","bc") digest differently.
func tupleHash128(customization []byte, items ...[]byte) []byte {
	h := sha3.NewCShake128([]byte("TupleHash"), customization)
	for _, item := range items {
		h.Write(leftEncode(uint64(len(item)) * 8))
		h.Write(item)
	}
	h.Write(rightEncode(32 * 8))
	out := make([]byte, 32)
	h.Read(out)
	return out
}

// minBytes returns v as the shortest (at least one byte) big-endian string.
func minBytes(v uint64) []byte {
	n := 1
	for x := v >> 8; x > 0; x >>= 8 {
		n++
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// leftEncode and rightEncode are the integer framings from SP 800-185: the
// minimal big-endian encoding of v with its byte count prepended or
// appended.
func leftEncode(v uint64) []byte {
	b := minBytes(v)
	return append([]byte{byte(len(b))}, b...)
}

func rightEncode(v uint64) []byte {
	b := minBytes(v)
	return append(b, byte(len(b)))
}
