// Package status implements the revocation subsystem: a bit-indexed revocation list
// wrapped in a VC, plus the Token Status List alternative encoding the same bit array
// in a signed JWT. Decoded lists are cached (patrickmn/go-cache) so repeated checks
// against the same fetched token do not re-inflate the zlib payload.
package status

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"

	"github.com/sunet/vcengine/internal/errs"
)

// DefaultBits is the default bit-array length: 2^17.
const DefaultBits = 1 << 17

// BitList is a fixed-length bit array, one bit per credential index.
type BitList struct {
	bits []byte
	n    int
}

// NewBitList allocates a zeroed BitList of n bits.
func NewBitList(n int) *BitList {
	return &BitList{bits: make([]byte, (n+7)/8), n: n}
}

// Set marks index as revoked (1) or not (0). Out-of-range indices are ignored:
// "Revocation bit outside array length => treated as not revoked", so Set silently no-ops
// rather than growing the array, keeping Get's out-of-range behavior consistent.
func (b *BitList) Set(index int, revoked bool) {
	if index < 0 || index >= b.n {
		return
	}
	byteIdx, bitIdx := index/8, uint(index%8)
	if revoked {
		b.bits[byteIdx] |= 1 << bitIdx
	} else {
		b.bits[byteIdx] &^= 1 << bitIdx
	}
}

// Get reports whether index is revoked. An out-of-range index is "not revoked".
func (b *BitList) Get(index int) bool {
	if index < 0 || index >= b.n {
		return false
	}
	byteIdx, bitIdx := index/8, uint(index%8)
	return b.bits[byteIdx]&(1<<bitIdx) != 0
}

// Compress zlib-compresses the bit array: the raw wire form of the CWT "lst" field.
func (b *BitList) Compress() ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b.bits); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "zlib compress status list")
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "zlib close")
	}
	return buf.Bytes(), nil
}

// Encode zlib-compresses the bit array and base64url-encodes it, the shared wire form
// of "encodedList" and the JWT Token Status List "lst".
func (b *BitList) Encode() (string, error) {
	raw, err := b.Compress()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecompressBitList inflates a raw zlib-compressed bit array of n bits, the inverse of
// Compress.
func DecompressBitList(raw []byte, n int) (*BitList, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "zlib open status list")
	}
	defer r.Close()
	bits, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "zlib decompress status list")
	}
	return &BitList{bits: bits, n: n}, nil
}

// DecodeBitList is the inverse of Encode, given the original bit count n.
func DecodeBitList(encoded string, n int) (*BitList, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode status list base64")
	}
	return DecompressBitList(raw, n)
}
