package wire

import (
	"encoding/binary"
	"errors"
)

// PaddingBuckets are the fixed sizes a padded envelope may round up to.
// Passing an empty bucket slice to Pad disables padding.
var PaddingBuckets = []int{256, 1024, 4096, 16384, 65536, 262144, 1048576}

// ErrPayloadTooLarge is returned when data does not fit any padding bucket.
var ErrPayloadTooLarge = errors.New("wire: payload too large for any padding bucket")

// Pad encodes data as `len_u32_le || data || zeros`, rounding the total up
// to the smallest bucket in buckets that fits 4+len(data). An empty buckets
// slice disables padding and returns the unpadded length-prefixed form.
func Pad(data []byte, buckets []int) ([]byte, error) {
	need := 4 + len(data)

	if len(buckets) == 0 {
		out := make([]byte, need)
		binary.LittleEndian.PutUint32(out[:4], uint32(len(data)))
		copy(out[4:], data)
		return out, nil
	}

	bucket := -1
	for _, b := range buckets {
		if b >= need {
			bucket = b
			break
		}
	}
	if bucket < 0 {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, bucket)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], data)
	return out, nil
}

// Unpad reverses Pad: it reads the 4-byte little-endian length prefix and
// returns exactly that many bytes, rejecting a claimed length larger than
// what is available.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, errors.New("wire: padded envelope shorter than length prefix")
	}
	n := binary.LittleEndian.Uint32(padded[:4])
	if int(n) > len(padded)-4 {
		return nil, errors.New("wire: claimed length exceeds available data")
	}
	return padded[4 : 4+n], nil
}
