// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package crypto

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// kwIV is the RFC 3394 default initial value.
var kwIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// ErrUnwrapFailed is returned when the integrity check value on an
// AES-KW-wrapped key does not match.
var ErrUnwrapFailed = errors.New("crypto: key unwrap integrity check failed")

// WrapKey implements RFC 3394 AES key wrap. kek must be 16, 24, or 32 bytes;
// plaintext must be a multiple of 8 bytes and at least 16 bytes. The output
// is len(plaintext)+8 bytes.
func WrapKey(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext)%8 != 0 || len(plaintext) < 16 {
		return nil, errors.New("crypto: key wrap input must be a multiple of 8 bytes, at least 16")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}

	n := len(plaintext) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], plaintext[i*8:(i+1)*8])
	}

	var a [8]byte
	copy(a[:], kwIV[:])

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := 0; k < 8; k++ {
				a[k] = buf[k] ^ tBytes[k]
			}
			copy(r[i-1][:], buf[8:])
		}
	}

	out := make([]byte, 8+len(plaintext))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+(i+1)*8], r[i][:])
	}
	return out, nil
}

// UnwrapKey reverses WrapKey, returning ErrUnwrapFailed if the integrity
// check value does not match kwIV.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, errors.New("crypto: wrapped key must be a multiple of 8 bytes, at least 24")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])

	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			var xored [8]byte
			for k := 0; k < 8; k++ {
				xored[k] = a[k] ^ tBytes[k]
			}

			copy(buf[:8], xored[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)

			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], kwIV[:]) != 1 {
		return nil, ErrUnwrapFailed
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}
	return out, nil
}
