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
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
)

// DEKSize is the size in bytes of a per-record data encryption key.
const DEKSize = 32

// WrappedDEKSize is the size of a wire-format wrapped DEK: 4-byte epoch
// prefix plus 40-byte AES-KW ciphertext of a 32-byte DEK.
const WrappedDEKSize = 4 + DEKSize + 8

// ErrMalformedWrappedDEK is returned when a wrapped DEK is not exactly
// WrappedDEKSize bytes.
var ErrMalformedWrappedDEK = errors.New("crypto: malformed wrapped DEK")

// GenerateDEK returns a fresh random 32-byte data encryption key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, DEKSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, err
	}
	return dek, nil
}

// WrapDEK wraps dek under kek and prefixes the result with the big-endian
// epoch number, per the wire format `epoch(4) || AES-KW(kek, dek)(40)`.
func WrapDEK(kek []byte, epoch uint32, dek []byte) ([]byte, error) {
	wrapped, err := WrapKey(kek, dek)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 4+len(wrapped))
	binary.BigEndian.PutUint32(out[:4], epoch)
	copy(out[4:], wrapped)
	return out, nil
}

// PeekWrappedDEKEpoch reads the plaintext epoch prefix of a wrapped DEK
// without unwrapping it.
func PeekWrappedDEKEpoch(wrapped []byte) (uint32, error) {
	if len(wrapped) != WrappedDEKSize {
		return 0, ErrMalformedWrappedDEK
	}
	return binary.BigEndian.Uint32(wrapped[:4]), nil
}

// UnwrapDEK unwraps a wire-format wrapped DEK under kek, which must be the
// epoch KEK matching the wrapped DEK's prefix.
func UnwrapDEK(kek []byte, wrapped []byte) ([]byte, error) {
	if len(wrapped) != WrappedDEKSize {
		return nil, ErrMalformedWrappedDEK
	}
	return UnwrapKey(kek, wrapped[4:])
}
