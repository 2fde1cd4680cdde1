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
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxEpochGap bounds how far an epoch derivation may walk forward from a
// cached ancestor. Guards against a malicious or corrupted wrapped-DEK
// epoch prefix forcing unbounded HKDF work.
const MaxEpochGap = 1000

var (
	// ErrBackwardDerivation is returned when a caller asks for a key at an
	// epoch older than the known base epoch.
	ErrBackwardDerivation = errors.New("crypto: backward epoch derivation forbidden")
	// ErrEpochGapTooLarge is returned when the requested epoch is more than
	// MaxEpochGap steps ahead of the nearest known ancestor.
	ErrEpochGapTooLarge = errors.New("crypto: epoch gap too large")
)

// DeriveEpochKey computes K_e = HKDF-SHA-256(K_prev, salt=spaceID, info="epoch/"+e, 32).
// prev must be the key at epoch-1; callers walk the chain one step at a time.
func DeriveEpochKey(prev []byte, spaceID string, epoch uint64) ([]byte, error) {
	info := fmt.Sprintf("epoch/%d", epoch)
	return hkdfExpand(prev, []byte(spaceID), []byte(info))
}

// DeriveChannelKey computes the ephemeral presence/event channel key for an
// epoch key: HKDF(K_e, salt=spaceID, info="channel", 32).
func DeriveChannelKey(epochKey []byte, spaceID string) ([]byte, error) {
	return hkdfExpand(epochKey, []byte(spaceID), []byte("channel"))
}

func hkdfExpand(secret, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out, nil
}

// ForwardDeriveChain walks the epoch chain from (baseEpoch, baseKey) up to
// targetEpoch, returning the key at targetEpoch. It enforces the
// backward-derivation and gap-size invariants required of every KEK cache.
func ForwardDeriveChain(baseKey []byte, spaceID string, baseEpoch, targetEpoch uint64) ([]byte, error) {
	if targetEpoch < baseEpoch {
		return nil, ErrBackwardDerivation
	}
	if targetEpoch-baseEpoch > MaxEpochGap {
		return nil, ErrEpochGapTooLarge
	}

	cur := Clone(baseKey)
	for e := baseEpoch + 1; e <= targetEpoch; e++ {
		next, err := DeriveEpochKey(cur, spaceID, e)
		if err != nil {
			Zero(cur)
			return nil, err
		}
		Zero(cur)
		cur = next
	}
	return cur, nil
}
