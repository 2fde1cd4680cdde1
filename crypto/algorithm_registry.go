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
	"errors"
	"sync"
)

// ErrAlgorithmNotSupported is returned when a key type has no registered algorithm.
var ErrAlgorithmNotSupported = errors.New("algorithm not supported")

// AlgorithmInfo describes a registered cryptographic algorithm and its
// capabilities.
type AlgorithmInfo struct {
	KeyType               KeyType
	Name                  string
	Description           string
	RFC9421Algorithm      string
	SupportsRFC9421       bool
	SupportsKeyGeneration bool
	SupportsSignature     bool
	SupportsEncryption    bool
}

var (
	algMu       sync.RWMutex
	algByType   = make(map[KeyType]AlgorithmInfo)
	algByRFC942 = make(map[string]KeyType)
)

// RegisterAlgorithm registers metadata for a key type. Re-registering the
// same key type overwrites the previous entry.
func RegisterAlgorithm(info AlgorithmInfo) error {
	algMu.Lock()
	defer algMu.Unlock()

	algByType[info.KeyType] = info
	if info.SupportsRFC9421 && info.RFC9421Algorithm != "" {
		algByRFC942[info.RFC9421Algorithm] = info.KeyType
	}
	return nil
}

// GetAlgorithmInfo returns the registered metadata for a key type.
func GetAlgorithmInfo(keyType KeyType) (AlgorithmInfo, error) {
	algMu.RLock()
	defer algMu.RUnlock()

	info, ok := algByType[keyType]
	if !ok {
		return AlgorithmInfo{}, ErrAlgorithmNotSupported
	}
	return info, nil
}

// ListSupportedAlgorithms returns a copy of all registered algorithm
// metadata. The returned slice is safe for the caller to mutate.
func ListSupportedAlgorithms() []AlgorithmInfo {
	algMu.RLock()
	defer algMu.RUnlock()

	out := make([]AlgorithmInfo, 0, len(algByType))
	for _, info := range algByType {
		out = append(out, info)
	}
	return out
}

// GetRFC9421AlgorithmName returns the RFC 9421 algorithm name for a key type.
func GetRFC9421AlgorithmName(keyType KeyType) (string, error) {
	info, err := GetAlgorithmInfo(keyType)
	if err != nil {
		return "", err
	}
	if !info.SupportsRFC9421 || info.RFC9421Algorithm == "" {
		return "", ErrAlgorithmNotSupported
	}
	return info.RFC9421Algorithm, nil
}

// GetKeyTypeFromRFC9421Algorithm reverse-looks-up a key type from an RFC 9421
// algorithm name.
func GetKeyTypeFromRFC9421Algorithm(rfc9421Alg string) (KeyType, error) {
	algMu.RLock()
	defer algMu.RUnlock()

	keyType, ok := algByRFC942[rfc9421Alg]
	if !ok {
		return "", ErrAlgorithmNotSupported
	}
	return keyType, nil
}

// ListRFC9421SupportedAlgorithms returns a copy of the registered RFC 9421
// algorithm names.
func ListRFC9421SupportedAlgorithms() []string {
	algMu.RLock()
	defer algMu.RUnlock()

	out := make([]string, 0, len(algByRFC942))
	for name := range algByRFC942 {
		out = append(out, name)
	}
	return out
}

// SupportsRFC9421 reports whether a key type is usable as an RFC 9421
// signature algorithm.
func SupportsRFC9421(keyType KeyType) bool {
	info, err := GetAlgorithmInfo(keyType)
	return err == nil && info.SupportsRFC9421
}

// SupportsKeyGeneration reports whether a key type can be generated.
func SupportsKeyGeneration(keyType KeyType) bool {
	info, err := GetAlgorithmInfo(keyType)
	return err == nil && info.SupportsKeyGeneration
}

// SupportsSignature reports whether a key type can sign/verify messages.
func SupportsSignature(keyType KeyType) bool {
	info, err := GetAlgorithmInfo(keyType)
	return err == nil && info.SupportsSignature
}

// IsAlgorithmSupported reports whether a key type has been registered at all.
func IsAlgorithmSupported(keyType KeyType) bool {
	_, err := GetAlgorithmInfo(keyType)
	return err == nil
}
