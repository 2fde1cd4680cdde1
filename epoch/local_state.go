package epoch

import "github.com/syncspace/engine/crypto"

// LocalState is the per-space key material a caller (typically the space
// manager) keeps alongside a rotation. CommitLocalState mutates it in
// place following an ordering rule that avoids a reference-aliasing bug:
// newKey is first cloned into a fresh buffer and stored in the slot, and
// only then is the previous buffer zeroed. The zero step never touches the
// stored clone, even when the caller's newKey shares memory with the old
// key.
type LocalState struct {
	Key   []byte
	Epoch uint64
}

// CommitLocalState atomically replaces s's key material with newKey at
// newEpoch. It clones newKey so the caller's buffer remains independently
// owned, then zeroes the previous key — in that order, so the previous
// key's buffer and the new key's buffer never alias.
func CommitLocalState(s *LocalState, newKey []byte, newEpoch uint64) {
	old := s.Key
	cloned := crypto.Clone(newKey)

	s.Key = cloned
	s.Epoch = newEpoch

	if old != nil {
		crypto.Zero(old)
	}
}
