package filestore

import (
	"context"
	"fmt"
	"time"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/epoch"
)

// Get returns fileID's decrypted bytes. A local hit never touches the
// network. A miss falls through to a single-flight remote fetch when a
// Transport is configured; with none configured a miss returns
// ErrNotFound rather than blocking forever.
func (fs *FileStore) Get(ctx context.Context, spaceID, fileID string) ([]byte, error) {
	if data, ok := fs.cfg.Blobs.Get(spaceID, fileID); ok {
		fs.touch(spaceID, fileID)
		return data, nil
	}

	if fs.cfg.Transport == nil {
		return nil, ErrNotFound
	}

	key := metaKey(spaceID, fileID)
	v, err, _ := fs.fetchFlight.Do(key, func() (any, error) {
		return fs.fetchAndDecrypt(ctx, spaceID, fileID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (fs *FileStore) fetchAndDecrypt(ctx context.Context, spaceID, fileID string) ([]byte, error) {
	body, err := fs.cfg.Transport.Download(ctx, spaceID, fileID)
	if err != nil {
		return nil, err
	}

	wrappedEpoch, err := crypto.PeekWrappedDEKEpoch(body.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("filestore: peek wrapped dek: %w", err)
	}

	kek, err := fs.forwardKEK(spaceID, uint64(wrappedEpoch))
	if err != nil {
		return nil, fmt.Errorf("filestore: derive kek: %w", err)
	}

	dek, err := crypto.UnwrapDEK(kek, body.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("filestore: unwrap dek: %w", err)
	}
	defer crypto.Zero(dek)

	aad := fileAAD(spaceID, fileID)
	plain, err := crypto.Open(dek, aad, body.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("filestore: open: %w", err)
	}

	if err := fs.cfg.Blobs.Put(spaceID, fileID, plain); err != nil {
		return nil, err
	}
	_ = fs.cfg.Meta.Put(Meta{
		SpaceID:    spaceID,
		FileID:     fileID,
		Size:       int64(len(plain)),
		LastAccess: time.Now(),
	})
	fs.scheduleEviction()

	return plain, nil
}

// forwardKEK derives the KEK at targetEpoch using a destructive linear
// cache: unlike transport.SyncTransport (which retains every intermediate
// epoch key for arbitrary-order record decryption), FileStore is
// personal-space only, where DEK epochs arrive monotonically
// non-decreasing across downloads. So only the single most-advanced
// (epoch, key) pair is ever kept; deriving forward replaces it in place
// and zeroes the superseded key.
func (fs *FileStore) forwardKEK(spaceID string, targetEpoch uint64) ([]byte, error) {
	fs.kekMu.Lock()
	defer fs.kekMu.Unlock()

	state, ok := fs.kekCur[spaceID]
	if !ok {
		if fs.cfg.KEK == nil {
			return nil, fmt.Errorf("filestore: no KEK source configured")
		}
		baseEpoch, baseKEK, err := fs.cfg.KEK.CurrentKEK(spaceID)
		if err != nil {
			return nil, err
		}
		state = &epoch.LocalState{}
		epoch.CommitLocalState(state, baseKEK, baseEpoch)
		fs.kekCur[spaceID] = state
	}

	if targetEpoch == state.Epoch {
		return crypto.Clone(state.Key), nil
	}

	derived, err := crypto.ForwardDeriveChain(state.Key, spaceID, state.Epoch, targetEpoch)
	if err != nil {
		return nil, err
	}
	epoch.CommitLocalState(state, derived, targetEpoch)
	crypto.Zero(derived)
	return crypto.Clone(state.Key), nil
}

func (fs *FileStore) touch(spaceID, fileID string) {
	m, ok := fs.cfg.Meta.Get(spaceID, fileID)
	if !ok {
		return
	}
	m.LastAccess = time.Now()
	_ = fs.cfg.Meta.Put(m)
}
