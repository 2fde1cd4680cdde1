package filestore

import (
	"context"
	"fmt"

	"github.com/syncspace/engine/crypto"
)

// processQueue drains every pending/error entry once. It is single-flight
// per FileStore instance, so concurrent callers collapse onto one pass;
// queueLoop, woken by the ticker or by Invalidate, is its only caller.
func (fs *FileStore) processQueue(ctx context.Context) {
	_, _, _ = fs.queueFlight.Do("drain", func() (any, error) {
		fs.drainOnce(ctx)
		return nil, nil
	})
}

func (fs *FileStore) drainOnce(ctx context.Context) {
	if fs.cfg.Transport == nil {
		return
	}

	pending, err := fs.cfg.Meta.Pending()
	if err != nil {
		return
	}

	for _, m := range pending {
		fs.uploadOne(ctx, m)
	}
}

func (fs *FileStore) uploadOne(ctx context.Context, m Meta) {
	m.UploadStatus = StatusUploading
	_ = fs.cfg.Meta.Put(m)

	if err := fs.uploadBody(ctx, m); err != nil {
		m.UploadStatus = StatusError
		m.Attempts++
		_ = fs.cfg.Meta.Put(m)
		return
	}

	m.UploadStatus = StatusNone
	m.Attempts = 0
	_ = fs.cfg.Meta.Put(m)
}

func (fs *FileStore) uploadBody(ctx context.Context, m Meta) error {
	if fs.cfg.EnsureSynced != nil {
		if err := fs.cfg.EnsureSynced(ctx, m.SpaceID, m.RecordID); err != nil {
			return fmt.Errorf("filestore: ensure synced: %w", err)
		}
	}

	plain, ok := fs.cfg.Blobs.Get(m.SpaceID, m.FileID)
	if !ok {
		return fmt.Errorf("filestore: blob missing for %s/%s", m.SpaceID, m.FileID)
	}

	if fs.cfg.KEK == nil {
		return fmt.Errorf("filestore: no KEK source configured")
	}
	epoch, kek, err := fs.cfg.KEK.CurrentKEK(m.SpaceID)
	if err != nil {
		return fmt.Errorf("filestore: current kek: %w", err)
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return err
	}
	defer crypto.Zero(dek)

	aad := fileAAD(m.SpaceID, m.FileID)
	ciphertext, err := crypto.Seal(dek, aad, plain)
	if err != nil {
		return fmt.Errorf("filestore: seal: %w", err)
	}

	wrapped, err := crypto.WrapDEK(kek, uint32(epoch), dek)
	if err != nil {
		return fmt.Errorf("filestore: wrap dek: %w", err)
	}

	if err := fs.cfg.Transport.Upload(ctx, m.SpaceID, m.FileID, UploadedDEK{
		Ciphertext: ciphertext,
		WrappedDEK: wrapped,
	}); err != nil {
		return fmt.Errorf("filestore: upload: %w", err)
	}
	return nil
}

func fileAAD(spaceID, fileID string) []byte {
	aad := make([]byte, 0, len(spaceID)+1+len(fileID))
	aad = append(aad, spaceID...)
	aad = append(aad, 0x00)
	aad = append(aad, fileID...)
	return aad
}
