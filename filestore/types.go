// Package filestore implements the local-first encrypted blob cache: a
// shared store for binary attachments keyed by (space, file id), an
// offline upload queue, a lazy fetch-and-decrypt download path, and
// size-bounded LRU eviction. The queue is drained on a fixed 30-second
// tick or on Invalidate; a failed upload increments Attempts and is
// retried on the next pass, with no backoff between attempts. It is
// always on — callers can
// Put and Get before any space is synced — and only needs a Transport to
// actually move bytes once one is wired in.
package filestore

import (
	"context"
	"errors"
	"time"
)

// UploadStatus tracks where a put blob is in the offline upload queue.
type UploadStatus string

const (
	// StatusNone means the blob has no pending upload (either it was
	// never linked to a record, or the upload already completed).
	StatusNone      UploadStatus = ""
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusError     UploadStatus = "error"
)

// ErrNotFound is returned by Get when a file id has no local blob and
// either no Transport is configured or the remote copy doesn't exist.
var ErrNotFound = errors.New("filestore: file not found")

// Meta is the lightweight per-file record kept alongside the blob. Key is
// spaceID + 0x00 + fileID, matching the wire AAD convention so the same
// compound key can double as the encryption AAD.
type Meta struct {
	SpaceID      string
	FileID       string
	RecordID     string
	Size         int64
	LastAccess   time.Time
	UploadStatus UploadStatus
	Attempts     int
}

func metaKey(spaceID, fileID string) string {
	return spaceID + "\x00" + fileID
}

// MetaStore persists Meta rows. Implementations must be safe for
// concurrent use.
type MetaStore interface {
	Get(spaceID, fileID string) (Meta, bool)
	Put(m Meta) error
	Delete(spaceID, fileID string) error
	// Pending returns every entry whose UploadStatus is "pending" or
	// "error", in no particular order.
	Pending() ([]Meta, error)
	// All returns every entry, for eviction accounting.
	All() ([]Meta, error)
}

// BlobStore persists raw blob bytes. FileStore always stores plaintext
// here: local puts are kept as given, and downloaded bodies are decrypted
// before they are cached.
type BlobStore interface {
	Get(spaceID, fileID string) ([]byte, bool)
	Put(spaceID, fileID string, data []byte) error
	Delete(spaceID, fileID string) error
}

// UploadedDEK is what Transport.Upload needs to finish a file body:
// AEAD ciphertext plus its epoch-wrapped DEK.
type UploadedDEK struct {
	Ciphertext []byte
	WrappedDEK []byte
}

// Transport is the RPC surface the upload queue and download path drive:
// file_deks-style upload/download of encrypted blobs, mirroring the
// record push/pull wire methods.
type Transport interface {
	Upload(ctx context.Context, spaceID, fileID string, body UploadedDEK) error
	Download(ctx context.Context, spaceID, fileID string) (UploadedDEK, error)
}

// EnsureSyncedFunc blocks until recordID's own record has been pushed, so
// a file upload never races ahead of the record that references it.
type EnsureSyncedFunc func(ctx context.Context, spaceID, recordID string) error

// KEKSource resolves the epoch key-encryption-key material FileStore
// needs on both ends of the pipe: the *current* epoch and key to wrap a
// fresh DEK under on upload, and a forward-derivable base (epoch, key)
// to unwrap a downloaded DEK whose epoch prefix may be ahead of what the
// caller last saw.
type KEKSource interface {
	CurrentKEK(spaceID string) (epoch uint64, kek []byte, err error)
}
