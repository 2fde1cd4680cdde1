package filestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syncspace/engine/epoch"
)

// Config wires a FileStore's storage and transport collaborators.
// Transport, EnsureSynced, and KEK may all be left nil: the store still
// serves local Put/Get, it just never drains the upload queue or fetches
// a remote miss.
type Config struct {
	Meta          MetaStore
	Blobs         BlobStore
	Transport     Transport
	EnsureSynced  EnsureSyncedFunc
	KEK           KEKSource
	MaxCacheBytes int64
}

// FileStore is the local-first encrypted blob cache for one shared local
// database. One instance is process-wide; spaces are distinguished by
// the spaceID half of every key, not by separate instances.
type FileStore struct {
	cfg Config

	queueFlight singleflight.Group
	fetchFlight singleflight.Group
	evictFlight singleflight.Group

	kekMu  sync.Mutex
	kekCur map[string]*epoch.LocalState // spaceID -> destructive linear forward-derivation cache

	urls *urlCache

	invalidate chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New constructs a FileStore and starts its background upload-queue
// worker. Call Close to stop the worker; Close is idempotent.
func New(cfg Config) *FileStore {
	fs := &FileStore{
		cfg:        cfg,
		kekCur:     make(map[string]*epoch.LocalState),
		urls:       newURLCache(50),
		invalidate: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	fs.wg.Add(1)
	go fs.queueLoop()
	return fs
}

// Close stops the background upload-queue worker. It does not touch any
// stored blob or meta row.
func (fs *FileStore) Close() {
	fs.stopOnce.Do(func() { close(fs.stop) })
	fs.wg.Wait()
}

// Put always succeeds locally: it writes the blob and meta row to the
// local stores, and if recordID is non-empty marks the entry pending in
// the upload queue and wakes the queue worker. The parent record itself
// is synced separately by the adapter that owns it; ensureSynced (if
// configured) is what the queue worker waits on before uploading.
func (fs *FileStore) Put(spaceID, fileID string, data []byte, recordID string) error {
	if err := fs.cfg.Blobs.Put(spaceID, fileID, data); err != nil {
		return fmt.Errorf("filestore: put blob: %w", err)
	}

	m := Meta{
		SpaceID:    spaceID,
		FileID:     fileID,
		RecordID:   recordID,
		Size:       int64(len(data)),
		LastAccess: time.Now(),
	}
	if recordID != "" {
		m.UploadStatus = StatusPending
	}
	if err := fs.cfg.Meta.Put(m); err != nil {
		return fmt.Errorf("filestore: put meta: %w", err)
	}

	fs.Invalidate()
	fs.scheduleEviction()
	return nil
}

// Invalidate wakes the upload-queue worker immediately (e.g. on network
// reconnect) instead of waiting for its next scheduled pass.
func (fs *FileStore) Invalidate() {
	select {
	case fs.invalidate <- struct{}{}:
	default:
	}
}

func (fs *FileStore) queueLoop() {
	defer fs.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		fs.processQueue(context.Background())
		select {
		case <-fs.invalidate:
		case <-ticker.C:
		case <-fs.stop:
			return
		}
	}
}
