package filestore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncspace/engine/crypto"
)

// fakeTransport is an in-memory Transport double: Upload stores the
// ciphertext+wrapped DEK, Download hands it back.
type fakeTransport struct {
	uploaded map[string]UploadedDEK
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{uploaded: make(map[string]UploadedDEK)}
}

func (f *fakeTransport) Upload(ctx context.Context, spaceID, fileID string, body UploadedDEK) error {
	f.uploaded[metaKey(spaceID, fileID)] = body
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, spaceID, fileID string) (UploadedDEK, error) {
	body, ok := f.uploaded[metaKey(spaceID, fileID)]
	if !ok {
		return UploadedDEK{}, ErrNotFound
	}
	return body, nil
}

// fakeKEK always reports the same (epoch, key) pair for every space.
type fakeKEK struct {
	epoch uint64
	key   []byte
}

func (f *fakeKEK) CurrentKEK(spaceID string) (uint64, []byte, error) {
	return f.epoch, crypto.Clone(f.key), nil
}

func mustKEK(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.GenerateDEK()
	require.NoError(t, err)
	return k
}

func newTestStore(t *testing.T, transport Transport, maxBytes int64) *FileStore {
	t.Helper()
	fs := New(Config{
		Meta:          NewMemoryMetaStore(),
		Blobs:         NewMemoryBlobStore(),
		Transport:     transport,
		KEK:           &fakeKEK{epoch: 3, key: mustKEK(t)},
		MaxCacheBytes: maxBytes,
	})
	t.Cleanup(fs.Close)
	return fs
}

func TestPutThenGetReturnsLocalCopyWithoutTransport(t *testing.T) {
	fs := newTestStore(t, nil, 0)

	err := fs.Put("space-1", "file-1", []byte("hello"), "")
	require.NoError(t, err)

	data, err := fs.Get(context.Background(), "space-1", "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestGetMissWithoutTransportReturnsNotFound(t *testing.T) {
	fs := newTestStore(t, nil, 0)

	_, err := fs.Get(context.Background(), "space-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutWithRecordIDUploadsAndClearsQueueState(t *testing.T) {
	transport := newFakeTransport()
	fs := newTestStore(t, transport, 0)

	err := fs.Put("space-1", "file-1", []byte("attachment bytes"), "record-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, ok := fs.cfg.Meta.Get("space-1", "file-1")
		return ok && m.UploadStatus == StatusNone
	}, time.Second, 5*time.Millisecond)

	body, ok := transport.uploaded[metaKey("space-1", "file-1")]
	require.True(t, ok)
	assert.NotEmpty(t, body.Ciphertext)
	assert.Len(t, body.WrappedDEK, crypto.WrappedDEKSize)
}

func TestEnsureSyncedFailureMarksErrorAndIncrementsAttempts(t *testing.T) {
	transport := newFakeTransport()
	fs := New(Config{
		Meta:      NewMemoryMetaStore(),
		Blobs:     NewMemoryBlobStore(),
		Transport: transport,
		KEK:       &fakeKEK{epoch: 1, key: mustKEK(t)},
		EnsureSynced: func(ctx context.Context, spaceID, recordID string) error {
			return assertErr
		},
	})
	defer fs.Close()

	require.NoError(t, fs.Put("space-1", "file-1", []byte("data"), "record-1"))

	require.Eventually(t, func() bool {
		m, ok := fs.cfg.Meta.Get("space-1", "file-1")
		return ok && m.UploadStatus == StatusError && m.Attempts >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestGetMissFetchesDownloadsAndDecryptsThroughTransport(t *testing.T) {
	kek := mustKEK(t)
	uploaderKEK := &fakeKEK{epoch: 3, key: kek}
	transport := newFakeTransport()
	uploader := New(Config{
		Meta:      NewMemoryMetaStore(),
		Blobs:     NewMemoryBlobStore(),
		Transport: transport,
		KEK:       uploaderKEK,
	})
	require.NoError(t, uploader.Put("space-1", "file-1", []byte("remote bytes"), "record-1"))
	require.Eventually(t, func() bool {
		m, _ := uploader.cfg.Meta.Get("space-1", "file-1")
		return m.UploadStatus == StatusNone
	}, time.Second, 5*time.Millisecond)
	uploader.Close()

	// A fresh store instance with only the transport populated, no local
	// blob cached: Get must fetch, peek the epoch prefix, derive the KEK
	// forward from its own base, unwrap, and decrypt.
	downloader := New(Config{
		Meta:      NewMemoryMetaStore(),
		Blobs:     NewMemoryBlobStore(),
		Transport: transport,
		KEK:       &fakeKEK{epoch: 3, key: kek},
	})
	defer downloader.Close()

	data, err := downloader.Get(context.Background(), "space-1", "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote bytes"), data)

	// Second Get is a pure local hit, no second Download needed since the
	// decrypted plaintext was cached into Blobs on first fetch.
	delete(transport.uploaded, metaKey("space-1", "file-1"))
	data, err = downloader.Get(context.Background(), "space-1", "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote bytes"), data)
}

func TestForwardKEKCacheIsDestructiveAndMovesForwardOnly(t *testing.T) {
	fs := newTestStore(t, nil, 0)
	base := mustKEK(t)
	fs.cfg.KEK = &fakeKEK{epoch: 1, key: base}

	k1, err := fs.forwardKEK("space-1", 1)
	require.NoError(t, err)

	k2, err := fs.forwardKEK("space-1", 4)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	// The cache now sits at epoch 4; deriving forward to 4 again returns
	// the same key without walking the chain a second time.
	k3, err := fs.forwardKEK("space-1", 4)
	require.NoError(t, err)
	assert.Equal(t, k2, k3)

	// Asking for an epoch behind the cache's current position is the
	// forbidden backward case; FileStore's personal-space-only invariant
	// means this should never happen in practice, but the chain itself
	// still rejects it rather than silently deriving the wrong key.
	_, err = fs.forwardKEK("space-1", 2)
	assert.ErrorIs(t, err, crypto.ErrBackwardDerivation)
}

func TestEvictionPinsPendingUploadsAndDropsOldestClean(t *testing.T) {
	fs := newTestStore(t, nil, 10)

	require.NoError(t, fs.Put("space-1", "old", []byte("0123456789"), ""))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, fs.Put("space-1", "pending", []byte("0123456789"), "record-pinned"))

	require.Eventually(t, func() bool {
		_, oldOK := fs.cfg.Blobs.Get("space-1", "old")
		_, pendingOK := fs.cfg.Blobs.Get("space-1", "pending")
		return !oldOK && pendingOK
	}, time.Second, 5*time.Millisecond)
}

func TestURLForIsStableAndCapsAtFifty(t *testing.T) {
	fs := newTestStore(t, nil, 0)

	n := 0
	newHandle := func() string {
		n++
		return assertHandle(n)
	}

	first := fs.URLFor("space-1", "file-1", newHandle)
	second := fs.URLFor("space-1", "file-1", newHandle)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, n)

	for i := 0; i < 60; i++ {
		fs.URLFor("space-1", strconv.Itoa(i), newHandle)
	}
	assert.LessOrEqual(t, fs.urls.order.Len(), 50)
}

var assertErr = assertError("ensure synced failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func assertHandle(n int) string {
	return "handle-" + strconv.Itoa(n)
}
