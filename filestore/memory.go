package filestore

import "sync"

// memoryMetaStore implements MetaStore using an in-memory map, following
// the same mutex-guarded map shape as crypto/storage's in-memory key
// store. It is adequate for tests and single-process deployments; a
// durable implementation belongs in store/.
type memoryMetaStore struct {
	mu   sync.RWMutex
	rows map[string]Meta
}

// NewMemoryMetaStore returns an in-memory MetaStore.
func NewMemoryMetaStore() MetaStore {
	return &memoryMetaStore{rows: make(map[string]Meta)}
}

func (s *memoryMetaStore) Get(spaceID, fileID string) (Meta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[metaKey(spaceID, fileID)]
	return m, ok
}

func (s *memoryMetaStore) Put(m Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[metaKey(m.SpaceID, m.FileID)] = m
	return nil
}

func (s *memoryMetaStore) Delete(spaceID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, metaKey(spaceID, fileID))
	return nil
}

func (s *memoryMetaStore) Pending() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Meta
	for _, m := range s.rows {
		if m.UploadStatus == StatusPending || m.UploadStatus == StatusError {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryMetaStore) All() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Meta, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m)
	}
	return out, nil
}

// memoryBlobStore implements BlobStore using an in-memory map.
type memoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore returns an in-memory BlobStore.
func NewMemoryBlobStore() BlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *memoryBlobStore) Get(spaceID, fileID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[metaKey(spaceID, fileID)]
	return b, ok
}

func (s *memoryBlobStore) Put(spaceID, fileID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[metaKey(spaceID, fileID)] = cp
	return nil
}

func (s *memoryBlobStore) Delete(spaceID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, metaKey(spaceID, fileID))
	return nil
}
