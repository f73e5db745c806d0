package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/yanqian/truthcard/internal/domain/session"
)

// Memory keeps blobs in process. Uploads vanish on restart, which suits local
// development and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

type blob struct {
	data     []byte
	mimeType string
	etag     string
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]blob)}
}

// Put stores a copy of data under key.
func (s *Memory) Put(_ context.Context, key string, data []byte, mimeType string) (session.StoredObject, error) {
	sum := md5.Sum(data)
	b := blob{data: append([]byte(nil), data...), mimeType: mimeType, etag: hex.EncodeToString(sum[:])}
	s.mu.Lock()
	s.blobs[key] = b
	s.mu.Unlock()
	return session.StoredObject{Key: key, Size: int64(len(data)), MimeType: mimeType, ETag: b.etag}, nil
}

// Delete removes key. Unknown keys are not an error.
func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Keys lists stored keys with the given prefix, sorted.
func (s *Memory) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

var _ session.ObjectStorage = (*Memory)(nil)
