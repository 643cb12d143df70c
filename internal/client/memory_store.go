package client

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/automlhub/api/internal/apperrors"
)

// MemoryStore is an in-process ObjectStore used when no object storage is
// configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

// Bucket returns the bucket name
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// Put creates or overwrites an object
func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("memory.Put", key, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return apperrors.Storage("memory.Put", key, err)
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, modified: time.Now()}
	m.mu.Unlock()
	return nil
}

// Get opens a copy of the object
func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Storage("memory.Get", key, err)
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.Storage("memory.Get", key, apperrors.NotFound("object", key))
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// List returns objects under prefix in key order
func (m *MemoryStore) List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Storage("memory.List", prefix, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !recursive {
			if i := strings.Index(key[len(prefix):], "/"); i >= 0 {
				p := key[:len(prefix)+i+1]
				if !seen[p] {
					seen[p] = true
					out = append(out, ObjectInfo{Key: p, IsPrefix: true})
				}
				continue
			}
		}
		out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes an object. Missing objects are not an error, as with S3.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("memory.Delete", key, err)
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// DeleteBatch removes many objects
func (m *MemoryStore) DeleteBatch(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("memory.DeleteBatch", m.bucket, err)
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	m.mu.Unlock()
	return nil
}

// Copy duplicates an object
func (m *MemoryStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("memory.Copy", srcKey, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[srcKey]
	if !ok {
		return apperrors.Storage("memory.Copy", srcKey, apperrors.NotFound("object", srcKey))
	}
	obj.data = bytes.Clone(obj.data)
	obj.modified = time.Now()
	m.objects[dstKey] = obj
	return nil
}

// EnsureBucket is a no-op
func (m *MemoryStore) EnsureBucket(ctx context.Context) error {
	return nil
}

// Keys returns every stored key in order
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
