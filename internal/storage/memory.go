package storage

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs without a bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	// FailPut, when set, is returned by every Put.
	FailPut error
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memObject{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[key] = memObject{data: cp, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return o.data, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	q := url.Values{"expires": {expiry.String()}}
	return "memory://" + key + "?" + q.Encode(), nil
}

// Keys lists stored keys in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
