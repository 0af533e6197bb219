// Package blobstore reads and writes document bytes by object name.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store is a flat namespace of immutable-by-convention objects.
type Store interface {
	Get(ctx context.Context, object string) ([]byte, error)
	Put(ctx context.Context, object string, data []byte, contentType string) error
	// PutIfAbsent writes only when the object does not exist yet and reports
	// whether it wrote.
	PutIfAbsent(ctx context.Context, object string, data []byte, contentType string) (bool, error)
	// URI is the location other services use to reference the object.
	URI(object string) string
}

// SourceObject is where a document's original PDF is kept.
func SourceObject(documentID string) string {
	return documentID + "/source.pdf"
}

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore; bucket only affects URI.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, object string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[object]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, object)
	}
	return slices.Clone(b), nil
}

func (m *MemoryStore) Put(_ context.Context, object string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[object] = slices.Clone(data)
	return nil
}

func (m *MemoryStore) PutIfAbsent(_ context.Context, object string, data []byte, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[object]; ok {
		return false, nil
	}
	m.objects[object] = slices.Clone(data)
	return true, nil
}

func (m *MemoryStore) URI(object string) string {
	return "mem://" + m.bucket + "/" + object
}

// List returns object names under prefix, sorted.
func (m *MemoryStore) List(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, k := range slices.Sorted(maps.Keys(m.objects)) {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
