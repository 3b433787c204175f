package store

import (
	"context"
	"strconv"
	"sync"
)

// memContentStore is an in-memory ContentStore fake satisfying the real
// interface, the same pattern the teacher's tests/integration suite uses
// for its in-memory RemoteCache fake.
type memContentStore struct {
	mu      sync.Mutex
	data    []byte
	sha     string
	version int

	// failPutsWithConflict, when > 0, makes the next N Put calls fail with
	// ErrConflict regardless of the supplied precondition, to exercise
	// Store.Flush's merge-retry path.
	failPutsWithConflict int

	// failPutsWithErr, when set, makes every subsequent Put call fail with
	// this non-conflict error, to exercise Store.Flush's fatal-write path.
	failPutsWithErr error
}

func newMemContentStore() *memContentStore {
	return &memContentStore{}
}

func (m *memContentStore) Get(ctx context.Context, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), m.sha, nil
}

func (m *memContentStore) Put(ctx context.Context, path string, data []byte, sha string, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPutsWithErr != nil {
		return "", m.failPutsWithErr
	}

	if m.failPutsWithConflict > 0 {
		m.failPutsWithConflict--
		return "", ErrConflict
	}

	if sha != m.sha {
		return "", ErrConflict
	}

	m.data = append([]byte(nil), data...)
	m.version++
	m.sha = strconv.Itoa(m.version)
	return m.sha, nil
}
