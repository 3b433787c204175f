package presence

import (
	"context"
	"strconv"
	"sync"

	"github.com/vatpac-currency/watchtower/store"
)

// memBackend is a minimal in-memory store.ContentStore fixture, mirroring
// the fake used by the store package's own tests.
type memBackend struct {
	mu      sync.Mutex
	data    []byte
	sha     string
	version int
}

func newMemBackend() *memBackend {
	return &memBackend{}
}

func (m *memBackend) Get(ctx context.Context, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), m.sha, nil
}

func (m *memBackend) Put(ctx context.Context, path string, data []byte, sha string, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sha != m.sha {
		return "", store.ErrConflict
	}
	m.data = append([]byte(nil), data...)
	m.version++
	m.sha = strconv.Itoa(m.version)
	return m.sha, nil
}
