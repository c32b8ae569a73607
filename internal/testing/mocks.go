package testing

import (
	"context"
	"sync"

	"github.com/amats/amats/internal/docstore"
)

// MockBackend wraps a docstore.Backend and injects errors per operation.
// Operations without an injected error are passed to the wrapped backend.
type MockBackend struct {
	docstore.Backend

	mu     sync.RWMutex
	errs   map[string]error
	calls  map[string]int
	closed bool
}

// Backend operation names accepted by SetError
const (
	OpCreate = "create"
	OpSet    = "set"
	OpGet    = "get"
	OpDelete = "delete"
	OpQuery  = "query"
	OpPing   = "ping"
)

// NewMockBackend creates a mock around inner
func NewMockBackend(inner docstore.Backend) *MockBackend {
	return &MockBackend{
		Backend: inner,
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetError makes op fail with err; a nil err clears it
func (m *MockBackend) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls returns how many times op was called
func (m *MockBackend) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Closed reports whether Close was called
func (m *MockBackend) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MockBackend) call(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.errs[op]
}

func (m *MockBackend) Create(ctx context.Context, coll docstore.Path, id string, doc docstore.Document) error {
	if err := m.call(OpCreate); err != nil {
		return err
	}
	return m.Backend.Create(ctx, coll, id, doc)
}

func (m *MockBackend) Set(ctx context.Context, coll docstore.Path, id string, doc docstore.Document) error {
	if err := m.call(OpSet); err != nil {
		return err
	}
	return m.Backend.Set(ctx, coll, id, doc)
}

func (m *MockBackend) Get(ctx context.Context, coll docstore.Path, id string) (docstore.Document, bool, error) {
	if err := m.call(OpGet); err != nil {
		return nil, false, err
	}
	return m.Backend.Get(ctx, coll, id)
}

func (m *MockBackend) Delete(ctx context.Context, coll docstore.Path, id string) error {
	if err := m.call(OpDelete); err != nil {
		return err
	}
	return m.Backend.Delete(ctx, coll, id)
}

// Query fails on the first Next when an error is injected, like a query rejected by the server
func (m *MockBackend) Query(ctx context.Context, coll docstore.Path, q docstore.Query) docstore.Iterator {
	if err := m.call(OpQuery); err != nil {
		return &failingIterator{err: err}
	}
	return m.Backend.Query(ctx, coll, q)
}

func (m *MockBackend) Ping(ctx context.Context) error {
	if err := m.call(OpPing); err != nil {
		return err
	}
	return m.Backend.Ping(ctx)
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Backend.Close()
}

type failingIterator struct {
	err error
}

func (f *failingIterator) Next() (docstore.Snapshot, error) {
	return docstore.Snapshot{}, f.err
}

func (f *failingIterator) Stop() {}
