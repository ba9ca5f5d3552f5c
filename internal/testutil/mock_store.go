package testutil

import (
	"sync"
	"time"

	"github.com/fishfish-gg/fishfish-go/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	domains map[string]storage.DomainRecord
	urls    map[string]storage.URLRecord

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		domains: make(map[string]storage.DomainRecord),
		urls:    make(map[string]storage.URLRecord),
		errors:  make(map[string]error),
		Size:    1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// --- Domain mirror ----------------------------------------------------------

func (m *MockStore) GetDomain(name string) (*storage.DomainRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetDomain"); err != nil {
		return nil, err
	}
	rec, ok := m.domains[name]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MockStore) PutDomain(rec storage.DomainRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutDomain"); err != nil {
		return err
	}
	if rec.MirroredAt.IsZero() {
		rec.MirroredAt = time.Now().UTC()
	}
	m.domains[rec.Name] = rec
	return nil
}

func (m *MockStore) DeleteDomain(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("DeleteDomain"); err != nil {
		return err
	}
	delete(m.domains, name)
	return nil
}

func (m *MockStore) Domains() (map[string]storage.DomainRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Domains"); err != nil {
		return nil, err
	}
	result := make(map[string]storage.DomainRecord, len(m.domains))
	for k, v := range m.domains {
		result[k] = v
	}
	return result, nil
}

// --- URL mirror -------------------------------------------------------------

func (m *MockStore) GetURL(raw string) (*storage.URLRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetURL"); err != nil {
		return nil, err
	}
	rec, ok := m.urls[raw]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MockStore) PutURL(rec storage.URLRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PutURL"); err != nil {
		return err
	}
	if rec.MirroredAt.IsZero() {
		rec.MirroredAt = time.Now().UTC()
	}
	m.urls[rec.URL] = rec
	return nil
}

func (m *MockStore) DeleteURL(raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("DeleteURL"); err != nil {
		return err
	}
	delete(m.urls, raw)
	return nil
}

func (m *MockStore) URLs() (map[string]storage.URLRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("URLs"); err != nil {
		return nil, err
	}
	result := make(map[string]storage.URLRecord, len(m.urls))
	for k, v := range m.urls {
		result[k] = v
	}
	return result, nil
}

// --- Maintenance ------------------------------------------------------------

func (m *MockStore) Counts() (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Counts"); err != nil {
		return 0, 0, err
	}
	return len(m.domains), len(m.urls), nil
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
