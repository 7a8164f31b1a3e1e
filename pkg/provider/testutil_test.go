package provider

import (
	"context"
	"fmt"
	"sync"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// mockAdapter implements Adapter for testing. It stores records in memory
// and can be programmed to fail with a fixed error for n calls.
type mockAdapter struct {
	name     string
	typeName string
	caps     map[Capability]bool

	mu       sync.Mutex
	records  map[string]record.ProviderRecord // externalID -> record
	nextID   int
	initErr  error
	failWith error
	failLeft int
	calls    []string
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{
		name:     name,
		typeName: "mock",
		caps:     map[Capability]bool{CapabilityComments: true},
		records:  make(map[string]record.ProviderRecord),
	}
}

// failNext makes the next n operations return err before succeeding.
func (m *mockAdapter) failNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
	m.failLeft = n
}

func (m *mockAdapter) consumeFailure() error {
	if m.failLeft > 0 {
		m.failLeft--
		return m.failWith
	}
	return nil
}

func (m *mockAdapter) Name() string { return m.name }
func (m *mockAdapter) Type() string { return m.typeName }

func (m *mockAdapter) Init(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "init")
	if m.initErr != nil {
		return m.initErr
	}
	return m.consumeFailure()
}

func (m *mockAdapter) ListRecords(_ context.Context, filter *ListFilter) ([]record.ProviderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "list")
	if err := m.consumeFailure(); err != nil {
		return nil, err
	}
	var out []record.ProviderRecord
	for _, r := range m.records {
		if filter == nil || filter.Matches(r.Record) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAdapter) CreateRecord(_ context.Context, r record.Record) (record.ProviderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "create")
	if err := m.consumeFailure(); err != nil {
		return record.ProviderRecord{}, err
	}
	m.nextID++
	pr := record.ProviderRecord{
		Record:     r,
		ProviderID: m.name,
		ExternalID: fmt.Sprintf("ext-%d", m.nextID),
	}
	m.records[pr.ExternalID] = pr
	return pr, nil
}

func (m *mockAdapter) UpdateRecord(_ context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "update")
	if err := m.consumeFailure(); err != nil {
		return record.ProviderRecord{}, err
	}
	pr, ok := m.records[externalID]
	if !ok {
		return record.ProviderRecord{}, ErrNotFound
	}
	pr.Record = r
	m.records[externalID] = pr
	return pr, nil
}

func (m *mockAdapter) DeleteRecord(_ context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete")
	if err := m.consumeFailure(); err != nil {
		return err
	}
	delete(m.records, externalID)
	return nil
}

func (m *mockAdapter) Supports(cap Capability) bool {
	return m.caps[cap]
}

func (m *mockAdapter) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}
