package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// fakeAdapter is an in-memory DNS provider for reconciler tests.
type fakeAdapter struct {
	mu      sync.Mutex
	name    string
	records map[string]record.ProviderRecord
	nextID  int
	caps    map[provider.Capability]bool

	// regenerateID makes UpdateRecord assign a fresh external id, the way
	// providers that delete-and-recreate on edit behave.
	regenerateID bool

	listErr   error
	createErr func(r record.Record) error

	// mutations logs every create/update/delete with its external id.
	mutations []string
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		records: make(map[string]record.ProviderRecord),
		caps: map[provider.Capability]bool{
			provider.CapabilityComments: true,
		},
	}
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Type() string { return "fake" }

func (f *fakeAdapter) Init(ctx context.Context) error { return nil }

func (f *fakeAdapter) Supports(cap provider.Capability) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[cap]
}

func (f *fakeAdapter) ListRecords(ctx context.Context, filter *provider.ListFilter) ([]record.ProviderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]record.ProviderRecord, 0, len(f.records))
	for _, pr := range f.records {
		if filter == nil || filter.Matches(pr.Record) {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (f *fakeAdapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(r); err != nil {
			return record.ProviderRecord{}, err
		}
	}
	for _, pr := range f.records {
		if pr.Type == r.Type && pr.Name == record.NormalizeName(r.Name) && pr.Content == r.Content {
			return record.ProviderRecord{}, provider.WrapError(f.name, "create", provider.ErrConflict)
		}
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.name, f.nextID)
	canon, err := record.Canonicalize(r)
	if err != nil {
		return record.ProviderRecord{}, err
	}
	pr := record.ProviderRecord{Record: canon, ProviderID: f.name, ExternalID: id}
	f.records[id] = pr
	f.mutations = append(f.mutations, "create:"+id)
	return pr, nil
}

func (f *fakeAdapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[externalID]; !ok {
		return record.ProviderRecord{}, provider.WrapError(f.name, "update", provider.ErrNotFound)
	}
	canon, err := record.Canonicalize(r)
	if err != nil {
		return record.ProviderRecord{}, err
	}
	id := externalID
	if f.regenerateID {
		delete(f.records, externalID)
		f.nextID++
		id = fmt.Sprintf("%s-%d", f.name, f.nextID)
	}
	pr := record.ProviderRecord{Record: canon, ProviderID: f.name, ExternalID: id}
	f.records[id] = pr
	f.mutations = append(f.mutations, "update:"+id)
	return pr, nil
}

func (f *fakeAdapter) DeleteRecord(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Idempotent: unknown ids succeed.
	delete(f.records, externalID)
	f.mutations = append(f.mutations, "delete:"+externalID)
	return nil
}

// seed installs a record directly, bypassing the mutation log.
func (f *fakeAdapter) seed(id string, r record.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.Name = record.NormalizeName(r.Name)
	f.records[id] = record.ProviderRecord{Record: r, ProviderID: f.name, ExternalID: id}
}

func (f *fakeAdapter) mutationLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.mutations))
	copy(out, f.mutations)
	return out
}

var _ provider.Adapter = (*fakeAdapter)(nil)

// harness wires a fake adapter, an in-memory store, and a reconciler.
type harness struct {
	store     *store.Store
	providers *provider.Registry
	adapter   *fakeAdapter
	rec       *Reconciler
}

func newHarness(t *testing.T, providerID string) *harness {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fa := newFakeAdapter(providerID)
	reg := provider.NewRegistry(nil)
	reg.RegisterFactory("fake", func(desc provider.Descriptor) (provider.Adapter, error) {
		return fa, nil
	})
	if err := reg.CreateInstance(provider.Descriptor{
		ID:      providerID,
		Type:    "fake",
		Enabled: true,
	}); err != nil {
		t.Fatalf("creating instance: %v", err)
	}

	rec := New(st, reg, WithConfig(Config{
		CacheTTL:    time.Nanosecond, // every cycle re-lists the provider
		GraceWindow: 200 * time.Millisecond,
		Concurrency: 2,
	}))

	return &harness{store: st, providers: reg, adapter: fa, rec: rec}
}

func desiredA(name, ip string, ttl int) source.DesiredRecord {
	return source.DesiredRecord{
		Record:     record.Record{Type: record.TypeA, Name: name, Content: ip, TTL: ttl},
		SourceName: "test",
	}
}

func desiredCNAME(name, target string) source.DesiredRecord {
	return source.DesiredRecord{
		Record:     record.Record{Type: record.TypeCNAME, Name: name, Content: target, TTL: record.TTLAuto},
		SourceName: "test",
	}
}

func (h *harness) reconcile(t *testing.T, desired ...source.DesiredRecord) *Result {
	t.Helper()
	res, err := h.rec.Reconcile(context.Background(), h.adapter.name, desired, CycleOptions{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return res
}
