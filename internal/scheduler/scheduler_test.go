package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// slowAdapter is an in-memory adapter whose ListRecords can be blocked,
// for exercising the single-writer lock.
type slowAdapter struct {
	mu      sync.Mutex
	name    string
	records map[string]record.ProviderRecord
	nextID  int

	listCalls atomic.Int32
	listGate  chan struct{} // when non-nil, ListRecords waits for a signal
}

func newSlowAdapter(name string) *slowAdapter {
	return &slowAdapter{name: name, records: make(map[string]record.ProviderRecord)}
}

func (a *slowAdapter) Name() string                      { return a.name }
func (a *slowAdapter) Type() string                      { return "fake" }
func (a *slowAdapter) Init(ctx context.Context) error    { return nil }
func (a *slowAdapter) Supports(provider.Capability) bool { return false }

func (a *slowAdapter) ListRecords(ctx context.Context, _ *provider.ListFilter) ([]record.ProviderRecord, error) {
	a.listCalls.Add(1)
	a.mu.Lock()
	gate := a.listGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]record.ProviderRecord, 0, len(a.records))
	for _, pr := range a.records {
		out = append(out, pr)
	}
	return out, nil
}

func (a *slowAdapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("%s-%d", a.name, a.nextID)
	canon, err := record.Canonicalize(r)
	if err != nil {
		return record.ProviderRecord{}, err
	}
	pr := record.ProviderRecord{Record: canon, ProviderID: a.name, ExternalID: id}
	a.records[id] = pr
	return pr, nil
}

func (a *slowAdapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	canon, err := record.Canonicalize(r)
	if err != nil {
		return record.ProviderRecord{}, err
	}
	pr := record.ProviderRecord{Record: canon, ProviderID: a.name, ExternalID: externalID}
	a.records[externalID] = pr
	return pr, nil
}

func (a *slowAdapter) DeleteRecord(ctx context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, externalID)
	return nil
}

var _ provider.Adapter = (*slowAdapter)(nil)

// stubSource serves a swappable desired set.
type stubSource struct {
	mu   sync.Mutex
	recs []source.DesiredRecord
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Snapshot(ctx context.Context) ([]source.DesiredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]source.DesiredRecord, len(s.recs))
	copy(out, s.recs)
	return out, nil
}

func (s *stubSource) set(recs ...source.DesiredRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = recs
}

type harness struct {
	store   *store.Store
	adapter *slowAdapter
	source  *stubSource
	sched   *Scheduler
}

func newHarness(t *testing.T, baseDomain string) *harness {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fa := newSlowAdapter("p1")
	preg := provider.NewRegistry(nil)
	preg.RegisterFactory("fake", func(desc provider.Descriptor) (provider.Adapter, error) {
		return fa, nil
	})
	if err := preg.CreateInstance(provider.Descriptor{
		ID:      "p1",
		Type:    "fake",
		Enabled: true,
		Settings: provider.Settings{
			BaseDomain: baseDomain,
		},
	}); err != nil {
		t.Fatal(err)
	}

	src := &stubSource{}
	sreg := source.NewRegistry(nil)
	if err := sreg.Register(src); err != nil {
		t.Fatal(err)
	}
	agg := source.NewAggregator(sreg)

	rec := reconciler.New(st, preg, reconciler.WithConfig(reconciler.Config{
		CacheTTL:    time.Nanosecond,
		GraceWindow: time.Hour,
		Concurrency: 2,
	}))

	sched := New(rec, preg, agg, st, WithConfig(Config{
		TickInterval:     time.Hour, // ticks never fire during tests
		DebounceInterval: 20 * time.Millisecond,
	}))

	return &harness{store: st, adapter: fa, source: src, sched: sched}
}

func desiredA(name, ip string) source.DesiredRecord {
	return source.DesiredRecord{
		Record:     record.Record{Type: record.TypeA, Name: name, Content: ip, TTL: 300},
		SourceName: "stub",
	}
}

func TestReconcileNow(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	res, err := h.sched.ReconcileNow(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ReconcileNow() error = %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", res.Succeeded)
	}
	if len(h.adapter.records) != 1 {
		t.Errorf("provider records = %d", len(h.adapter.records))
	}
	if got := h.sched.LastResult("p1"); got != res {
		t.Error("LastResult does not return the latest cycle")
	}
}

func TestBaseDomainRouting(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(
		desiredA("app.example.com", "1.1.1.1"), // routed by base domain
		desiredA("other.elsewhere.net", "2.2.2.2"), // no provider, skipped
	)

	res, err := h.sched.ReconcileNow(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Desired != 1 {
		t.Fatalf("desired routed to p1 = %d, want 1", res.Desired)
	}
	if res.Succeeded != 1 {
		t.Fatalf("succeeded = %d", res.Succeeded)
	}
}

func TestExplicitProviderRouting(t *testing.T) {
	h := newHarness(t, "example.com")

	pinned := desiredA("pin.elsewhere.net", "3.3.3.3")
	pinned.ProviderID = "p1"
	other := desiredA("foreign.example.com", "4.4.4.4")
	other.ProviderID = "p2" // explicitly someone else's, never routed here
	h.source.set(pinned, other)

	res, err := h.sched.ReconcileNow(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Desired != 1 {
		t.Fatalf("desired = %d, want only the pinned record", res.Desired)
	}
	if res.Plan.Creates[0].Record.Name != "pin.elsewhere.net" {
		t.Errorf("wrong record routed: %+v", res.Plan.Creates[0].Record)
	}
}

func TestSingleWriterCoalesces(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	gate := make(chan struct{})
	h.adapter.mu.Lock()
	h.adapter.listGate = gate
	h.adapter.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.ReconcileNow(context.Background(), "p1")
		done <- err
	}()

	// Wait until the first cycle is blocked inside the provider call.
	for i := 0; h.adapter.listCalls.Load() == 0 && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	_, err := h.sched.ReconcileNow(context.Background(), "p1")
	if !errors.Is(err, ErrReconcileInFlight) {
		t.Errorf("second call error = %v, want ErrReconcileInFlight", err)
	}

	h.adapter.mu.Lock()
	h.adapter.listGate = nil
	h.adapter.mu.Unlock()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
}

func TestPauseProducesDryRuns(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	h.sched.Pause("p1")
	if !h.sched.Paused("p1") {
		t.Fatal("Paused() = false after Pause")
	}

	res, err := h.sched.ReconcileNow(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Plan.Creates) != 1 {
		t.Fatalf("paused cycle should still plan: %+v", res.Plan)
	}
	if len(h.adapter.records) != 0 {
		t.Error("paused cycle mutated the provider")
	}

	h.sched.Resume("p1")
	res, err = h.sched.ReconcileNow(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("resumed cycle did not apply: %+v", res)
	}
}

func TestForceResync(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	if _, err := h.sched.ReconcileNow(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	res, err := h.sched.ForceResync(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Plan.Updates) != 1 {
		t.Errorf("forced resync updates = %d, want 1", len(res.Plan.Updates))
	}
}

func TestTriggerDebounce(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.sched.Stop()

	// Let the startup cycle settle.
	waitFor(t, func() bool { return h.sched.LastResult("p1") != nil })
	baseline := h.adapter.listCalls.Load()

	// A burst of triggers collapses into one cycle.
	h.sched.Trigger(ctx)
	h.sched.Trigger(ctx)
	h.sched.Trigger(ctx)

	waitFor(t, func() bool { return h.adapter.listCalls.Load() > baseline })
	time.Sleep(100 * time.Millisecond)

	if got := h.adapter.listCalls.Load() - baseline; got != 1 {
		t.Errorf("burst of triggers ran %d cycles, want 1", got)
	}
}

func TestStopDuringTriggerBurst(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.sched.LastResult("p1") != nil })

	// Keep debounce timers firing while Stop tears the scheduler down.
	// A timer that fires late must not launch workers into the stopped
	// scheduler's wait group.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.sched.Trigger(ctx)
			time.Sleep(time.Millisecond)
		}
	}()
	time.Sleep(25 * time.Millisecond)
	h.sched.Stop()
	<-done

	baseline := h.adapter.listCalls.Load()
	h.sched.Trigger(ctx)
	time.Sleep(3 * h.sched.config.DebounceInterval)
	if got := h.adapter.listCalls.Load(); got != baseline {
		t.Errorf("cycle ran after Stop: %d extra list calls", got-baseline)
	}
}

func TestDryRunRespectsSingleWriter(t *testing.T) {
	h := newHarness(t, "example.com")
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	gate := make(chan struct{})
	h.adapter.mu.Lock()
	h.adapter.listGate = gate
	h.adapter.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.ReconcileNow(context.Background(), "p1")
		done <- err
	}()
	for i := 0; h.adapter.listCalls.Load() == 0 && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	// A dry run must not refresh the cache underneath the running cycle.
	_, err := h.sched.DryRun(context.Background(), "p1")
	if !errors.Is(err, ErrReconcileInFlight) {
		t.Errorf("DryRun during cycle = %v, want ErrReconcileInFlight", err)
	}

	h.adapter.mu.Lock()
	h.adapter.listGate = nil
	h.adapter.mu.Unlock()
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	res, err := h.sched.DryRun(context.Background(), "p1")
	if err != nil {
		t.Fatalf("uncontended DryRun error = %v", err)
	}
	if res.Plan == nil || !res.Plan.Empty() {
		t.Errorf("dry run after a clean cycle should plan nothing: %+v", res.Plan)
	}
}

func TestOverridesFlowIntoCycle(t *testing.T) {
	h := newHarness(t, "example.com")
	ctx := context.Background()

	ttl := 42
	if err := h.store.UpsertOverride(ctx, store.Override{
		Hostname: "app.example.com",
		TTL:      &ttl,
		Enabled:  true,
	}); err != nil {
		t.Fatal(err)
	}
	h.source.set(desiredA("app.example.com", "1.2.3.4"))

	res, err := h.sched.ReconcileNow(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Plan.Creates[0].Record.TTL != 42 {
		t.Errorf("override TTL not applied: %d", res.Plan.Creates[0].Record.TTL)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
