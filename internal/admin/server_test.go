package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/scheduler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// fakeControl records calls and serves canned results.
type fakeControl struct {
	paused      map[string]bool
	last        map[string]*reconciler.Result
	reconcile   func(providerID string) (*reconciler.Result, error)
	forceResync int
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		paused: make(map[string]bool),
		last:   make(map[string]*reconciler.Result),
	}
}

func (f *fakeControl) ReconcileNow(_ context.Context, id string) (*reconciler.Result, error) {
	if f.reconcile != nil {
		return f.reconcile(id)
	}
	return &reconciler.Result{StartTime: time.Now(), EndTime: time.Now(), Succeeded: 1}, nil
}

func (f *fakeControl) DryRun(_ context.Context, id string) (*reconciler.Result, error) {
	return &reconciler.Result{StartTime: time.Now(), EndTime: time.Now()}, nil
}

func (f *fakeControl) ForceResync(_ context.Context, id string) (*reconciler.Result, error) {
	f.forceResync++
	return &reconciler.Result{StartTime: time.Now(), EndTime: time.Now()}, nil
}

func (f *fakeControl) Pause(id string)            { f.paused[id] = true }
func (f *fakeControl) Resume(id string)           { f.paused[id] = false }
func (f *fakeControl) Paused(id string) bool      { return f.paused[id] }
func (f *fakeControl) LastResult(id string) *reconciler.Result {
	return f.last[id]
}

var _ Control = (*fakeControl)(nil)

// nullAdapter satisfies the adapter contract for registry wiring.
type nullAdapter struct{ name string }

func (n *nullAdapter) Name() string                      { return n.name }
func (n *nullAdapter) Type() string                      { return "null" }
func (n *nullAdapter) Init(ctx context.Context) error    { return nil }
func (n *nullAdapter) Supports(provider.Capability) bool { return false }
func (n *nullAdapter) ListRecords(ctx context.Context, _ *provider.ListFilter) ([]record.ProviderRecord, error) {
	return nil, nil
}
func (n *nullAdapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	return record.ProviderRecord{}, nil
}
func (n *nullAdapter) UpdateRecord(ctx context.Context, id string, r record.Record) (record.ProviderRecord, error) {
	return record.ProviderRecord{}, nil
}
func (n *nullAdapter) DeleteRecord(ctx context.Context, id string) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeControl, *store.Store) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := provider.NewRegistry(nil)
	reg.RegisterFactory("null", func(desc provider.Descriptor) (provider.Adapter, error) {
		return &nullAdapter{name: desc.ID}, nil
	})
	if err := reg.CreateInstance(provider.Descriptor{ID: "p1", Type: "null", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	ctl := newFakeControl()
	return New(0, ctl, st, reg), ctl, st
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestReconcileEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/reconcile?provider=p1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results []resultView `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Succeeded != 1 {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestReconcileAllProviders(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/reconcile", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Results []resultView `json:"results"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("expected all enabled providers, got %+v", resp.Results)
	}
}

func TestReconcileCoalesced(t *testing.T) {
	s, ctl, _ := newTestServer(t)
	ctl.reconcile = func(string) (*reconciler.Result, error) {
		return nil, scheduler.ErrReconcileInFlight
	}

	rr := doRequest(t, s, http.MethodPost, "/api/v1/reconcile?provider=p1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Results []resultView `json:"results"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || !resp.Results[0].Coalesced {
		t.Errorf("coalesced flag missing: %+v", resp.Results)
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, target := range []string{
		"/api/v1/dry-run?provider=ghost",
		"/api/v1/pause?provider=ghost",
		"/api/v1/reconcile?provider=ghost",
	} {
		rr := doRequest(t, s, http.MethodPost, target, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rr.Code)
		}
	}
}

func TestMissingProviderParam(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/dry-run", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestPauseResume(t *testing.T) {
	s, ctl, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/pause?provider=p1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rr.Code)
	}
	if !ctl.Paused("p1") {
		t.Error("pause not forwarded to control")
	}

	rr = doRequest(t, s, http.MethodPost, "/api/v1/resume?provider=p1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rr.Code)
	}
	if ctl.Paused("p1") {
		t.Error("resume not forwarded to control")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, ctl, _ := newTestServer(t)
	ctl.paused["p1"] = true

	rr := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Providers []struct {
			Provider string `json:"provider"`
			Paused   bool   `json:"paused"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Providers) != 1 || !resp.Providers[0].Paused {
		t.Errorf("providers = %+v", resp.Providers)
	}
}

func TestOrphansAndClaim(t *testing.T) {
	s, _, st := newTestServer(t)
	ctx := context.Background()

	mr := store.ManagedRecord{
		Record:     record.Record{Type: record.TypeA, Name: "old.example.com", Content: "1.1.1.1"},
		ProviderID: "p1",
		ExternalID: "e1",
		Source:     store.SourceDiscovered,
		Managed:    false,
	}
	if err := st.Track(ctx, mr); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkOrphaned(ctx, "p1", "e1", time.Now()); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, s, http.MethodGet, "/api/v1/orphans?provider=p1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("orphans status = %d", rr.Code)
	}
	var resp struct {
		Orphans []managedView `json:"orphans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Orphans) != 1 || resp.Orphans[0].ExternalID != "e1" {
		t.Fatalf("orphans = %+v", resp.Orphans)
	}

	rr = doRequest(t, s, http.MethodPost, "/api/v1/claim?provider=p1&external_id=e1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("claim status = %d: %s", rr.Code, rr.Body.String())
	}
	managed, _ := st.IsManaged(ctx, "p1", "e1")
	if !managed {
		t.Error("claim did not set managed")
	}

	rr = doRequest(t, s, http.MethodPost, "/api/v1/release?provider=p1&external_id=e1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("release status = %d", rr.Code)
	}
	managed, _ = st.IsManaged(ctx, "p1", "e1")
	if managed {
		t.Error("release did not clear managed")
	}
}

func TestClaimDiscoveredRecord(t *testing.T) {
	s, _, st := newTestServer(t)
	ctx := context.Background()

	// The record exists only in the provider cache; no managed row yet.
	if err := st.UpsertCached(ctx, record.ProviderRecord{
		Record:     record.Record{Type: record.TypeA, Name: "legacy.example.com", Content: "2.2.2.2", TTL: 300},
		ProviderID: "p1",
		ExternalID: "ext-9",
	}); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, s, http.MethodPost, "/api/v1/claim?provider=p1&external_id=ext-9", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("claim status = %d: %s", rr.Code, rr.Body.String())
	}

	mr, err := st.GetManaged(ctx, "p1", "ext-9")
	if err != nil {
		t.Fatal(err)
	}
	if mr == nil {
		t.Fatal("claim did not track the cached record")
	}
	if !mr.Managed || mr.Source != store.SourceDiscovered {
		t.Errorf("claimed row = %+v", mr)
	}
	if mr.Name != "legacy.example.com" || mr.Content != "2.2.2.2" {
		t.Errorf("claimed row content = %+v", mr.Record)
	}
}

func TestClaimUnknownRecord(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/claim?provider=p1&external_id=ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"Hostname":"app.example.com","TTL":120,"Enabled":true,"Reason":"pin ttl"}`
	rr := doRequest(t, s, http.MethodPut, "/api/v1/overrides", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/overrides", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "app.example.com") {
		t.Errorf("override missing from listing: %s", rr.Body.String())
	}

	rr = doRequest(t, s, http.MethodDelete, "/api/v1/overrides?hostname=app.example.com", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/overrides", "")
	if strings.Contains(rr.Body.String(), "app.example.com") {
		t.Error("override survived delete")
	}
}

func TestUpsertOverrideValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := doRequest(t, s, http.MethodPut, "/api/v1/overrides", `{"TTL":60}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing hostname", rr.Code)
	}

	rr = doRequest(t, s, http.MethodPut, "/api/v1/overrides", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad json", rr.Code)
	}
}
