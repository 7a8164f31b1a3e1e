package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/digitalocean/godo"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// fakeDomains is an in-memory godo domains service double.
type fakeDomains struct {
	domain  string
	getErr  error
	records map[int]godo.DomainRecord
	nextID  int
	perPage int
}

func newFakeDomains() *fakeDomains {
	return &fakeDomains{
		domain:  "example.com",
		records: make(map[int]godo.DomainRecord),
		perPage: 2,
	}
}

// apiError builds a godo error response the way the SDK surfaces one.
func apiError(status int) error {
	return &godo.ErrorResponse{
		Response: &http.Response{
			StatusCode: status,
			Request:    &http.Request{Method: "GET", URL: &url.URL{}},
		},
		Message: http.StatusText(status),
	}
}

func (f *fakeDomains) Get(_ context.Context, name string) (*godo.Domain, *godo.Response, error) {
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	if name != f.domain {
		return nil, nil, apiError(http.StatusNotFound)
	}
	return &godo.Domain{Name: name}, &godo.Response{}, nil
}

func (f *fakeDomains) Records(_ context.Context, domain string, opt *godo.ListOptions) ([]godo.DomainRecord, *godo.Response, error) {
	if domain != f.domain {
		return nil, nil, apiError(http.StatusNotFound)
	}
	var all []godo.DomainRecord
	for _, dr := range f.records {
		all = append(all, dr)
	}

	page := 1
	if opt != nil && opt.Page > 0 {
		page = opt.Page
	}
	start := (page - 1) * f.perPage
	end := start + f.perPage
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	resp := &godo.Response{}
	if end < len(all) {
		resp.Links = &godo.Links{Pages: &godo.Pages{Next: "next"}}
	}
	return all[start:end], resp, nil
}

func (f *fakeDomains) CreateRecord(_ context.Context, domain string, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error) {
	if domain != f.domain {
		return nil, nil, apiError(http.StatusNotFound)
	}
	for _, dr := range f.records {
		if dr.Type == req.Type && dr.Name == req.Name && dr.Data == req.Data {
			return nil, nil, apiError(http.StatusUnprocessableEntity)
		}
	}
	f.nextID++
	dr := godo.DomainRecord{
		ID:       f.nextID,
		Type:     req.Type,
		Name:     req.Name,
		Data:     req.Data,
		TTL:      req.TTL,
		Priority: req.Priority,
		Weight:   req.Weight,
		Port:     req.Port,
		Flags:    req.Flags,
		Tag:      req.Tag,
	}
	f.records[dr.ID] = dr
	return &dr, &godo.Response{}, nil
}

func (f *fakeDomains) EditRecord(_ context.Context, domain string, id int, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error) {
	dr, ok := f.records[id]
	if domain != f.domain || !ok {
		return nil, nil, apiError(http.StatusNotFound)
	}
	dr.Type = req.Type
	dr.Name = req.Name
	dr.Data = req.Data
	dr.TTL = req.TTL
	f.records[id] = dr
	return &dr, &godo.Response{}, nil
}

func (f *fakeDomains) DeleteRecord(_ context.Context, domain string, id int) (*godo.Response, error) {
	if _, ok := f.records[id]; domain != f.domain || !ok {
		return nil, apiError(http.StatusNotFound)
	}
	delete(f.records, id)
	return &godo.Response{}, nil
}

func newAdapter(t *testing.T, domains *fakeDomains) *Adapter {
	t.Helper()
	a, err := New(provider.Descriptor{
		ID:   "do-prod",
		Type: "digitalocean",
		Settings: provider.Settings{
			BaseDomain: "example.com",
			DefaultTTL: 300,
		},
	}, WithDomainsAPI(domains))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestCreateAndList(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	pr, err := a.CreateRecord(ctx, record.Record{
		Type:    record.TypeA,
		Name:    "app.example.com",
		Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if pr.ProviderID != "do-prod" {
		t.Errorf("provider id = %q", pr.ProviderID)
	}
	if _, err := strconv.Atoi(pr.ExternalID); err != nil {
		t.Errorf("external id %q should be a numeric DigitalOcean id", pr.ExternalID)
	}
	if pr.Name != "app.example.com" {
		t.Errorf("name = %q, want absolute form", pr.Name)
	}
	if pr.TTL != 300 {
		t.Errorf("ttl = %d, want settings default", pr.TTL)
	}

	recs, err := a.ListRecords(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ExternalID != pr.ExternalID {
		t.Errorf("listed = %+v", recs)
	}
}

func TestRelativeNames(t *testing.T) {
	a := newAdapter(t, newFakeDomains())

	tests := []struct {
		name string
		want string
	}{
		{"example.com", "@"},
		{"app.example.com", "app"},
		{"a.b.example.com", "a.b"},
		{"App.Example.com.", "app"},
	}
	for _, tt := range tests {
		if got := a.relative(tt.name); got != tt.want {
			t.Errorf("relative(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	if got := a.absolute("@"); got != "example.com" {
		t.Errorf("absolute(@) = %q", got)
	}
	if got := a.absolute("app"); got != "app.example.com" {
		t.Errorf("absolute(app) = %q", got)
	}
}

func TestApexRoundTrip(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	pr, err := a.CreateRecord(ctx, record.Record{
		Type:    record.TypeA,
		Name:    "example.com",
		Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pr.Name != "example.com" {
		t.Errorf("apex name = %q", pr.Name)
	}
	if stored := domains.records[1].Name; stored != "@" {
		t.Errorf("stored name = %q, want @", stored)
	}
}

func TestListPaginates(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := a.CreateRecord(ctx, record.Record{
			Type:    record.TypeA,
			Name:    fmt.Sprintf("host%d.example.com", i),
			Content: fmt.Sprintf("192.0.2.%d", i+1),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := a.ListRecords(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 5 {
		t.Errorf("records = %d, want all pages", len(recs))
	}
}

func TestUpdateRecord(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	pr, err := a.CreateRecord(ctx, record.Record{
		Type: record.TypeCNAME, Name: "www.example.com", Content: "old.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := a.UpdateRecord(ctx, pr.ExternalID, record.Record{
		Type: record.TypeCNAME, Name: "www.example.com", Content: "new.example.com",
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if updated.Content != "new.example.com" || updated.ExternalID != pr.ExternalID {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpdateBadExternalID(t *testing.T) {
	a := newAdapter(t, newFakeDomains())

	_, err := a.UpdateRecord(context.Background(), "not-a-number", record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	})
	if !provider.IsNotFound(err) {
		t.Errorf("UpdateRecord() error = %v, want not found", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	pr, err := a.CreateRecord(ctx, record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.DeleteRecord(ctx, pr.ExternalID); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if err := a.DeleteRecord(ctx, pr.ExternalID); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if err := a.DeleteRecord(ctx, "garbage"); err != nil {
		t.Errorf("non-numeric id should be a no-op, got %v", err)
	}
}

func TestConflictMapped(t *testing.T) {
	domains := newFakeDomains()
	a := newAdapter(t, domains)
	ctx := context.Background()

	r := record.Record{Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1"}
	if _, err := a.CreateRecord(ctx, r); err != nil {
		t.Fatal(err)
	}
	_, err := a.CreateRecord(ctx, r)
	if !provider.IsConflict(err) {
		t.Errorf("duplicate create error = %v, want conflict", err)
	}
}

func TestInitZoneNotFound(t *testing.T) {
	domains := newFakeDomains()
	domains.domain = "other.com"
	a := newAdapter(t, domains)

	err := a.Init(context.Background())
	if !errors.Is(err, provider.ErrZoneNotFound) {
		t.Errorf("Init() error = %v, want zone not found", err)
	}
}

func TestInitUnauthorized(t *testing.T) {
	domains := newFakeDomains()
	domains.getErr = apiError(http.StatusUnauthorized)
	a := newAdapter(t, domains)

	err := a.Init(context.Background())
	if !provider.IsUnauthorized(err) {
		t.Errorf("Init() error = %v, want unauthorized", err)
	}
}

func TestCapabilities(t *testing.T) {
	a := newAdapter(t, newFakeDomains())
	if a.Supports(provider.CapabilityProxying) {
		t.Error("Supports(proxying) = true, DigitalOcean has no proxy layer")
	}
	if a.Supports(provider.CapabilityComments) {
		t.Error("Supports(comments) = true, DigitalOcean records carry no comment")
	}
	if !a.Supports(provider.CapabilityMultiValueA) {
		t.Error("Supports(multi-value-a) = false")
	}
}

func TestMissingToken(t *testing.T) {
	_, err := New(provider.Descriptor{
		ID:       "do-prod",
		Type:     "digitalocean",
		Settings: provider.Settings{BaseDomain: "example.com"},
	})
	if !errors.Is(err, provider.ErrUnauthorized) {
		t.Errorf("New() without token = %v", err)
	}
}

func TestDefaultTTLFloor(t *testing.T) {
	domains := newFakeDomains()
	a, err := New(provider.Descriptor{
		ID:       "do-prod",
		Type:     "digitalocean",
		Settings: provider.Settings{BaseDomain: "example.com"},
	}, WithDomainsAPI(domains))
	if err != nil {
		t.Fatal(err)
	}

	pr, err := a.CreateRecord(context.Background(), record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pr.TTL != defaultTTL {
		t.Errorf("ttl = %d, want DigitalOcean default %d", pr.TTL, defaultTTL)
	}
}
