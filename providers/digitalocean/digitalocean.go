// Package digitalocean implements the provider adapter for DigitalOcean
// DNS via godo.
//
// DigitalOcean has no per-record comment field, so ownership relies on
// the managed store rather than an in-band marker.
package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/digitalocean/godo"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

const providerType = "digitalocean"

// defaultTTL matches the DigitalOcean control panel default.
const defaultTTL = 1800

// domainsAPI is the slice of godo.DomainsService the adapter uses.
type domainsAPI interface {
	Get(ctx context.Context, name string) (*godo.Domain, *godo.Response, error)
	Records(ctx context.Context, domain string, opt *godo.ListOptions) ([]godo.DomainRecord, *godo.Response, error)
	CreateRecord(ctx context.Context, domain string, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error)
	EditRecord(ctx context.Context, domain string, id int, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error)
	DeleteRecord(ctx context.Context, domain string, id int) (*godo.Response, error)
}

// Adapter implements provider.Adapter for DigitalOcean.
type Adapter struct {
	id       string
	zone     string
	settings provider.Settings
	domains  domainsAPI
	logger   *slog.Logger
}

// Option is a functional option for configuring the Adapter.
type Option func(*Adapter)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDomainsAPI replaces the godo domains service, mainly for tests.
func WithDomainsAPI(domains domainsAPI) Option {
	return func(a *Adapter) {
		a.domains = domains
	}
}

// New creates a DigitalOcean adapter from a provider descriptor.
func New(desc provider.Descriptor, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		id:       desc.ID,
		zone:     desc.Settings.ZoneName(),
		settings: desc.Settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.zone == "" {
		return nil, fmt.Errorf("digitalocean %s: zone or base_domain is required", desc.ID)
	}
	if a.domains == nil {
		token := desc.Credentials["token"]
		if token == "" {
			return nil, provider.WrapError(desc.ID, "init",
				fmt.Errorf("missing token: %w", provider.ErrUnauthorized))
		}
		a.domains = godo.NewFromToken(token).Domains
	}
	return a, nil
}

// Factory returns the registry factory for this adapter type.
func Factory(logger *slog.Logger) provider.Factory {
	return func(desc provider.Descriptor) (provider.Adapter, error) {
		return New(desc, WithLogger(logger))
	}
}

// Name returns the provider instance id.
func (a *Adapter) Name() string { return a.id }

// Type returns "digitalocean".
func (a *Adapter) Type() string { return providerType }

// Supports reports capability support.
func (a *Adapter) Supports(c provider.Capability) bool {
	switch c {
	case provider.CapabilityMultiValueA, provider.CapabilityCAA, provider.CapabilitySRV:
		return true
	}
	return false
}

// Init verifies the zone exists and the token works.
func (a *Adapter) Init(ctx context.Context) error {
	_, _, err := a.domains.Get(ctx, a.zone)
	if err != nil {
		wrapped := a.wrap("init", err)
		if provider.IsNotFound(wrapped) {
			return provider.WrapError(a.id, "init",
				fmt.Errorf("domain %s: %w", a.zone, provider.ErrZoneNotFound))
		}
		return wrapped
	}
	return nil
}

// ListRecords returns all records in the zone, paginating under the hood.
func (a *Adapter) ListRecords(ctx context.Context, filter *provider.ListFilter) ([]record.ProviderRecord, error) {
	opt := &godo.ListOptions{Page: 1, PerPage: 100}
	var out []record.ProviderRecord
	for {
		page, resp, err := a.domains.Records(ctx, a.zone, opt)
		if err != nil {
			return nil, a.wrap("list", err)
		}
		for _, dr := range page {
			pr, ok := a.fromAPI(dr)
			if !ok {
				continue
			}
			if filter != nil && !filter.Matches(pr.Record) {
				continue
			}
			out = append(out, pr)
		}
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		opt.Page++
	}

	a.logger.Debug("listed records",
		slog.String("provider", a.id),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// CreateRecord adds a record and returns it with its DigitalOcean id.
func (a *Adapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	created, _, err := a.domains.CreateRecord(ctx, a.zone, a.toAPI(r))
	if err != nil {
		return record.ProviderRecord{}, a.wrap("create", err)
	}
	a.logger.Info("created record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	pr, _ := a.fromAPI(*created)
	return pr, nil
}

// UpdateRecord replaces the record identified by externalID.
func (a *Adapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return record.ProviderRecord{}, provider.WrapError(a.id, "update",
			fmt.Errorf("bad external id %q: %w", externalID, provider.ErrNotFound))
	}
	updated, _, err := a.domains.EditRecord(ctx, a.zone, id, a.toAPI(r))
	if err != nil {
		return record.ProviderRecord{}, a.wrap("update", err)
	}
	a.logger.Info("updated record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	pr, _ := a.fromAPI(*updated)
	return pr, nil
}

// DeleteRecord removes a record. Unknown ids succeed.
func (a *Adapter) DeleteRecord(ctx context.Context, externalID string) error {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return nil
	}
	if _, err := a.domains.DeleteRecord(ctx, a.zone, id); err != nil {
		wrapped := a.wrap("delete", err)
		if provider.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	a.logger.Info("deleted record",
		slog.String("provider", a.id),
		slog.String("external_id", externalID),
	)
	return nil
}

// toAPI converts a canonical record to the godo edit request.
// DigitalOcean names are relative to the domain ("@" for the apex).
func (a *Adapter) toAPI(r record.Record) *godo.DomainRecordEditRequest {
	ttl := r.TTL
	if ttl == 0 {
		ttl = a.settings.DefaultTTL
	}
	if ttl <= record.TTLAuto {
		ttl = defaultTTL
	}
	req := &godo.DomainRecordEditRequest{
		Type: string(r.Type),
		Name: a.relative(r.Name),
		Data: r.Content,
		TTL:  ttl,
	}
	if r.Priority != nil {
		req.Priority = int(*r.Priority)
	}
	if r.Weight != nil {
		req.Weight = int(*r.Weight)
	}
	if r.Port != nil {
		req.Port = int(*r.Port)
	}
	if r.Flags != nil {
		req.Flags = int(*r.Flags)
	}
	req.Tag = r.Tag
	return req
}

func (a *Adapter) fromAPI(dr godo.DomainRecord) (record.ProviderRecord, bool) {
	typ := record.Type(dr.Type)
	if !record.ValidType(typ) {
		return record.ProviderRecord{}, false
	}
	r := record.Record{
		Type:    typ,
		Name:    a.absolute(dr.Name),
		Content: strings.TrimSuffix(dr.Data, "."),
		TTL:     dr.TTL,
		Tag:     dr.Tag,
	}
	switch typ {
	case record.TypeMX, record.TypeSRV:
		p := uint16(dr.Priority)
		r.Priority = &p
	}
	if typ == record.TypeSRV {
		w := uint16(dr.Weight)
		port := uint16(dr.Port)
		r.Weight = &w
		r.Port = &port
	}
	if typ == record.TypeCAA {
		f := uint8(dr.Flags)
		r.Flags = &f
	}
	return record.ProviderRecord{
		Record:     r,
		ProviderID: a.id,
		ExternalID: strconv.Itoa(dr.ID),
	}, true
}

func (a *Adapter) relative(name string) string {
	name = strings.TrimSuffix(record.NormalizeName(name), ".")
	if name == a.zone {
		return "@"
	}
	return strings.TrimSuffix(name, "."+a.zone)
}

func (a *Adapter) absolute(name string) string {
	if name == "@" || name == "" {
		return a.zone
	}
	if strings.HasSuffix(name, "."+a.zone) || name == a.zone {
		return name
	}
	return name + "." + a.zone
}

// wrap maps a godo error onto the provider error taxonomy.
func (a *Adapter) wrap(operation string, err error) error {
	return provider.WrapError(a.id, operation, classify(err))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *godo.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch {
		case apiErr.Response.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		case apiErr.Response.StatusCode == http.StatusConflict,
			apiErr.Response.StatusCode == http.StatusUnprocessableEntity:
			return fmt.Errorf("%v: %w", err, provider.ErrConflict)
		case apiErr.Response.StatusCode == http.StatusUnauthorized,
			apiErr.Response.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%v: %w", err, provider.ErrUnauthorized)
		case apiErr.Response.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
		case apiErr.Response.StatusCode >= 500:
			return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
		}
		return err
	}
	return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
}

var _ provider.Adapter = (*Adapter)(nil)
