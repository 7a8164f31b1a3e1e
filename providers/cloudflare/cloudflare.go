// Package cloudflare implements the provider adapter for Cloudflare DNS.
//
// Cloudflare stores a free-form comment per record, which carries the
// engine's ownership marker, and supports proxying plus multiple A
// records per name.
package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cf "github.com/cloudflare/cloudflare-go"
	"github.com/jellydator/ttlcache/v3"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

const providerType = "cloudflare"

// zoneCacheTTL bounds how long a resolved zone id is reused before the
// name is looked up again.
const zoneCacheTTL = time.Hour

// api is the slice of the Cloudflare SDK the adapter uses.
type api interface {
	ZoneIDByName(zoneName string) (string, error)
	ListDNSRecords(ctx context.Context, rc *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	UpdateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.UpdateDNSRecordParams) (cf.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
}

// Adapter implements provider.Adapter for Cloudflare.
type Adapter struct {
	id       string
	zone     string
	settings provider.Settings
	client   api
	zones    *ttlcache.Cache[string, string]
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

// WithAPI replaces the SDK client, mainly for tests.
func WithAPI(client api) Option {
	return func(a *Adapter) {
		a.client = client
	}
}

// New creates a Cloudflare adapter from a provider descriptor.
func New(desc provider.Descriptor, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		id:       desc.ID,
		zone:     desc.Settings.ZoneName(),
		settings: desc.Settings,
		zones: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](zoneCacheTTL),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.zone == "" {
		return nil, fmt.Errorf("cloudflare %s: zone or base_domain is required", desc.ID)
	}
	if a.client == nil {
		token := desc.Credentials["api_token"]
		if token == "" {
			return nil, provider.WrapError(desc.ID, "init",
				fmt.Errorf("missing api_token: %w", provider.ErrUnauthorized))
		}
		client, err := cf.NewWithAPIToken(token)
		if err != nil {
			return nil, provider.WrapError(desc.ID, "init", err)
		}
		a.client = client
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

// Type returns "cloudflare".
func (a *Adapter) Type() string { return providerType }

// Supports reports capability support.
func (a *Adapter) Supports(c provider.Capability) bool {
	switch c {
	case provider.CapabilityProxying, provider.CapabilityComments,
		provider.CapabilityMultiValueA, provider.CapabilityCAA, provider.CapabilitySRV:
		return true
	}
	return false
}

// Init resolves the zone id, verifying credentials in the same call.
func (a *Adapter) Init(ctx context.Context) error {
	_, err := a.zoneID(ctx)
	return err
}

func (a *Adapter) zoneID(_ context.Context) (string, error) {
	if item := a.zones.Get(a.zone); item != nil {
		return item.Value(), nil
	}
	id, err := a.client.ZoneIDByName(a.zone)
	if err != nil {
		return "", a.wrap("zone-lookup", err)
	}
	a.zones.Set(a.zone, id, ttlcache.DefaultTTL)
	return id, nil
}

// ListRecords returns all records in the zone, paginating under the hood.
func (a *Adapter) ListRecords(ctx context.Context, filter *provider.ListFilter) ([]record.ProviderRecord, error) {
	zoneID, err := a.zoneID(ctx)
	if err != nil {
		return nil, err
	}
	rc := cf.ZoneIdentifier(zoneID)

	params := cf.ListDNSRecordsParams{
		ResultInfo: cf.ResultInfo{PerPage: 100},
	}
	if filter != nil {
		params.Type = string(filter.Type)
		params.Name = filter.Name
	}

	var out []record.ProviderRecord
	for {
		page, info, err := a.client.ListDNSRecords(ctx, rc, params)
		if err != nil {
			return nil, a.wrap("list", err)
		}
		for _, dr := range page {
			pr, err := a.fromAPI(dr)
			if err != nil {
				a.logger.Debug("skipping unsupported record",
					slog.String("provider", a.id),
					slog.String("name", dr.Name),
					slog.String("type", dr.Type),
				)
				continue
			}
			out = append(out, pr)
		}
		if info == nil || info.Page >= info.TotalPages {
			break
		}
		params.ResultInfo.Page = info.Page + 1
	}

	a.logger.Debug("listed records",
		slog.String("provider", a.id),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// CreateRecord adds a record and returns it with its Cloudflare id.
func (a *Adapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	zoneID, err := a.zoneID(ctx)
	if err != nil {
		return record.ProviderRecord{}, err
	}

	proxied := a.proxiedFor(r)
	created, err := a.client.CreateDNSRecord(ctx, cf.ZoneIdentifier(zoneID), cf.CreateDNSRecordParams{
		Type:     string(r.Type),
		Name:     r.Name,
		Content:  r.Content,
		TTL:      a.ttlFor(r, proxied),
		Proxied:  &proxied,
		Comment:  r.Comment,
		Priority: r.Priority,
	})
	if err != nil {
		return record.ProviderRecord{}, a.wrap("create", err)
	}

	a.logger.Info("created record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return a.fromAPI(created)
}

// UpdateRecord replaces the record identified by externalID.
func (a *Adapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	zoneID, err := a.zoneID(ctx)
	if err != nil {
		return record.ProviderRecord{}, err
	}

	proxied := a.proxiedFor(r)
	comment := r.Comment
	updated, err := a.client.UpdateDNSRecord(ctx, cf.ZoneIdentifier(zoneID), cf.UpdateDNSRecordParams{
		ID:       externalID,
		Type:     string(r.Type),
		Name:     r.Name,
		Content:  r.Content,
		TTL:      a.ttlFor(r, proxied),
		Proxied:  &proxied,
		Comment:  &comment,
		Priority: r.Priority,
	})
	if err != nil {
		return record.ProviderRecord{}, a.wrap("update", err)
	}

	a.logger.Info("updated record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return a.fromAPI(updated)
}

// DeleteRecord removes a record. Unknown ids succeed.
func (a *Adapter) DeleteRecord(ctx context.Context, externalID string) error {
	zoneID, err := a.zoneID(ctx)
	if err != nil {
		return err
	}
	if err := a.client.DeleteDNSRecord(ctx, cf.ZoneIdentifier(zoneID), externalID); err != nil {
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

// ttlFor resolves the effective TTL. Cloudflare uses 1 for "automatic",
// which proxied records require.
func (a *Adapter) ttlFor(r record.Record, proxied bool) int {
	ttl := r.TTL
	if ttl == 0 {
		ttl = a.settings.DefaultTTL
	}
	if proxied || ttl == 0 {
		ttl = record.TTLAuto
	}
	return ttl
}

func (a *Adapter) proxiedFor(r record.Record) bool {
	if r.Proxied != nil {
		return *r.Proxied
	}
	if r.Type != record.TypeA && r.Type != record.TypeAAAA && r.Type != record.TypeCNAME {
		return false
	}
	return a.settings.DefaultProxied
}

func (a *Adapter) fromAPI(dr cf.DNSRecord) (record.ProviderRecord, error) {
	typ := record.Type(dr.Type)
	if !record.ValidType(typ) {
		return record.ProviderRecord{}, fmt.Errorf("unsupported record type %q", dr.Type)
	}
	return record.ProviderRecord{
		Record: record.Record{
			Type:     typ,
			Name:     dr.Name,
			Content:  dr.Content,
			TTL:      dr.TTL,
			Proxied:  dr.Proxied,
			Priority: dr.Priority,
			Comment:  dr.Comment,
		},
		ProviderID: a.id,
		ExternalID: dr.ID,
	}, nil
}

var _ provider.Adapter = (*Adapter)(nil)
