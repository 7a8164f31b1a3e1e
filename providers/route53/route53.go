// Package route53 implements the provider adapter for AWS Route 53.
//
// Route 53 groups values into record sets keyed by (name, type) and has
// no per-record identifier, so the external id is the "TYPE/name" pair
// and every write replaces the whole set. There is no comment field;
// ownership relies on the managed store.
package route53

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

const providerType = "route53"

// defaultRegion is used for request signing when the config names none;
// Route 53 itself is a global service.
const defaultRegion = "us-east-1"

// fallbackTTL applies when neither the record nor the instance settings
// carry a usable TTL.
const fallbackTTL = 300

// api is the slice of the Route 53 SDK client the adapter uses.
type api interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Adapter implements provider.Adapter for Route 53.
type Adapter struct {
	id       string
	zone     string
	settings provider.Settings
	client   api
	logger   *slog.Logger

	mu     sync.Mutex
	zoneID string
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

// New creates a Route 53 adapter from a provider descriptor. Static
// credentials from the descriptor take precedence; without them the SDK
// default chain (environment, shared config, instance profile) applies.
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
		return nil, fmt.Errorf("route53 %s: zone or base_domain is required", desc.ID)
	}
	if a.client == nil {
		region := desc.Credentials["region"]
		if region == "" {
			region = defaultRegion
		}
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		accessKey := desc.Credentials["access_key_id"]
		secretKey := desc.Credentials["secret_access_key"]
		if accessKey != "" || secretKey != "" {
			if accessKey == "" || secretKey == "" {
				return nil, provider.WrapError(desc.ID, "init",
					fmt.Errorf("access_key_id and secret_access_key must be set together: %w", provider.ErrUnauthorized))
			}
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, provider.WrapError(desc.ID, "init", err)
		}
		a.client = route53.NewFromConfig(cfg)
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

// Type returns "route53".
func (a *Adapter) Type() string { return providerType }

// Supports reports capability support. Multi-value A is off because
// every write replaces the full record set for a name.
func (a *Adapter) Supports(c provider.Capability) bool {
	switch c {
	case provider.CapabilityCAA, provider.CapabilitySRV:
		return true
	}
	return false
}

// Init resolves the hosted zone id, verifying credentials in the same call.
func (a *Adapter) Init(ctx context.Context) error {
	_, err := a.hostedZoneID(ctx)
	return err
}

func (a *Adapter) hostedZoneID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zoneID != "" {
		return a.zoneID, nil
	}

	fqdn := a.zone + "."
	out, err := a.client.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(fqdn),
		MaxItems: aws.Int32(1),
	})
	if err != nil {
		return "", a.wrap("zone-lookup", err)
	}
	if len(out.HostedZones) == 0 || aws.ToString(out.HostedZones[0].Name) != fqdn {
		return "", provider.WrapError(a.id, "zone-lookup",
			fmt.Errorf("hosted zone %s: %w", a.zone, provider.ErrZoneNotFound))
	}
	a.zoneID = strings.TrimPrefix(aws.ToString(out.HostedZones[0].Id), "/hostedzone/")
	return a.zoneID, nil
}

// ListRecords returns all records in the zone, expanding multi-value
// record sets into one record per value.
func (a *Adapter) ListRecords(ctx context.Context, filter *provider.ListFilter) ([]record.ProviderRecord, error) {
	zoneID, err := a.hostedZoneID(ctx)
	if err != nil {
		return nil, err
	}

	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		MaxItems:     aws.Int32(300),
	}
	var out []record.ProviderRecord
	for {
		resp, err := a.client.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, a.wrap("list", err)
		}
		for _, set := range resp.ResourceRecordSets {
			for _, pr := range a.fromSet(set) {
				if filter != nil && !filter.Matches(pr.Record) {
					continue
				}
				out = append(out, pr)
			}
		}
		if !resp.IsTruncated {
			break
		}
		input.StartRecordName = resp.NextRecordName
		input.StartRecordType = resp.NextRecordType
		input.StartRecordIdentifier = resp.NextRecordIdentifier
	}

	a.logger.Debug("listed records",
		slog.String("provider", a.id),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// CreateRecord upserts a single-value record set for the record's
// (name, type) pair.
func (a *Adapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	if err := a.change(ctx, r53types.ChangeActionUpsert, a.toSet(r)); err != nil {
		return record.ProviderRecord{}, a.wrap("create", err)
	}
	a.logger.Info("created record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return a.providerRecord(r), nil
}

// UpdateRecord upserts the record set. When the external id names a
// different (name, type) pair than the new record, the old set is
// removed first.
func (a *Adapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	oldKey, err := parseExternalID(externalID)
	if err != nil {
		return record.ProviderRecord{}, provider.WrapError(a.id, "update",
			fmt.Errorf("bad external id %q: %w", externalID, provider.ErrNotFound))
	}
	if oldKey != r.Key() {
		if err := a.DeleteRecord(ctx, externalID); err != nil {
			return record.ProviderRecord{}, err
		}
	}
	if err := a.change(ctx, r53types.ChangeActionUpsert, a.toSet(r)); err != nil {
		return record.ProviderRecord{}, a.wrap("update", err)
	}
	a.logger.Info("updated record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return a.providerRecord(r), nil
}

// DeleteRecord removes the record set the external id names. Route 53
// deletes require the exact current values, so the set is fetched
// first; an already absent set succeeds.
func (a *Adapter) DeleteRecord(ctx context.Context, externalID string) error {
	key, err := parseExternalID(externalID)
	if err != nil {
		return nil
	}
	set, err := a.findSet(ctx, key)
	if err != nil {
		return err
	}
	if set == nil {
		return nil
	}
	if err := a.change(ctx, r53types.ChangeActionDelete, *set); err != nil {
		return a.wrap("delete", err)
	}
	a.logger.Info("deleted record",
		slog.String("provider", a.id),
		slog.String("external_id", externalID),
	)
	return nil
}

// findSet locates the live record set for a key, or nil when absent.
func (a *Adapter) findSet(ctx context.Context, key record.Key) (*r53types.ResourceRecordSet, error) {
	zoneID, err := a.hostedZoneID(ctx)
	if err != nil {
		return nil, err
	}
	fqdn := key.Name + "."
	resp, err := a.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zoneID),
		StartRecordName: aws.String(fqdn),
		StartRecordType: r53types.RRType(key.Type),
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return nil, a.wrap("delete", err)
	}
	for _, set := range resp.ResourceRecordSets {
		if unescapeName(aws.ToString(set.Name)) == fqdn && string(set.Type) == string(key.Type) {
			return &set, nil
		}
	}
	return nil, nil
}

func (a *Adapter) change(ctx context.Context, action r53types.ChangeAction, set r53types.ResourceRecordSet) error {
	zoneID, err := a.hostedZoneID(ctx)
	if err != nil {
		return err
	}
	_, err = a.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action:            action,
				ResourceRecordSet: &set,
			}},
		},
	})
	return err
}

func (a *Adapter) ttlFor(r record.Record) int64 {
	ttl := r.TTL
	if ttl == 0 {
		ttl = a.settings.DefaultTTL
	}
	if ttl <= record.TTLAuto {
		ttl = fallbackTTL
	}
	return int64(ttl)
}

func (a *Adapter) providerRecord(r record.Record) record.ProviderRecord {
	r.TTL = int(a.ttlFor(r))
	return record.ProviderRecord{
		Record:     r,
		ProviderID: a.id,
		ExternalID: externalID(r.Key()),
	}
}

var _ provider.Adapter = (*Adapter)(nil)
