// Package provider defines the adapter contract every DNS provider
// implementation must satisfy, the error taxonomy the reconciler relies
// on, and decorators for retry and rate limiting.
package provider

import (
	"context"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Capability identifies an optional provider feature.
type Capability string

// Capabilities an adapter may support.
const (
	// CapabilityProxying means records can be proxied (Cloudflare orange cloud).
	CapabilityProxying Capability = "proxying"

	// CapabilityMultiValueA means multiple A records may share one name.
	CapabilityMultiValueA Capability = "multiValueA"

	CapabilityCAA Capability = "caa"
	CapabilitySRV Capability = "srv"

	// CapabilityComments means the provider stores a free-form comment per
	// record, which the engine uses for its ownership marker.
	CapabilityComments Capability = "comments"
)

// ListFilter narrows a ListRecords call. Zero values match everything.
type ListFilter struct {
	Type record.Type
	Name string
}

// Matches reports whether a record passes the filter.
func (f ListFilter) Matches(r record.Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Name != "" && record.NormalizeName(f.Name) != record.NormalizeName(r.Name) {
		return false
	}
	return true
}

// Adapter is a uniform façade over a remote DNS API.
//
// Implementations translate provider-native records to the canonical
// model, set ExternalID on everything they return, and preserve unknown
// provider-specific attributes on read-modify-write (a record the engine
// did not create must not lose fields when updated).
//
// All operations map failures onto the package error taxonomy: transient
// errors wrap ErrUnreachable or ErrRateLimited, permanent ones wrap
// ErrUnauthorized or record.ErrInvalidRecord, pre-existing records wrap
// ErrConflict.
type Adapter interface {
	// Name returns the engine-assigned provider instance id.
	Name() string

	// Type returns the provider type ("cloudflare", "route53", ...).
	Type() string

	// Init verifies credentials and loads the zone list. It fails with
	// ErrUnauthorized, ErrZoneNotFound, or ErrUnreachable.
	Init(ctx context.Context) error

	// ListRecords returns all records in the configured zone, paginating
	// under the hood. A nil filter lists everything.
	ListRecords(ctx context.Context, filter *ListFilter) ([]record.ProviderRecord, error)

	// CreateRecord adds a record and returns it with ExternalID set.
	CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error)

	// UpdateRecord replaces the record identified by externalID.
	UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error)

	// DeleteRecord removes a record. Deleting an unknown id succeeds.
	DeleteRecord(ctx context.Context, externalID string) error

	// Supports reports whether the provider implements a capability.
	Supports(cap Capability) bool
}

// OwnershipMarker returns the token embedded in provider-side comments to
// recognize engine-owned records after database loss.
func OwnershipMarker() string {
	return record.OwnershipMarker
}

// Descriptor describes a configured provider instance.
type Descriptor struct {
	// ID is the engine-assigned instance identifier (unique, stable).
	ID string

	// Name is the human-readable display name.
	Name string

	// Type selects the adapter implementation.
	Type string

	// Credentials holds opaque provider-specific secrets (token, key id,
	// TSIG secret, ...). Keys are adapter-defined.
	Credentials map[string]string

	Settings Settings

	Enabled   bool
	IsDefault bool
}

// Settings are per-provider knobs shared by all adapters.
type Settings struct {
	// DefaultTTL applies when a desired record has TTL 0.
	DefaultTTL int

	// DefaultProxied applies to records on proxying-capable providers
	// when the desired record does not say otherwise.
	DefaultProxied bool

	// BaseDomain filters which hostnames route to this provider. Empty
	// means the provider accepts any hostname (used with IsDefault).
	BaseDomain string

	// Zone is the DNS zone the adapter operates on. Defaults to
	// BaseDomain when empty.
	Zone string

	// RateLimit caps provider API calls per second. 0 disables the
	// client-side limiter.
	RateLimit int
}

// ZoneName returns the zone the adapter should operate on.
func (s Settings) ZoneName() string {
	if s.Zone != "" {
		return s.Zone
	}
	return s.BaseDomain
}
