// Package rfc2136 implements the provider adapter for dynamic DNS
// updates against any RFC 2136 server (BIND, Knot, PowerDNS), with
// TSIG-signed transfers and updates.
//
// The server stores no comments and assigns no record ids. Ownership is
// tracked with a companion TXT record under the _trafego label, and the
// external id is synthesized from the record itself.
package rfc2136

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

const providerType = "rfc2136"

// fallbackTTL applies when neither the record nor the instance settings
// carry a usable TTL.
const fallbackTTL = 300

// tsigFudge is the permitted clock skew for TSIG signatures, in seconds.
const tsigFudge = 300

// tsigAlgorithms maps the config names onto the wire identifiers.
var tsigAlgorithms = map[string]string{
	"hmac-sha1":   dns.HmacSHA1,
	"hmac-sha224": dns.HmacSHA224,
	"hmac-sha256": dns.HmacSHA256,
	"hmac-sha384": dns.HmacSHA384,
	"hmac-sha512": dns.HmacSHA512,
}

// conn is the wire surface the adapter needs: one signed round trip and
// one signed zone transfer.
type conn interface {
	Exchange(msg *dns.Msg) (*dns.Msg, error)
	Transfer(msg *dns.Msg) ([]dns.RR, error)
}

// Adapter implements provider.Adapter for RFC 2136 servers.
type Adapter struct {
	id       string
	zone     string // fqdn, trailing dot
	settings provider.Settings
	conn     conn
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

// WithConn replaces the wire transport, mainly for tests.
func WithConn(c conn) Option {
	return func(a *Adapter) {
		a.conn = c
	}
}

// New creates an RFC 2136 adapter from a provider descriptor.
func New(desc provider.Descriptor, opts ...Option) (*Adapter, error) {
	zone := desc.Settings.ZoneName()
	a := &Adapter{
		id:       desc.ID,
		zone:     dns.Fqdn(zone),
		settings: desc.Settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if zone == "" {
		return nil, fmt.Errorf("rfc2136 %s: zone or base_domain is required", desc.ID)
	}
	if a.conn == nil {
		server := desc.Credentials["server"]
		keyName := desc.Credentials["tsig_key_name"]
		secret := desc.Credentials["tsig_secret"]
		if server == "" {
			return nil, provider.WrapError(desc.ID, "init",
				fmt.Errorf("missing server: %w", provider.ErrUnreachable))
		}
		if keyName == "" || secret == "" {
			return nil, provider.WrapError(desc.ID, "init",
				fmt.Errorf("missing tsig_key_name or tsig_secret: %w", provider.ErrUnauthorized))
		}
		algoName := desc.Credentials["tsig_algorithm"]
		if algoName == "" {
			algoName = "hmac-sha256"
		}
		algo, ok := tsigAlgorithms[strings.ToLower(algoName)]
		if !ok {
			return nil, provider.WrapError(desc.ID, "init",
				fmt.Errorf("unsupported tsig_algorithm %q: %w", algoName, provider.ErrUnauthorized))
		}
		if !strings.Contains(server, ":") {
			server += ":53"
		}
		a.conn = &tsigConn{
			server:    server,
			keyName:   dns.Fqdn(keyName),
			secret:    secret,
			algorithm: algo,
			client: &dns.Client{
				Net:        "tcp",
				Timeout:    10 * time.Second,
				TsigSecret: map[string]string{dns.Fqdn(keyName): secret},
			},
		}
	}
	return a, nil
}

// Factory returns the registry factory for this adapter type.
func Factory(logger *slog.Logger) provider.Factory {
	return func(desc provider.Descriptor) (provider.Adapter, error) {
		return New(desc, WithLogger(logger))
	}
}

// tsigConn is the production transport: TCP with TSIG on every message.
type tsigConn struct {
	server    string
	keyName   string
	secret    string
	algorithm string
	client    *dns.Client
}

func (c *tsigConn) Exchange(msg *dns.Msg) (*dns.Msg, error) {
	msg.SetTsig(c.keyName, c.algorithm, tsigFudge, time.Now().Unix())
	in, _, err := c.client.Exchange(msg, c.server)
	return in, err
}

func (c *tsigConn) Transfer(msg *dns.Msg) ([]dns.RR, error) {
	t := &dns.Transfer{TsigSecret: map[string]string{c.keyName: c.secret}}
	msg.SetTsig(c.keyName, c.algorithm, tsigFudge, time.Now().Unix())
	env, err := t.In(msg, c.server)
	if err != nil {
		return nil, err
	}
	var rrs []dns.RR
	for e := range env {
		if e.Error != nil {
			return nil, e.Error
		}
		rrs = append(rrs, e.RR...)
	}
	return rrs, nil
}

// Name returns the provider instance id.
func (a *Adapter) Name() string { return a.id }

// Type returns "rfc2136".
func (a *Adapter) Type() string { return providerType }

// Supports reports capability support.
func (a *Adapter) Supports(c provider.Capability) bool {
	switch c {
	case provider.CapabilityMultiValueA, provider.CapabilityCAA, provider.CapabilitySRV:
		return true
	}
	return false
}

// Init queries the zone SOA over the signed channel, verifying both the
// server address and the TSIG key.
func (a *Adapter) Init(_ context.Context) error {
	msg := new(dns.Msg)
	msg.SetQuestion(a.zone, dns.TypeSOA)
	resp, err := a.conn.Exchange(msg)
	if err != nil {
		return a.wrap("init", err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return provider.WrapError(a.id, "init",
			fmt.Errorf("zone %s: %w", a.zone, provider.ErrZoneNotFound))
	}
	if err := rcodeError(resp.Rcode); err != nil {
		return provider.WrapError(a.id, "init", err)
	}
	return nil
}

// ListRecords transfers the zone and returns the records the engine
// handles. Records covered by a _trafego ownership TXT come back with
// the ownership marker set so they survive database loss.
func (a *Adapter) ListRecords(_ context.Context, filter *provider.ListFilter) ([]record.ProviderRecord, error) {
	msg := new(dns.Msg)
	msg.SetAxfr(a.zone)
	rrs, err := a.conn.Transfer(msg)
	if err != nil {
		return nil, a.wrap("list", err)
	}

	owned := ownedKeys(rrs)
	var out []record.ProviderRecord
	for _, rr := range rrs {
		r, ok := a.fromRR(rr)
		if !ok {
			continue
		}
		if filter != nil && !filter.Matches(r) {
			continue
		}
		if owned[r.Key()] {
			r.Comment = record.OwnershipMarker
		}
		out = append(out, record.ProviderRecord{
			Record:     r,
			ProviderID: a.id,
			ExternalID: a.externalID(r),
		})
	}

	a.logger.Debug("listed records",
		slog.String("provider", a.id),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// CreateRecord inserts the record and its ownership TXT in one signed
// update.
func (a *Adapter) CreateRecord(_ context.Context, r record.Record) (record.ProviderRecord, error) {
	rr, err := a.toRR(r)
	if err != nil {
		return record.ProviderRecord{}, provider.WrapError(a.id, "create", err)
	}
	msg := new(dns.Msg)
	msg.SetUpdate(a.zone)
	msg.Insert([]dns.RR{rr, a.ownershipRR(r)})
	if err := a.send("create", msg); err != nil {
		return record.ProviderRecord{}, err
	}

	a.logger.Info("created record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return record.ProviderRecord{
		Record:     a.withTTL(r),
		ProviderID: a.id,
		ExternalID: a.externalID(r),
	}, nil
}

// UpdateRecord removes the record the external id names and inserts the
// replacement in the same signed update.
func (a *Adapter) UpdateRecord(_ context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	oldRR, err := parseExternalID(externalID)
	if err != nil {
		return record.ProviderRecord{}, provider.WrapError(a.id, "update",
			fmt.Errorf("bad external id %q: %w", externalID, provider.ErrNotFound))
	}
	newRR, err := a.toRR(r)
	if err != nil {
		return record.ProviderRecord{}, provider.WrapError(a.id, "update", err)
	}

	msg := new(dns.Msg)
	msg.SetUpdate(a.zone)
	msg.Remove([]dns.RR{oldRR})
	msg.Insert([]dns.RR{newRR, a.ownershipRR(r)})
	if err := a.send("update", msg); err != nil {
		return record.ProviderRecord{}, err
	}

	a.logger.Info("updated record",
		slog.String("provider", a.id),
		slog.String("name", r.Name),
		slog.String("type", string(r.Type)),
	)
	return record.ProviderRecord{
		Record:     a.withTTL(r),
		ProviderID: a.id,
		ExternalID: a.externalID(r),
	}, nil
}

// DeleteRecord removes the record and its ownership TXT. Records the
// server no longer holds succeed; RFC 2136 deletes of absent RRs are
// no-ops on the server side already.
func (a *Adapter) DeleteRecord(_ context.Context, externalID string) error {
	rr, err := parseExternalID(externalID)
	if err != nil {
		return nil
	}
	r, ok := a.fromRR(rr)
	if !ok {
		return nil
	}

	msg := new(dns.Msg)
	msg.SetUpdate(a.zone)
	msg.Remove([]dns.RR{rr, a.ownershipRR(r)})
	if err := a.send("delete", msg); err != nil {
		if provider.IsNotFound(err) {
			return nil
		}
		return err
	}

	a.logger.Info("deleted record",
		slog.String("provider", a.id),
		slog.String("external_id", externalID),
	)
	return nil
}

// send performs one signed update round trip and maps the response code.
func (a *Adapter) send(operation string, msg *dns.Msg) error {
	resp, err := a.conn.Exchange(msg)
	if err != nil {
		return a.wrap(operation, err)
	}
	if err := rcodeError(resp.Rcode); err != nil {
		return provider.WrapError(a.id, operation, err)
	}
	return nil
}

func (a *Adapter) wrap(operation string, err error) error {
	// Everything the dns client returns as a Go error is transport or
	// signature trouble; protocol-level failures arrive as rcodes.
	if err == dns.ErrSig || err == dns.ErrAuth || err == dns.ErrSecret || err == dns.ErrKey {
		return provider.WrapError(a.id, operation,
			fmt.Errorf("%v: %w", err, provider.ErrUnauthorized))
	}
	return provider.WrapError(a.id, operation,
		fmt.Errorf("%v: %w", err, provider.ErrUnreachable))
}

// rcodeError maps an update response code onto the error taxonomy.
func rcodeError(rcode int) error {
	switch rcode {
	case dns.RcodeSuccess:
		return nil
	case dns.RcodeRefused, dns.RcodeNotAuth, dns.RcodeBadSig, dns.RcodeBadKey, dns.RcodeBadTime:
		return fmt.Errorf("server returned %s: %w", dns.RcodeToString[rcode], provider.ErrUnauthorized)
	case dns.RcodeNameError, dns.RcodeNXRrset:
		return fmt.Errorf("server returned %s: %w", dns.RcodeToString[rcode], provider.ErrNotFound)
	case dns.RcodeYXDomain, dns.RcodeYXRrset:
		return fmt.Errorf("server returned %s: %w", dns.RcodeToString[rcode], provider.ErrConflict)
	case dns.RcodeNotZone:
		return fmt.Errorf("server returned %s: %w", dns.RcodeToString[rcode], provider.ErrZoneNotFound)
	case dns.RcodeServerFailure:
		return fmt.Errorf("server returned %s: %w", dns.RcodeToString[rcode], provider.ErrUnreachable)
	}
	return fmt.Errorf("server returned %s", dns.RcodeToString[rcode])
}

func (a *Adapter) ttlFor(r record.Record) uint32 {
	ttl := r.TTL
	if ttl == 0 {
		ttl = a.settings.DefaultTTL
	}
	if ttl <= record.TTLAuto {
		ttl = fallbackTTL
	}
	return uint32(ttl)
}

func (a *Adapter) withTTL(r record.Record) record.Record {
	r.TTL = int(a.ttlFor(r))
	return r
}

var _ provider.Adapter = (*Adapter)(nil)
