// Package record defines the canonical DNS record model shared by sources,
// providers, and the reconciler, plus the content fingerprint used for
// change detection.
package record

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Type is a DNS record type.
type Type string

// Record types the engine manages.
const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeCNAME Type = "CNAME"
	TypeTXT   Type = "TXT"
	TypeMX    Type = "MX"
	TypeSRV   Type = "SRV"
	TypeCAA   Type = "CAA"
	TypeNS    Type = "NS"
)

// TTLAuto is the sentinel TTL some providers (Cloudflare) use to mean
// "automatic". It is preserved round-trip and never normalized to a
// numeric default.
const TTLAuto = 1

// OwnershipMarker is the token embedded in a provider-side record comment
// to identify records this engine created. Records carrying it are
// re-imported as managed after database loss.
const OwnershipMarker = "trafego:owned"

// OwnershipTXTPrefix and OwnershipTXTValue implement the TXT fallback for
// providers without comment support.
const (
	OwnershipTXTPrefix = "_trafego"
	OwnershipTXTValue  = "heritage=trafego"
)

// validTypes enumerates the types Canonicalize accepts.
var validTypes = map[Type]bool{
	TypeA: true, TypeAAAA: true, TypeCNAME: true, TypeTXT: true,
	TypeMX: true, TypeSRV: true, TypeCAA: true, TypeNS: true,
}

// ValidType reports whether t is a record type the engine handles.
func ValidType(t Type) bool {
	return validTypes[t]
}

// caaTags enumerates the CAA tags allowed by RFC 8659.
var caaTags = map[string]bool{"issue": true, "issuewild": true, "iodef": true}

// Record is the canonical representation of a single DNS record.
//
// Optional fields are pointers so "not meaningful for this provider/type"
// is distinguishable from a zero value. Proxied is only meaningful for
// providers that support proxying (Cloudflare); when nil it is omitted
// from the fingerprint.
type Record struct {
	Type    Type   `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`

	// TTL in seconds. 0 means "provider default". The value 1 is the
	// provider "auto" sentinel and is preserved as-is.
	TTL int `json:"ttl"`

	Proxied  *bool   `json:"proxied,omitempty"`
	Priority *uint16 `json:"priority,omitempty"` // MX, SRV
	Weight   *uint16 `json:"weight,omitempty"`   // SRV
	Port     *uint16 `json:"port,omitempty"`     // SRV
	Flags    *uint8  `json:"flags,omitempty"`    // CAA
	Tag      string  `json:"tag,omitempty"`      // CAA

	// Comment is free-form provider-side text. The engine embeds the
	// ownership marker here when the provider supports comments.
	Comment string `json:"comment,omitempty"`
}

// ProviderRecord is a Record as observed at a provider.
type ProviderRecord struct {
	Record

	// ProviderID is the engine-assigned identifier of the provider instance.
	ProviderID string `json:"provider_id"`

	// ExternalID is the provider-native record identifier.
	ExternalID string `json:"external_id"`

	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// HasOwnershipMarker reports whether the record's comment carries the
// engine's ownership marker.
func (r Record) HasOwnershipMarker() bool {
	return strings.Contains(r.Comment, OwnershipMarker)
}

// Key identifies a record slot: one (type, name) pair per provider.
type Key struct {
	Type Type
	Name string
}

// Key returns the record's reconciliation key. The name is normalized the
// same way Canonicalize normalizes it, so keys built from raw and
// canonical records agree.
func (r Record) Key() Key {
	return Key{Type: r.Type, Name: NormalizeName(r.Name)}
}

func (k Key) String() string {
	return string(k.Type) + " " + k.Name
}

// idnaProfile maps IDN labels to A-labels without rejecting underscore
// labels (SRV, ownership TXT) or wildcards.
var idnaProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// NormalizeName lowercases a hostname, trims surrounding whitespace and
// the trailing dot, and converts IDN labels to their A-label (punycode)
// form. Invalid IDN input is returned lowercased rather than rejected;
// Canonicalize performs the strict validation.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".")
	if ascii, err := idnaProfile.ToASCII(name); err == nil {
		return ascii
	}
	return name
}

// Canonicalize validates a raw record and returns its canonical form:
// name lowercased with the trailing dot stripped and IDN labels converted
// to A-labels, hostname-valued content normalized the same way, and
// type-conditional fields checked for presence.
//
// Failures return an *InvalidRecordError naming the offending field.
func Canonicalize(raw Record) (Record, error) {
	r := raw

	if !validTypes[r.Type] {
		return Record{}, invalidf("type", string(r.Type), "unsupported record type")
	}

	name := strings.ToLower(strings.TrimSpace(r.Name))
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return Record{}, invalidf("name", raw.Name, "name is required")
	}
	ascii, err := idnaProfile.ToASCII(name)
	if err != nil {
		return Record{}, invalidf("name", raw.Name, "not a valid hostname: "+err.Error())
	}
	r.Name = ascii

	if r.TTL < 0 {
		return Record{}, invalidf("ttl", fmt.Sprintf("%d", raw.TTL), "must not be negative")
	}

	if strings.TrimSpace(r.Content) == "" {
		return Record{}, invalidf("content", "", "content is required")
	}
	r.Content = strings.TrimSpace(r.Content)

	switch r.Type {
	case TypeA:
		if !isIPv4(r.Content) {
			return Record{}, invalidf("content", raw.Content, "A record requires an IPv4 address")
		}
	case TypeAAAA:
		if !isIPv6(r.Content) {
			return Record{}, invalidf("content", raw.Content, "AAAA record requires an IPv6 address")
		}
	case TypeCNAME, TypeNS:
		r.Content = NormalizeName(r.Content)
	case TypeMX:
		if r.Priority == nil {
			return Record{}, invalidf("priority", "", "MX record requires a priority")
		}
		r.Content = NormalizeName(r.Content)
	case TypeSRV:
		if r.Priority == nil {
			return Record{}, invalidf("priority", "", "SRV record requires a priority")
		}
		if r.Weight == nil {
			return Record{}, invalidf("weight", "", "SRV record requires a weight")
		}
		if r.Port == nil {
			return Record{}, invalidf("port", "", "SRV record requires a port")
		}
		r.Content = NormalizeName(r.Content)
	case TypeCAA:
		if !caaTags[r.Tag] {
			return Record{}, invalidf("tag", r.Tag, "CAA tag must be issue, issuewild, or iodef")
		}
		if r.Flags == nil {
			zero := uint8(0)
			r.Flags = &zero
		}
	case TypeTXT:
		// TXT content is free-form, including leading/trailing quotes.
		r.Content = raw.Content
	}

	return r, nil
}

// Equal reports whether two records are identical for reconciliation
// purposes: same fingerprint. Transient fields (comment, external ids)
// are ignored.
func Equal(a, b Record) bool {
	return Fingerprint(a) == Fingerprint(b)
}

func isIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

func isIPv6(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is6() && !addr.Is4In6()
}
