package route53

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// externalID encodes a record key as "TYPE/name".
func externalID(key record.Key) string {
	return string(key.Type) + "/" + key.Name
}

func parseExternalID(id string) (record.Key, error) {
	typ, name, ok := strings.Cut(id, "/")
	if !ok || typ == "" || name == "" {
		return record.Key{}, fmt.Errorf("malformed external id %q", id)
	}
	key := record.Key{Type: record.Type(typ), Name: record.NormalizeName(name)}
	if !record.ValidType(key.Type) {
		return record.Key{}, fmt.Errorf("unsupported type in external id %q", id)
	}
	return key, nil
}

// toSet builds the single-value record set for a canonical record,
// folding priority, weight, port, and flags into the value string the
// way Route 53 expects them.
func (a *Adapter) toSet(r record.Record) r53types.ResourceRecordSet {
	return r53types.ResourceRecordSet{
		Name: aws.String(r.Name + "."),
		Type: r53types.RRType(r.Type),
		TTL:  aws.Int64(a.ttlFor(r)),
		ResourceRecords: []r53types.ResourceRecord{
			{Value: aws.String(encodeValue(r))},
		},
	}
}

// fromSet expands a record set into one provider record per value.
func (a *Adapter) fromSet(set r53types.ResourceRecordSet) []record.ProviderRecord {
	typ := record.Type(set.Type)
	if !record.ValidType(typ) {
		return nil
	}
	name := strings.TrimSuffix(unescapeName(aws.ToString(set.Name)), ".")

	out := make([]record.ProviderRecord, 0, len(set.ResourceRecords))
	for _, rr := range set.ResourceRecords {
		r, err := decodeValue(typ, aws.ToString(rr.Value))
		if err != nil {
			a.logger.Debug("skipping unparseable record value",
				"provider", a.id, "name", name, "type", string(typ))
			continue
		}
		r.Name = name
		r.TTL = int(aws.ToInt64(set.TTL))
		out = append(out, record.ProviderRecord{
			Record:     r,
			ProviderID: a.id,
			ExternalID: externalID(r.Key()),
		})
	}
	return out
}

// encodeValue renders the Route 53 value string for a record.
func encodeValue(r record.Record) string {
	switch r.Type {
	case record.TypeTXT:
		return quoteTXT(r.Content)
	case record.TypeMX:
		return fmt.Sprintf("%d %s", deref16(r.Priority), r.Content)
	case record.TypeSRV:
		return fmt.Sprintf("%d %d %d %s",
			deref16(r.Priority), deref16(r.Weight), deref16(r.Port), r.Content)
	case record.TypeCAA:
		var flags uint8
		if r.Flags != nil {
			flags = *r.Flags
		}
		return fmt.Sprintf("%d %s %q", flags, r.Tag, r.Content)
	}
	return r.Content
}

// decodeValue parses a Route 53 value string back into record fields.
func decodeValue(typ record.Type, value string) (record.Record, error) {
	r := record.Record{Type: typ, Content: value}
	switch typ {
	case record.TypeTXT:
		r.Content = unquoteTXT(value)
	case record.TypeMX:
		prio, rest, err := leadingUint16(value)
		if err != nil {
			return record.Record{}, err
		}
		r.Priority = &prio
		r.Content = rest
	case record.TypeSRV:
		prio, rest, err := leadingUint16(value)
		if err != nil {
			return record.Record{}, err
		}
		weight, rest, err := leadingUint16(rest)
		if err != nil {
			return record.Record{}, err
		}
		port, rest, err := leadingUint16(rest)
		if err != nil {
			return record.Record{}, err
		}
		r.Priority = &prio
		r.Weight = &weight
		r.Port = &port
		r.Content = rest
	case record.TypeCAA:
		fields := strings.SplitN(value, " ", 3)
		if len(fields) != 3 {
			return record.Record{}, fmt.Errorf("malformed CAA value %q", value)
		}
		flags, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil {
			return record.Record{}, err
		}
		f := uint8(flags)
		r.Flags = &f
		r.Tag = fields[1]
		r.Content = unquoteTXT(fields[2])
	}
	return r, nil
}

func leadingUint16(s string) (uint16, string, error) {
	head, rest, ok := strings.Cut(s, " ")
	if !ok {
		return 0, "", fmt.Errorf("malformed value %q", s)
	}
	n, err := strconv.ParseUint(head, 10, 16)
	if err != nil {
		return 0, "", err
	}
	return uint16(n), rest, nil
}

func quoteTXT(s string) string {
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		return s
	}
	return strconv.Quote(s)
}

func unquoteTXT(s string) string {
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}

// nameEscapes maps the octal escapes Route 53 emits for characters it
// considers special in record names.
var nameEscapes = strings.NewReplacer(`\052`, "*", `\100`, "@", `\.`, ".")

func unescapeName(name string) string {
	return nameEscapes.Replace(name)
}

func deref16(p *uint16) uint16 {
	if p == nil {
		return 0
	}
	return *p
}
