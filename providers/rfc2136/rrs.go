package rfc2136

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// toRR converts a canonical record into a wire RR.
func (a *Adapter) toRR(r record.Record) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:   dns.Fqdn(r.Name),
		Rrtype: dns.StringToType[string(r.Type)],
		Class:  dns.ClassINET,
		Ttl:    a.ttlFor(r),
	}
	switch r.Type {
	case record.TypeA:
		ip := net.ParseIP(r.Content)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("A record %s: bad address %q", r.Name, r.Content)
		}
		return &dns.A{Hdr: hdr, A: ip.To4()}, nil
	case record.TypeAAAA:
		ip := net.ParseIP(r.Content)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("AAAA record %s: bad address %q", r.Name, r.Content)
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, nil
	case record.TypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(r.Content)}, nil
	case record.TypeNS:
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(r.Content)}, nil
	case record.TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{r.Content}}, nil
	case record.TypeMX:
		if r.Priority == nil {
			return nil, fmt.Errorf("MX record %s: missing priority", r.Name)
		}
		return &dns.MX{Hdr: hdr, Preference: *r.Priority, Mx: dns.Fqdn(r.Content)}, nil
	case record.TypeSRV:
		if r.Priority == nil || r.Weight == nil || r.Port == nil {
			return nil, fmt.Errorf("SRV record %s: missing priority, weight, or port", r.Name)
		}
		return &dns.SRV{
			Hdr:      hdr,
			Priority: *r.Priority,
			Weight:   *r.Weight,
			Port:     *r.Port,
			Target:   dns.Fqdn(r.Content),
		}, nil
	case record.TypeCAA:
		var flags uint8
		if r.Flags != nil {
			flags = *r.Flags
		}
		return &dns.CAA{Hdr: hdr, Flag: flags, Tag: r.Tag, Value: r.Content}, nil
	}
	return nil, fmt.Errorf("unsupported record type %q", r.Type)
}

// fromRR converts a wire RR back into the canonical model. Ownership
// TXTs and types the engine does not handle report ok=false.
func (a *Adapter) fromRR(rr dns.RR) (record.Record, bool) {
	hdr := rr.Header()
	name := strings.TrimSuffix(hdr.Name, ".")
	if isOwnershipName(name) {
		return record.Record{}, false
	}

	r := record.Record{
		Name: name,
		TTL:  int(hdr.Ttl),
	}
	switch v := rr.(type) {
	case *dns.A:
		r.Type = record.TypeA
		r.Content = v.A.String()
	case *dns.AAAA:
		r.Type = record.TypeAAAA
		r.Content = v.AAAA.String()
	case *dns.CNAME:
		r.Type = record.TypeCNAME
		r.Content = strings.TrimSuffix(v.Target, ".")
	case *dns.NS:
		r.Type = record.TypeNS
		r.Content = strings.TrimSuffix(v.Ns, ".")
	case *dns.TXT:
		r.Type = record.TypeTXT
		r.Content = strings.Join(v.Txt, "")
	case *dns.MX:
		r.Type = record.TypeMX
		r.Content = strings.TrimSuffix(v.Mx, ".")
		pref := v.Preference
		r.Priority = &pref
	case *dns.SRV:
		r.Type = record.TypeSRV
		r.Content = strings.TrimSuffix(v.Target, ".")
		prio, weight, port := v.Priority, v.Weight, v.Port
		r.Priority = &prio
		r.Weight = &weight
		r.Port = &port
	case *dns.CAA:
		r.Type = record.TypeCAA
		r.Content = v.Value
		flags := v.Flag
		r.Flags = &flags
		r.Tag = v.Tag
	default:
		return record.Record{}, false
	}
	return r, true
}

// externalID is the RR in zone-file presentation with the TTL zeroed,
// so the same record always yields the same id.
func (a *Adapter) externalID(r record.Record) string {
	rr, err := a.toRR(r)
	if err != nil {
		return ""
	}
	rr.Header().Ttl = 0
	return rr.String()
}

// parseExternalID parses the presentation form back into an RR.
func parseExternalID(id string) (dns.RR, error) {
	rr, err := dns.NewRR(id)
	if err != nil {
		return nil, err
	}
	if rr == nil {
		return nil, fmt.Errorf("empty external id")
	}
	return rr, nil
}

// ownershipRR builds the companion TXT that marks a record as engine
// owned: _trafego.<name> TXT "heritage=trafego,type=<type>".
func (a *Adapter) ownershipRR(r record.Record) dns.RR {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(record.OwnershipTXTPrefix + "." + record.NormalizeName(r.Name)),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    a.ttlFor(r),
		},
		Txt: []string{ownershipValue(r.Type)},
	}
}

func ownershipValue(t record.Type) string {
	return record.OwnershipTXTValue + ",type=" + strings.ToLower(string(t))
}

func isOwnershipName(name string) bool {
	return strings.HasPrefix(name, record.OwnershipTXTPrefix+".")
}

// ownedKeys collects the (type, name) pairs covered by ownership TXTs
// in a zone transfer.
func ownedKeys(rrs []dns.RR) map[record.Key]bool {
	owned := make(map[record.Key]bool)
	for _, rr := range rrs {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		name := strings.TrimSuffix(txt.Header().Name, ".")
		if !isOwnershipName(name) {
			continue
		}
		host := strings.TrimPrefix(name, record.OwnershipTXTPrefix+".")
		for _, value := range txt.Txt {
			if !strings.HasPrefix(value, record.OwnershipTXTValue) {
				continue
			}
			_, typePart, ok := strings.Cut(value, ",type=")
			if !ok {
				continue
			}
			typ := record.Type(strings.ToUpper(typePart))
			if record.ValidType(typ) {
				owned[record.Key{Type: typ, Name: record.NormalizeName(host)}] = true
			}
		}
	}
	return owned
}
