package rfc2136

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// fakeConn is an in-memory RFC 2136 server double. Update messages are
// applied to the record map the way a real server would.
type fakeConn struct {
	records     map[string]dns.RR
	queryRcode  int
	updateRcode int
	exchangeErr error
	transferErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{records: make(map[string]dns.RR)}
}

// normKey identifies an RR regardless of class and TTL, which update
// messages rewrite for the remove encoding.
func normKey(rr dns.RR) string {
	c := dns.Copy(rr)
	h := c.Header()
	h.Class = dns.ClassINET
	h.Ttl = 0
	return c.String()
}

func (f *fakeConn) add(rr dns.RR) {
	f.records[normKey(rr)] = rr
}

func (f *fakeConn) Exchange(msg *dns.Msg) (*dns.Msg, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	resp := new(dns.Msg)
	resp.SetReply(msg)

	if msg.Opcode == dns.OpcodeQuery {
		resp.Rcode = f.queryRcode
		return resp, nil
	}

	if f.updateRcode != dns.RcodeSuccess {
		resp.Rcode = f.updateRcode
		return resp, nil
	}
	for _, rr := range msg.Ns {
		switch rr.Header().Class {
		case dns.ClassNONE:
			delete(f.records, normKey(rr))
		case dns.ClassANY:
			for key, existing := range f.records {
				h := existing.Header()
				if h.Name == rr.Header().Name && h.Rrtype == rr.Header().Rrtype {
					delete(f.records, key)
				}
			}
		default:
			f.add(rr)
		}
	}
	return resp, nil
}

func (f *fakeConn) Transfer(*dns.Msg) ([]dns.RR, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	var rrs []dns.RR
	for _, rr := range f.records {
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func newAdapter(t *testing.T, conn *fakeConn) *Adapter {
	t.Helper()
	a, err := New(provider.Descriptor{
		ID:   "bind-internal",
		Type: "rfc2136",
		Settings: provider.Settings{
			BaseDomain: "example.com",
			DefaultTTL: 300,
		},
	}, WithConn(conn))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatal(err)
	}
	return rr
}

func TestCreateWritesOwnershipTXT(t *testing.T) {
	conn := newFakeConn()
	a := newAdapter(t, conn)

	pr, err := a.CreateRecord(context.Background(), record.Record{
		Type:    record.TypeA,
		Name:    "app.example.com",
		Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if pr.TTL != 300 {
		t.Errorf("ttl = %d, want settings default", pr.TTL)
	}
	if pr.ExternalID == "" {
		t.Error("external id is empty")
	}

	if len(conn.records) != 2 {
		t.Fatalf("server holds %d records, want record plus ownership TXT", len(conn.records))
	}
	var foundTXT bool
	for _, rr := range conn.records {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if txt.Header().Name != "_trafego.app.example.com." {
			t.Errorf("ownership name = %q", txt.Header().Name)
		}
		if len(txt.Txt) != 1 || txt.Txt[0] != "heritage=trafego,type=a" {
			t.Errorf("ownership value = %v", txt.Txt)
		}
		foundTXT = true
	}
	if !foundTXT {
		t.Error("no ownership TXT written")
	}
}

func TestListMarksOwnedRecords(t *testing.T) {
	conn := newFakeConn()
	a := newAdapter(t, conn)
	ctx := context.Background()

	if _, err := a.CreateRecord(ctx, record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	}); err != nil {
		t.Fatal(err)
	}
	conn.add(mustRR(t, "legacy.example.com. 3600 IN A 192.0.2.99"))

	recs, err := a.ListRecords(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("listed = %+v, ownership TXT must not surface as a record", recs)
	}
	byName := map[string]record.ProviderRecord{}
	for _, pr := range recs {
		byName[pr.Name] = pr
	}
	if !byName["app.example.com"].HasOwnershipMarker() {
		t.Error("created record should carry the ownership marker")
	}
	if byName["legacy.example.com"].HasOwnershipMarker() {
		t.Error("foreign record must not carry the ownership marker")
	}
}

func TestUpdateReplacesRecord(t *testing.T) {
	conn := newFakeConn()
	a := newAdapter(t, conn)
	ctx := context.Background()

	pr, err := a.CreateRecord(ctx, record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := a.UpdateRecord(ctx, pr.ExternalID, record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.2",
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if updated.Content != "192.0.2.2" {
		t.Errorf("updated = %+v", updated)
	}

	recs, err := a.ListRecords(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Content != "192.0.2.2" {
		t.Errorf("listed after update = %+v", recs)
	}
}

func TestDeleteRemovesRecordAndOwnership(t *testing.T) {
	conn := newFakeConn()
	a := newAdapter(t, conn)
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
	if len(conn.records) != 0 {
		t.Errorf("server still holds %d records", len(conn.records))
	}

	if err := a.DeleteRecord(ctx, pr.ExternalID); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if err := a.DeleteRecord(ctx, "not an rr"); err != nil {
		t.Errorf("malformed id should be a no-op, got %v", err)
	}
}

func TestExternalIDRoundTrip(t *testing.T) {
	a := newAdapter(t, newFakeConn())

	prio, weight, port := uint16(10), uint16(5), uint16(8443)
	records := []record.Record{
		{Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1"},
		{Type: record.TypeSRV, Name: "_https._tcp.example.com", Content: "gw.example.com",
			Priority: &prio, Weight: &weight, Port: &port},
	}
	for _, want := range records {
		id := a.externalID(want)
		rr, err := parseExternalID(id)
		if err != nil {
			t.Fatalf("parseExternalID(%q) error = %v", id, err)
		}
		got, ok := a.fromRR(rr)
		if !ok {
			t.Fatalf("fromRR(%q) rejected", id)
		}
		if got.Type != want.Type || got.Name != want.Name || got.Content != want.Content {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestInitZoneNotFound(t *testing.T) {
	conn := newFakeConn()
	conn.queryRcode = dns.RcodeNameError
	a := newAdapter(t, conn)

	err := a.Init(context.Background())
	if !errors.Is(err, provider.ErrZoneNotFound) {
		t.Errorf("Init() error = %v, want zone not found", err)
	}
}

func TestRefusedMapsUnauthorized(t *testing.T) {
	conn := newFakeConn()
	conn.updateRcode = dns.RcodeRefused
	a := newAdapter(t, conn)

	_, err := a.CreateRecord(context.Background(), record.Record{
		Type: record.TypeA, Name: "app.example.com", Content: "192.0.2.1",
	})
	if !provider.IsUnauthorized(err) {
		t.Errorf("CreateRecord() error = %v, want unauthorized", err)
	}
}

func TestTransportErrorMapsUnreachable(t *testing.T) {
	conn := newFakeConn()
	conn.transferErr = errors.New("dial tcp: connection refused")
	a := newAdapter(t, conn)

	_, err := a.ListRecords(context.Background(), nil)
	if !provider.IsUnreachable(err) {
		t.Errorf("ListRecords() error = %v, want unreachable", err)
	}
}

func TestCapabilities(t *testing.T) {
	a := newAdapter(t, newFakeConn())
	if a.Supports(provider.CapabilityProxying) {
		t.Error("Supports(proxying) = true")
	}
	if a.Supports(provider.CapabilityComments) {
		t.Error("Supports(comments) = true, zone records carry no comment")
	}
	if !a.Supports(provider.CapabilityMultiValueA) {
		t.Error("Supports(multi-value-a) = false")
	}
}

func TestMissingTSIGCredentials(t *testing.T) {
	_, err := New(provider.Descriptor{
		ID:   "bind-internal",
		Type: "rfc2136",
		Settings: provider.Settings{
			BaseDomain: "example.com",
		},
		Credentials: map[string]string{"server": "ns1.example.com:53"},
	})
	if !errors.Is(err, provider.ErrUnauthorized) {
		t.Errorf("New() without TSIG credentials = %v", err)
	}
}

func TestUnsupportedAlgorithmRejected(t *testing.T) {
	_, err := New(provider.Descriptor{
		ID:   "bind-internal",
		Type: "rfc2136",
		Settings: provider.Settings{
			BaseDomain: "example.com",
		},
		Credentials: map[string]string{
			"server":         "ns1.example.com:53",
			"tsig_key_name":  "trafego",
			"tsig_secret":    "c2VjcmV0",
			"tsig_algorithm": "hmac-md5",
		},
	})
	if err == nil || !strings.Contains(err.Error(), "hmac-md5") {
		t.Errorf("New() with hmac-md5 = %v, want rejection naming the algorithm", err)
	}
}
