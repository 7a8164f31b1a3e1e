package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// fingerprintSep separates fields in the canonical tuple. A control
// character keeps field boundaries unambiguous without escaping.
const fingerprintSep = "\x1f"

// Fingerprint returns a stable hex digest of the record's canonical
// content. Equal fingerprints mean "same record, same content" for
// reconciliation purposes.
//
// The digest covers type, normalized name, content, ttl, and whichever
// type-conditional fields are present. Proxied is included as "0"/"1"
// only when set; for providers where proxying is not meaningful the field
// is nil and therefore omitted, so the same logical record fingerprints
// identically across providers.
func Fingerprint(r Record) string {
	fields := make([]string, 0, 10)
	fields = append(fields,
		string(r.Type),
		NormalizeName(r.Name),
		r.Content,
		strconv.Itoa(r.TTL),
	)

	if r.Proxied != nil {
		if *r.Proxied {
			fields = append(fields, "proxied=1")
		} else {
			fields = append(fields, "proxied=0")
		}
	}
	if r.Priority != nil {
		fields = append(fields, "priority="+strconv.Itoa(int(*r.Priority)))
	}
	if r.Weight != nil {
		fields = append(fields, "weight="+strconv.Itoa(int(*r.Weight)))
	}
	if r.Port != nil {
		fields = append(fields, "port="+strconv.Itoa(int(*r.Port)))
	}
	if r.Flags != nil {
		fields = append(fields, "flags="+strconv.Itoa(int(*r.Flags)))
	}
	if r.Tag != "" {
		fields = append(fields, "tag="+r.Tag)
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, fingerprintSep)))
	return hex.EncodeToString(sum[:])
}
