package docker

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// Label suffixes under the configured prefix.
//
//	trafego.enable    = "false" opts a labelled container out
//	trafego.hostname  = "app.example.com,www.example.com"
//	trafego.type      = "A" | "AAAA" | "CNAME" | "TXT" | ...
//	trafego.target    = record content (defaults to the source target)
//	trafego.ttl       = seconds
//	trafego.proxied   = "true" | "false"
//	trafego.provider  = provider instance id (pins routing)
const (
	labelEnable   = "enable"
	labelHostname = "hostname"
	labelType     = "type"
	labelTarget   = "target"
	labelTTL      = "ttl"
	labelProxied  = "proxied"
	labelProvider = "provider"
)

func (d *Docker) label(labels map[string]string, suffix string) (string, bool) {
	v, ok := labels[d.config.LabelPrefix+"."+suffix]
	return strings.TrimSpace(v), ok
}

// parseLabels converts one container's labels into desired records.
// Containers without a hostname label are silently ignored; labelled
// containers with invalid values are an error so the operator hears
// about the typo instead of losing records.
func (d *Docker) parseLabels(containerName string, labels map[string]string) ([]source.DesiredRecord, error) {
	hostnames, ok := d.label(labels, labelHostname)
	if !ok || hostnames == "" {
		return nil, nil
	}
	if v, ok := d.label(labels, labelEnable); ok && !parseBool(v) {
		return nil, nil
	}

	tmpl := record.Record{
		Type:    d.config.RecordType,
		Content: d.config.Target,
		TTL:     d.config.TTL,
	}

	if v, ok := d.label(labels, labelType); ok {
		tmpl.Type = record.Type(strings.ToUpper(v))
	}
	if v, ok := d.label(labels, labelTarget); ok {
		tmpl.Content = v
	}
	if v, ok := d.label(labels, labelTTL); ok {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl < 0 {
			return nil, fmt.Errorf("label %s.%s: invalid ttl %q", d.config.LabelPrefix, labelTTL, v)
		}
		tmpl.TTL = ttl
	}
	if v, ok := d.label(labels, labelProxied); ok {
		proxied := parseBool(v)
		tmpl.Proxied = &proxied
	}

	if tmpl.Type == "" || tmpl.Content == "" {
		return nil, fmt.Errorf("container %s: no record type or target (set %s.%s or configure source defaults)",
			containerName, d.config.LabelPrefix, labelTarget)
	}

	providerID, _ := d.label(labels, labelProvider)

	var out []source.DesiredRecord
	for _, hostname := range strings.Split(hostnames, ",") {
		hostname = strings.TrimSpace(hostname)
		if hostname == "" {
			continue
		}
		rec := tmpl
		rec.Name = hostname
		out = append(out, source.DesiredRecord{
			Record:     rec,
			ProviderID: providerID,
			SourceName: sourceName,
			Origin:     containerName,
		})
	}
	return out, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
