package config

import (
	"net"
	"time"
)

// Source defaults.
const (
	DefaultTraefikPollInterval = 30 * time.Second
	DefaultTraefikFilePattern  = "*.yml,*.yaml"
	DefaultDockerHost          = "unix:///var/run/docker.sock"
	DefaultDockerLabelPrefix   = "trafego"
)

// SourceConfig describes one hostname source instance.
type SourceConfig struct {
	Name string // traefik, docker

	// RecordType and Target shape the records published for every
	// discovered hostname (e.g. CNAME to the proxy's public name, or A
	// to its address). Docker labels may override both per container.
	RecordType string
	Target     string

	// Traefik: API polling and/or dynamic-config file discovery.
	// Presence of APIURL or FilePaths implies the respective mode.
	APIURL       string
	PollInterval time.Duration
	FilePaths    []string
	FilePattern  string
	DefaultTTL   int

	// Docker: label discovery over the engine API.
	Host        string
	LabelPrefix string
}

// KnownSourceNames are the source implementations the engine ships.
var KnownSourceNames = []string{"traefik", "docker"}

// withSourceDefaults fills per-source defaults after file and env merge.
func withSourceDefaults(s SourceConfig) SourceConfig {
	if s.RecordType == "" && s.Target != "" {
		s.RecordType = inferRecordType(s.Target)
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultTraefikPollInterval
	}
	if s.FilePattern == "" {
		s.FilePattern = DefaultTraefikFilePattern
	}
	if s.Name == "docker" && s.Host == "" {
		s.Host = DefaultDockerHost
	}
	if s.Name == "docker" && s.LabelPrefix == "" {
		s.LabelPrefix = DefaultDockerLabelPrefix
	}
	return s
}

// inferRecordType picks the record type implied by the target: an IPv4
// address means A, IPv6 means AAAA, anything else is a CNAME target.
func inferRecordType(target string) string {
	ip := net.ParseIP(target)
	switch {
	case ip == nil:
		return "CNAME"
	case ip.To4() != nil:
		return "A"
	default:
		return "AAAA"
	}
}
