package config

import (
	"strings"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
)

// ProviderConfig describes one DNS provider instance.
type ProviderConfig struct {
	ID             string
	Name           string
	Type           string // cloudflare, digitalocean, route53, rfc2136
	Enabled        bool
	Default        bool
	BaseDomain     string
	Zone           string
	DefaultTTL     int
	DefaultProxied bool
	RateLimit      int
	Credentials    map[string]string
}

// KnownProviderTypes are the adapter types the engine ships.
var KnownProviderTypes = []string{"cloudflare", "digitalocean", "route53", "rfc2136"}

// credentialKeys lists the secret names each adapter type understands,
// so environment lookups know what to resolve.
var credentialKeys = map[string][]string{
	"cloudflare":   {"api_token"},
	"digitalocean": {"token"},
	"route53":      {"access_key_id", "secret_access_key", "region"},
	"rfc2136":      {"server", "tsig_key_name", "tsig_secret", "tsig_algorithm"},
}

// Descriptor converts the configuration into the registry's shape.
func (p ProviderConfig) Descriptor() provider.Descriptor {
	creds := make(map[string]string, len(p.Credentials))
	for k, v := range p.Credentials {
		creds[k] = v
	}
	return provider.Descriptor{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Credentials: creds,
		Enabled:     p.Enabled,
		IsDefault:   p.Default,
		Settings: provider.Settings{
			DefaultTTL:     p.DefaultTTL,
			DefaultProxied: p.DefaultProxied,
			BaseDomain:     p.BaseDomain,
			Zone:           p.Zone,
			RateLimit:      p.RateLimit,
		},
	}
}

// resolveCredentials fills provider secrets from the environment:
// TRAFEGO_<INSTANCE>_<KEY> with the usual _FILE fallback. Environment
// values override file values so secrets never need to live in the
// config file.
func resolveCredentials(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Credentials == nil {
			p.Credentials = make(map[string]string)
		}
		prefix := instanceEnvPrefix(p.ID)
		if v := getEnv(prefix + "ENABLED"); v != "" {
			p.Enabled = parseBool(v, p.Enabled)
		}
		for _, key := range credentialKeys[p.Type] {
			if v := getEnvOrFile(prefix+strings.ToUpper(key), prefix+strings.ToUpper(key)+"_FILE"); v != "" {
				p.Credentials[key] = v
			}
		}
	}
}

// instanceEnvPrefix maps an instance id to its environment namespace.
// Example: "cf-prod" -> "TRAFEGO_CF_PROD_".
func instanceEnvPrefix(id string) string {
	normalized := strings.ToUpper(id)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return "TRAFEGO_" + normalized + "_"
}
