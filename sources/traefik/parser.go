package traefik

import (
	"regexp"
	"strings"
)

// hostRegex matches Host(`hostname`) patterns in Traefik router rules.
var hostRegex = regexp.MustCompile(`Host\(` + "`" + `([^` + "`" + `]+)` + "`" + `\)`)

// hostnameExtraction is a hostname with the router that declared it.
type hostnameExtraction struct {
	Hostname string
	Router   string
}

// extractHostsFromRule extracts every hostname from a router rule.
// Handles the usual matcher shapes:
//   - Host(`example.com`)
//   - Host(`a.com`) || Host(`b.com`)
//   - Host(`example.com`) && PathPrefix(`/api`)
//   - (Host(`a.com`) || Host(`b.com`)) && PathPrefix(`/`)
func extractHostsFromRule(rule string) []string {
	seen := make(map[string]struct{})
	var hosts []string

	for _, match := range hostRegex.FindAllStringSubmatch(rule, -1) {
		if len(match) < 2 {
			continue
		}
		hostname := strings.TrimSpace(match[1])
		if hostname == "" {
			continue
		}
		if _, exists := seen[hostname]; !exists {
			seen[hostname] = struct{}{}
			hosts = append(hosts, hostname)
		}
	}
	return hosts
}
