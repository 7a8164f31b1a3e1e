package traefik

import (
	"reflect"
	"testing"
)

func TestExtractHostsFromRule(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want []string
	}{
		{
			name: "single host",
			rule: "Host(`app.example.com`)",
			want: []string{"app.example.com"},
		},
		{
			name: "multiple hosts or-ed",
			rule: "Host(`a.example.com`) || Host(`b.example.com`)",
			want: []string{"a.example.com", "b.example.com"},
		},
		{
			name: "host with path prefix",
			rule: "Host(`api.example.com`) && PathPrefix(`/v1`)",
			want: []string{"api.example.com"},
		},
		{
			name: "parenthesized combination",
			rule: "(Host(`a.example.com`) || Host(`b.example.com`)) && PathPrefix(`/`)",
			want: []string{"a.example.com", "b.example.com"},
		},
		{
			name: "duplicate host in one rule",
			rule: "Host(`app.example.com`) || Host(`app.example.com`)",
			want: []string{"app.example.com"},
		},
		{
			name: "no host matcher",
			rule: "PathPrefix(`/api`)",
			want: nil,
		},
		{
			name: "empty rule",
			rule: "",
			want: nil,
		},
		{
			name: "whitespace inside backticks",
			rule: "Host(` app.example.com `)",
			want: []string{"app.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractHostsFromRule(tt.rule)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractHostsFromRule(%q) = %v, want %v", tt.rule, got, tt.want)
			}
		})
	}
}
