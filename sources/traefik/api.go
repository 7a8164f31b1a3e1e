package traefik

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/trafego/pkg/source"
)

// apiRouter is the slice of a Traefik /api/http/routers entry we read.
type apiRouter struct {
	Name   string `json:"name"`
	Rule   string `json:"rule"`
	Status string `json:"status"`
}

// fetchRouters polls the Traefik API for HTTP routers. Disabled routers
// are skipped so records for failing services do not linger as desired.
func (t *Traefik) fetchRouters(ctx context.Context) ([]apiRouter, error) {
	url := strings.TrimRight(t.config.APIURL, "/") + "/api/http/routers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling traefik api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("traefik api returned status %d", resp.StatusCode)
	}

	var routers []apiRouter
	if err := json.NewDecoder(resp.Body).Decode(&routers); err != nil {
		return nil, fmt.Errorf("decoding traefik routers: %w", err)
	}

	out := routers[:0]
	for _, r := range routers {
		if r.Status != "" && r.Status != "enabled" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Watch polls the hostname set and calls notify when it changes. Blocks
// until the context is cancelled. Poll failures are logged and retried
// on the next tick.
func (t *Traefik) Watch(ctx context.Context, notify func()) {
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	var last [32]byte
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		recs, err := t.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("traefik poll failed", slog.String("error", err.Error()))
			continue
		}

		sum := snapshotDigest(recs)
		if !first && sum != last {
			t.logger.Info("traefik hostname set changed")
			notify()
		}
		last = sum
		first = false
	}
}

func snapshotDigest(recs []source.DesiredRecord) [32]byte {
	h := sha256.New()
	for _, r := range recs {
		fmt.Fprintf(h, "%s/%s/%s\x00", r.Type, r.Name, r.Content)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
