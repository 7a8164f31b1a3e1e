package health

import (
	"context"
	"fmt"
	"strings"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
)

// resultSource is the slice of the scheduler the cycle checker reads.
type resultSource interface {
	LastResult(providerID string) *reconciler.Result
}

// DatabaseCheck reports readiness of the state store.
func DatabaseCheck(st *store.Store) CheckFunc {
	return func(ctx context.Context) error {
		return st.Ping(ctx)
	}
}

// ProvidersCheck fails readiness when no provider instance is enabled;
// without one the engine cannot apply anything.
func ProvidersCheck(reg *provider.Registry) CheckFunc {
	return func(_ context.Context) error {
		for _, inst := range reg.All() {
			if reg.Enabled(inst.ID()) {
				return nil
			}
		}
		return fmt.Errorf("no enabled providers")
	}
}

// CyclesCheck reports degradation when the most recent cycle of any
// enabled provider recorded failures.
func CyclesCheck(reg *provider.Registry, results resultSource) DegradeFunc {
	return func(_ context.Context) (bool, string) {
		var failing []string
		for _, inst := range reg.All() {
			if !reg.Enabled(inst.ID()) {
				continue
			}
			if res := results.LastResult(inst.ID()); res != nil && res.Failed > 0 {
				failing = append(failing, fmt.Sprintf("%s (%d failed)", inst.ID(), res.Failed))
			}
		}
		if len(failing) == 0 {
			return false, ""
		}
		return true, "providers with failing cycles: " + strings.Join(failing, ", ")
	}
}
