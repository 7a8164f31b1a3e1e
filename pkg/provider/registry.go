package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Factory creates an adapter from a descriptor.
type Factory func(desc Descriptor) (Adapter, error)

// Instance pairs a live adapter with its descriptor and runtime enabled
// state. The adapter is already wrapped with throttling and retry.
type Instance struct {
	Adapter
	Desc Descriptor
}

// ID returns the engine-assigned provider instance id.
func (i *Instance) ID() string {
	return i.Desc.ID
}

// Registry manages adapter factories and configured provider instances.
// Instances keep registration order so reconciliation cycles walk
// providers deterministically.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*Instance
	disabled  map[string]bool
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
		instances: make(map[string]*Instance),
		disabled:  make(map[string]bool),
	}
}

// RegisterFactory registers an adapter factory for a provider type.
func (r *Registry) RegisterFactory(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// CreateInstance builds an adapter from the descriptor, wraps it with the
// instance rate limiter and retry policy, and registers it under its id.
func (r *Registry) CreateInstance(desc Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.ID == "" {
		return fmt.Errorf("provider descriptor has no id")
	}
	if _, exists := r.instances[desc.ID]; exists {
		return fmt.Errorf("provider %s already registered", desc.ID)
	}
	factory, ok := r.factories[desc.Type]
	if !ok {
		return fmt.Errorf("unknown provider type: %s", desc.Type)
	}

	adapter, err := factory(desc)
	if err != nil {
		return fmt.Errorf("creating provider %s: %w", desc.ID, err)
	}

	adapter = Throttled(adapter, desc.Settings.RateLimit)
	adapter = WithRetry(adapter, r.logger)

	r.instances[desc.ID] = &Instance{Adapter: adapter, Desc: desc}
	r.disabled[desc.ID] = !desc.Enabled
	r.order = append(r.order, desc.ID)

	r.logger.Info("registered provider",
		slog.String("id", desc.ID),
		slog.String("type", desc.Type),
		slog.String("base_domain", desc.Settings.BaseDomain),
		slog.Bool("enabled", desc.Enabled),
		slog.Bool("default", desc.IsDefault),
	)
	return nil
}

// Get returns a provider instance by id.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// All returns every instance in registration order, including disabled
// ones.
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.instances[id])
	}
	return out
}

// Enabled reports whether a provider is currently active.
func (r *Registry) Enabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[id]
	return ok && !r.disabled[id]
}

// Disable takes a provider out of rotation, typically after a permanent
// authentication failure. It stays disabled until credentials change and
// the process restarts, or Enable is called.
func (r *Registry) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; ok {
		r.disabled[id] = true
		r.logger.Warn("provider disabled", slog.String("id", id))
	}
}

// Enable puts a provider back into rotation.
func (r *Registry) Enable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; ok {
		r.disabled[id] = false
		r.logger.Info("provider enabled", slog.String("id", id))
	}
}

// ForHostname routes a hostname to a provider instance: the first enabled
// provider whose base domain suffix matches wins; otherwise the default
// provider, if any, takes it.
func (r *Registry) ForHostname(hostname string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))

	var fallback *Instance
	for _, id := range r.order {
		inst := r.instances[id]
		if r.disabled[id] {
			continue
		}
		base := strings.ToLower(inst.Desc.Settings.BaseDomain)
		if base != "" && (hostname == base || strings.HasSuffix(hostname, "."+base)) {
			return inst, true
		}
		if inst.Desc.IsDefault && fallback == nil {
			fallback = inst
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}
