package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrRegistrySealed    = errors.New("provider registry is sealed")
	ErrNilFactory        = errors.New("provider factory is nil")
)

type registryKey struct {
	capability Capability
	name       string
}

type registryEntry struct {
	desc    Descriptor
	factory Factory
	opts    Options
	handle  *Handle
}

// Registry maps (capability, name) to provider factories and resolved handles.
// Registration happens once at startup; Seal stops further registration.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]*registryEntry
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]*registryEntry)}
}

// Register adds a provider. Names must be unique per capability.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, desc.ID())
	}
	if desc.Name == "" {
		return errors.New("provider name is required")
	}
	if _, err := ParseCapability(string(desc.Capability)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	key := registryKey{desc.Capability, desc.Name}
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, desc.ID())
	}
	r.entries[key] = &registryEntry{desc: desc, factory: factory}
	return nil
}

// RegisterAll registers every registration, stopping at the first error.
func (r *Registry) RegisterAll(regs []Registration) error {
	for _, reg := range regs {
		if err := r.Register(reg.Descriptor, reg.Factory); err != nil {
			return err
		}
	}
	return nil
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the handle for a provider, building the instance on first
// use. opts are remembered and reused by Rebuild; nil keeps the options from
// an earlier call.
func (r *Registry) Resolve(capability Capability, name string, opts Options) (*Handle, error) {
	key := registryKey{capability, name}

	r.mu.RLock()
	entry, ok := r.entries[key]
	if ok && entry.handle != nil {
		h := entry.handle
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, capability, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.handle != nil {
		return entry.handle, nil
	}
	if opts != nil {
		entry.opts = opts
	}
	instance, err := entry.factory(entry.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider %s: %w", entry.desc.ID(), err)
	}
	entry.handle = newHandle(entry.desc, instance)
	return entry.handle, nil
}

// Rebuild constructs a fresh instance with the remembered options and swaps it
// into the provider's handle. It returns the new handle version.
func (r *Registry) Rebuild(capability Capability, name string) (uint64, error) {
	r.mu.RLock()
	entry, ok := r.entries[registryKey{capability, name}]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, capability, name)
	}

	h, err := r.Resolve(capability, name, nil)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	opts := entry.opts
	r.mu.RUnlock()

	instance, err := entry.factory(opts)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild provider %s: %w", entry.desc.ID(), err)
	}
	h.Swap(instance)
	return h.Version(), nil
}

// Configure sets the options used the first time a provider is resolved.
func (r *Registry) Configure(capability Capability, name string, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[registryKey{capability, name}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownProvider, capability, name)
	}
	entry.opts = opts
	return nil
}

// Descriptor looks up a registered provider.
func (r *Registry) Descriptor(capability Capability, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[registryKey{capability, name}]
	if !ok {
		return Descriptor{}, false
	}
	return entry.desc, true
}

// Candidates returns the providers for a capability ordered by ascending
// priority, ties broken by name.
func (r *Registry) Candidates(capability Capability) []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for key, entry := range r.entries {
		if key.capability == capability {
			out = append(out, entry.desc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// All returns every registered descriptor ordered by capability, then priority.
func (r *Registry) All() []Descriptor {
	var out []Descriptor
	for _, c := range []Capability{CapabilityEmbedding, CapabilityVectorStore} {
		out = append(out, r.Candidates(c)...)
	}
	return out
}
