package provider

import (
	"sort"

	"github.com/channelsync/engine/internal/domain/channel"
)

// Registry holds the configured provider adapters keyed by provider code.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	adapters map[channel.ProviderCode]channel.ProviderAdapter
}

// NewRegistry creates a registry over the given adapters. A later adapter
// for the same provider code replaces the earlier one.
func NewRegistry(adapters ...channel.ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[channel.ProviderCode]channel.ProviderAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for the given provider code
func (r *Registry) Get(provider channel.ProviderCode) (channel.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, channel.ErrInvalidProvider
	}
	return adapter, nil
}

// List returns all registered adapters in stable provider-code order
func (r *Registry) List() []channel.ProviderAdapter {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	out := make([]channel.ProviderAdapter, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.adapters[channel.ProviderCode(code)])
	}
	return out
}

// Ensure Registry implements AdapterRegistry interface
var _ channel.AdapterRegistry = (*Registry)(nil)
