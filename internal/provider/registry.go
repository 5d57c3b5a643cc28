package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowpilot/flowpilot/internal/httpclient"
)

// Registry holds the platform-shared providers. It also remembers each
// provider's config so a workspace can reuse the endpoint with its own key.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	configs   map[string]ProviderConfig
	http      *httpclient.Client
}

func NewRegistry(hc *httpclient.Client) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		configs:   make(map[string]ProviderConfig),
		http:      hc,
	}
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

// RegisterConfig builds a provider from cfg and registers it.
func (r *Registry) RegisterConfig(cfg ProviderConfig) error {
	p, err := FromConfig(cfg, r.http)
	if err != nil {
		return err
	}
	if err := r.Register(p); err != nil {
		return err
	}
	r.mu.Lock()
	r.configs[cfg.ID] = cfg
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

// GetForModel returns the provider for ref, failing when the provider
// declares its models and ref is not one of them.
func (r *Registry) GetForModel(ref ModelRef) (Provider, error) {
	p, err := r.Get(ref.Provider())
	if err != nil {
		return nil, err
	}
	if !declares(p.Models(), ref.Model()) {
		return nil, fmt.Errorf("provider %q does not serve model %q", ref.Provider(), ref.Model())
	}
	return p, nil
}

// Serves reports whether ref can be routed to a registered provider.
func (r *Registry) Serves(ref ModelRef) bool {
	_, err := r.GetForModel(ref)
	return err == nil
}

// WithKey returns a provider for the same endpoint as id that
// authenticates with apiKey instead of the platform key.
func (r *Registry) WithKey(id, apiKey string) (Provider, error) {
	r.mu.RLock()
	cfg, ok := r.configs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q has no config to derive a keyed client from", id)
	}
	cfg.APIKey = apiKey
	return FromConfig(cfg, r.http)
}

// List returns the providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
	delete(r.configs, id)
}
