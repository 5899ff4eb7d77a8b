package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/davidbz/conductor/internal/domain"
)

var _ domain.ProviderRegistry = (*Registry)(nil)

// Registry implements the ProviderRegistry interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderClient
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		providers: make(map[string]domain.ProviderClient),
	}
}

// Register adds a provider client to the registry.
func (r *Registry) Register(_ context.Context, client domain.ProviderClient) error {
	if client == nil {
		return errors.New("provider cannot be nil")
	}

	name := client.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = client
	return nil
}

// Get retrieves a provider client by name.
func (r *Registry) Get(_ context.Context, providerName string) (domain.ProviderClient, error) {
	if providerName == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("%w: provider %s not found", domain.ErrProviderNotFound, providerName)
	}

	return client, nil
}

// List returns all registered provider names in order.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Unresolved returns the ids of enabled models whose provider has no registered client.
func (r *Registry) Unresolved(_ context.Context, models []domain.ModelConfig) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		if _, ok := r.providers[m.Provider]; !ok {
			missing = append(missing, m.ID)
		}
	}
	return missing
}
