package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdgw/internal/domain"
	"mdgw/internal/infra/telemetry"
)

// CapabilitySource is the subset of a provider client the registry needs.
type CapabilitySource interface {
	Name() string
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
}

// Registry holds the discovered tool catalog of every provider. Discovery
// failures leave the previous catalog in place; a provider that was never
// reachable falls back to its persisted snapshot when a store is attached.
type Registry struct {
	logger           *zap.Logger
	store            *Store
	discoveryTimeout time.Duration

	mu           sync.RWMutex
	capabilities map[string][]domain.ToolDescriptor
}

type Options struct {
	Logger *zap.Logger
	// Store is optional; without it the registry is memory-only.
	Store            *Store
	DiscoveryTimeout time.Duration
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.DiscoveryTimeout
	if timeout <= 0 {
		timeout = domain.DefaultDiscoveryTimeoutSecs * time.Second
	}
	return &Registry{
		logger:           logger.Named("registry"),
		store:            opts.Store,
		discoveryTimeout: timeout,
		capabilities:     make(map[string][]domain.ToolDescriptor),
	}
}

// Restore loads persisted capability snapshots into memory. Safe to call
// before the first discovery pass; live results overwrite restored ones.
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	providers, err := r.store.Providers()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, provider := range providers {
		tools, err := r.store.LoadCapabilities(provider)
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			continue
		}
		r.capabilities[provider] = tools
		r.logger.Info("restored capabilities",
			telemetry.ProviderField(provider),
			zap.Int("tools", len(tools)),
		)
	}
	return nil
}

// Discover refreshes the catalog from every source. Each source gets its
// own deadline so one slow provider cannot stall the rest.
func (r *Registry) Discover(ctx context.Context, sources []CapabilitySource) {
	for _, source := range sources {
		sourceCtx, cancel := context.WithTimeout(ctx, r.discoveryTimeout)
		tools, err := source.ListTools(sourceCtx)
		cancel()

		if err != nil {
			r.logger.Warn("capability discovery failed",
				telemetry.EventField(telemetry.EventDiscovery),
				telemetry.ProviderField(source.Name()),
				zap.Error(err),
			)
			continue
		}

		r.mu.Lock()
		r.capabilities[source.Name()] = tools
		r.mu.Unlock()

		if r.store != nil {
			if err := r.store.SaveCapabilities(source.Name(), tools); err != nil {
				r.logger.Warn("persist capabilities failed",
					telemetry.ProviderField(source.Name()),
					zap.Error(err),
				)
			}
		}

		r.logger.Info("discovered capabilities",
			telemetry.EventField(telemetry.EventDiscovery),
			telemetry.ProviderField(source.Name()),
			zap.Int("tools", len(tools)),
		)
	}
}

// Tools returns the catalog for one provider, nil when unknown.
func (r *Registry) Tools(provider string) []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[provider]
}

// HasTool reports whether a provider advertises the named tool. An empty
// catalog reports true: with nothing discovered yet the gateway routes
// optimistically and lets the provider reject unknown tools.
func (r *Registry) HasTool(provider, tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools, ok := r.capabilities[provider]
	if !ok || len(tools) == 0 {
		return true
	}
	for _, descriptor := range tools {
		if descriptor.Name == tool {
			return true
		}
	}
	return false
}

// Providers lists providers with a known catalog, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.capabilities))
	for provider := range r.capabilities {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}
