package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
)

// Registry resolves the webhook adapter for a processor. Each provider is
// registered with its settings and its adapter is built on first use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registration
}

type registration struct {
	factory  domain.AdapterFactory
	settings map[string]any
	adapter  domain.PaymentAdapter
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*registration{}}
}

// ProvideRegistry registers every processor this service accepts webhooks from.
func ProvideRegistry(cfg config.Config, factories []domain.AdapterFactory) *Registry {
	registry := NewRegistry()
	for _, factory := range factories {
		registry.Register(factory, map[string]any{
			"signature_key":    cfg.Payment.WebhookSignatureKey,
			"notification_url": cfg.Payment.WebhookNotificationURL,
		})
	}
	return registry
}

// Register adds factory under its provider name, replacing any earlier one.
func (r *Registry) Register(factory domain.AdapterFactory, settings map[string]any) *Registry {
	if factory == nil {
		return r
	}
	provider := normalize(factory.Provider())
	if provider == "" {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[provider] = &registration{factory: factory, settings: settings}
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[normalize(provider)]
	return ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for provider := range r.entries {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

// Adapter returns the adapter for provider. A build failure is returned
// every time until the settings are fixed.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	if entry.adapter != nil {
		return entry.adapter, nil
	}
	adapter, err := entry.factory.NewAdapter(domain.AdapterConfig{
		Provider: provider,
		Config:   entry.settings,
	})
	if err != nil {
		return nil, err
	}
	entry.adapter = adapter
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
