package adapters

import (
	"testing"

	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/payment/adapters/square"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	registry := ProvideRegistry(config.Config{Payment: config.PaymentConfig{
		WebhookSignatureKey:    "k",
		WebhookNotificationURL: "https://rosterpay.test/hook",
	}}, []domain.AdapterFactory{nil, square.NewFactory()})

	assert.True(t, registry.ProviderExists(" Square "))
	assert.False(t, registry.ProviderExists("stripe"))
	assert.Equal(t, []string{"square"}, registry.Providers())

	adapter, err := registry.Adapter("SQUARE")
	require.NoError(t, err)
	again, err := registry.Adapter("square")
	require.NoError(t, err)
	assert.Same(t, adapter, again)

	_, err = registry.Adapter("stripe")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	var nilRegistry *Registry
	assert.False(t, nilRegistry.ProviderExists("square"))
	_, err = nilRegistry.Adapter("square")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistryMissingSettingsFailsOnUse(t *testing.T) {
	registry := NewRegistry().Register(square.NewFactory(), map[string]any{"signature_key": "k"})

	assert.True(t, registry.ProviderExists("square"))
	_, err := registry.Adapter("square")
	assert.Error(t, err)
	_, err = registry.Adapter("square")
	assert.Error(t, err)
}
