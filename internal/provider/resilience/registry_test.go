package resilience_test

import (
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
)

func registered(t *testing.T, registry *resilience.Registry, names ...string) {
	t.Helper()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		_ = resilience.NewClient(cfg)
	}
}

func TestRegistry_RegisterAndGetHealth(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("open-meteo-air")
	cfg.Registry = registry

	client := resilience.NewClient(cfg)

	assert.Equal(t, 1, registry.ProviderCount())
	assert.Equal(t, "open-meteo-air", client.Name())

	health := registry.GetHealth("open-meteo-air")
	require.NotNil(t, health)
	assert.Equal(t, "open-meteo-air", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.Equal(t, resilience.StatusHealthy, health.Status())
}

func TestRegistry_NoRegistryNoRegistration(t *testing.T) {
	registry := resilience.NewRegistry()
	_ = resilience.NewClient(resilience.DefaultClientConfig("detached"))

	assert.Equal(t, 0, registry.ProviderCount())
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "open-meteo-weather")

	registry.Unregister("open-meteo-weather")

	assert.Equal(t, 0, registry.ProviderCount())
	assert.Nil(t, registry.GetHealth("open-meteo-weather"))
}

func TestRegistry_RecordSuccess(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "p")

	health := registry.GetHealth("p")
	require.NotNil(t, health)
	assert.Nil(t, health.LastSuccessAt)

	registry.RecordSuccess("p")

	health = registry.GetHealth("p")
	require.NotNil(t, health.LastSuccessAt)
	assert.WithinDuration(t, time.Now(), *health.LastSuccessAt, time.Second)
}

func TestRegistry_RecordFailure(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "p")

	registry.RecordFailure("p", assert.AnError)

	health := registry.GetHealth("p")
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
	assert.Empty(t, health.LastErrorKind)

	registry.RecordFailure("p", &resilience.TransportError{
		Provider: "p",
		Kind:     resilience.KindTimeout,
		Err:      assert.AnError,
	})

	health = registry.GetHealth("p")
	assert.Equal(t, resilience.KindTimeout, health.LastErrorKind)
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "provider-c", "provider-a", "provider-b")

	healthList := registry.GetAllHealth()
	require.Len(t, healthList, 3)
	assert.Equal(t, "provider-a", healthList[0].Name)
	assert.Equal(t, "provider-b", healthList[1].Name)
	assert.Equal(t, "provider-c", healthList[2].Name)
	assert.True(t, registry.AllHealthy())

	assert.Equal(t, []string{"provider-a", "provider-b", "provider-c"}, registry.GetProviderNames())
}

func TestRegistry_UnknownProvider(t *testing.T) {
	registry := resilience.NewRegistry()

	assert.Nil(t, registry.GetHealth("nonexistent"))
	assert.Empty(t, registry.GetProviderNames())

	// Should not panic.
	registry.RecordSuccess("nonexistent")
	registry.RecordFailure("nonexistent", assert.AnError)
}

func TestProviderHealth_States(t *testing.T) {
	tests := []struct {
		state      gobreaker.State
		isHealthy  bool
		isDegraded bool
		isUnhealth bool
		status     string
	}{
		{gobreaker.StateClosed, true, false, false, resilience.StatusHealthy},
		{gobreaker.StateHalfOpen, false, true, false, resilience.StatusDegraded},
		{gobreaker.StateOpen, false, false, true, resilience.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.ProviderHealth{CircuitState: tt.state}
			assert.Equal(t, tt.isHealthy, h.IsHealthy())
			assert.Equal(t, tt.isDegraded, h.IsDegraded())
			assert.Equal(t, tt.isUnhealth, h.IsUnhealthy())
			assert.Equal(t, tt.status, h.Status())
		})
	}
}
