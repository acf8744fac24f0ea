package cacheconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DisabledSkipsTTLCheck(t *testing.T) {
	cfg := &Config{Enabled: false}
	require.NoError(t, Validate(cfg))
}

func TestValidate_EnabledRequiresRedisURLs(t *testing.T) {
	cfg := &Config{Enabled: true}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidate_SubgraphWithoutResolvableTTLFails(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Redis:   RedisConfig{URLs: []string{"redis://localhost:6379"}},
		Subgraphs: map[string]SubgraphConfig{
			"inventory": {},
		},
	}
	err := Validate(cfg)
	assert.ErrorContains(t, err, "inventory")
}

func TestValidate_SubgraphInheritsGlobalTTL(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Redis:   RedisConfig{URLs: []string{"redis://localhost:6379"}},
		All:     SubgraphConfig{TTL: time.Minute},
		Subgraphs: map[string]SubgraphConfig{
			"inventory": {},
		},
	}
	require.NoError(t, Validate(cfg))
}

func TestResolveTTL_ExplicitOverridesGlobal(t *testing.T) {
	cfg := &Config{All: SubgraphConfig{TTL: time.Minute}}
	sub := SubgraphConfig{TTL: 5 * time.Second}

	ttl, ok := ResolveTTL(cfg, sub)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, ttl)
}

func TestResolveEnabled_OverrideWinsOverGlobal(t *testing.T) {
	cfg := &Config{Enabled: true}
	disabled := false
	sub := SubgraphConfig{Enabled: &disabled}
	assert.False(t, ResolveEnabled(cfg, sub))

	assert.True(t, ResolveEnabled(cfg, SubgraphConfig{}))
}
