package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowweaver/compiler/internal/config"
	"github.com/flowweaver/compiler/internal/logger"
)

func TestSetupWithoutStoreAndCacheSkipsNetworkDependencies(t *testing.T) {
	cfg := &config.Config{
		Service:  config.ServiceConfig{Name: "test", Port: 8080, LogLevel: "error", LogFormat: "text"},
		Database: config.DatabaseConfig{Host: "localhost", Port: 5432, MaxConns: 5, MinConns: 1},
		Cache:    config.CacheConfig{Enabled: false},
	}

	c, err := Setup(context.Background(), "test-service",
		WithCustomConfig(cfg),
		WithoutStore(),
		WithoutCache(),
	)
	require.NoError(t, err)
	assert.Nil(t, c.Store)
	assert.Nil(t, c.Cache)
	assert.NotNil(t, c.Logger)
	assert.NotNil(t, c.Config)
}

func TestSetupUsesCustomLogger(t *testing.T) {
	cfg := &config.Config{
		Service:  config.ServiceConfig{Name: "test", Port: 8080, LogLevel: "error", LogFormat: "text"},
		Database: config.DatabaseConfig{Host: "localhost", Port: 5432, MaxConns: 5, MinConns: 1},
		Cache:    config.CacheConfig{Enabled: false},
	}
	custom := logger.New("debug", "json")

	c, err := Setup(context.Background(), "test-service",
		WithCustomConfig(cfg),
		WithCustomLogger(custom),
		WithoutStore(),
		WithoutCache(),
	)
	require.NoError(t, err)
	assert.Same(t, custom, c.Logger)
}

func TestComponentsShutdownRunsCleanupInReverseOrder(t *testing.T) {
	c := &Components{Logger: logger.New("error", "text")}
	var order []int
	c.addCleanup(func() error { order = append(order, 1); return nil })
	c.addCleanup(func() error { order = append(order, 2); return nil })

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}
