package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowweaver/compiler/internal/config"
	"github.com/flowweaver/compiler/internal/logger"
	"github.com/flowweaver/compiler/internal/store"
)

// Setup initializes a flowweaver service's dependencies in the order a
// caller would need them: config, logger, artifact store, cache.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	components := &Components{cleanupFuncs: make([]func() error, 0)}

	var err error
	if o.customConfig != nil {
		components.Config = o.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if o.customLogger != nil {
		components.Logger = o.customLogger
	} else {
		components.Logger = logger.New(components.Config.Service.LogLevel, components.Config.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	if !o.skipStore {
		components.Logger.Info("connecting to artifact store")
		components.Store, err = store.NewPostgresStore(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to artifact store: %w", err)
		}
		components.addCleanup(func() error {
			components.Logger.Info("closing artifact store")
			components.Store.Close()
			return nil
		})
	}

	if !o.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("connecting to blob cache", "addr", components.Config.Cache.Address)
		client := redis.NewClient(&redis.Options{Addr: components.Config.Cache.Address})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to blob cache: %w", err)
		}
		components.Cache = store.NewBlobCache(client, components.Logger, components.Config.Cache.DefaultTTL)
		components.addCleanup(func() error {
			components.Logger.Info("closing blob cache")
			return client.Close()
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"store", components.Store != nil,
		"cache", components.Cache != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
