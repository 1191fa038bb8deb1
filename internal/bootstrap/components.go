// Package bootstrap wires a flowweaver process's dependencies through the
// source's functional-options Setup(ctx, serviceName, opts...) pattern,
// rather than a DI container or package-level globals.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/flowweaver/compiler/internal/config"
	"github.com/flowweaver/compiler/internal/logger"
	"github.com/flowweaver/compiler/internal/store"
)

// Components holds every initialized dependency a flowweaver service needs.
type Components struct {
	Config *config.Config
	Logger *logger.Logger
	Store  *store.PostgresStore
	Cache  *store.BlobCache

	cleanupFuncs []func() error
}

// Shutdown runs registered cleanup functions in reverse (LIFO) order,
// collecting every failure rather than stopping at the first.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of every component that has a meaningful health
// check.
func (c *Components) Health(ctx context.Context) error {
	if c.Store != nil {
		if err := c.Store.Health(ctx); err != nil {
			return fmt.Errorf("artifact store unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
