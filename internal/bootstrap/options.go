package bootstrap

import (
	"github.com/flowweaver/compiler/internal/config"
	"github.com/flowweaver/compiler/internal/logger"
)

// Option configures Setup.
type Option func(*options)

type options struct {
	skipStore    bool
	skipCache    bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutStore skips Postgres artifact store initialization, for
// subcommands (like a pure `compile` dry-run) that never touch storage.
func WithoutStore() Option {
	return func(o *options) { o.skipStore = true }
}

// WithoutCache skips Redis cache initialization even if the config enables
// it.
func WithoutCache() Option {
	return func(o *options) { o.skipCache = true }
}

// WithCustomLogger uses log instead of building one from config.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses cfg instead of loading one from the environment.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}
