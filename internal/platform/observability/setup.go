package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
}

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	stateMu   sync.RWMutex
	spanLog   *slog.Logger
	stateConf Config
)

func current() (*slog.Logger, Config) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return spanLog, stateConf
}

// Setup installs the logger used for spans and metric records.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	stateMu.Lock()
	spanLog = logger
	stateConf = cfg
	stateMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[Observability] span logging enabled")
		} else {
			logger.InfoContext(ctx, "[Observability] span logging disabled, counters only")
		}
	}
	return func(context.Context) error {
		stateMu.Lock()
		spanLog = nil
		stateMu.Unlock()
		return nil
	}, nil
}
