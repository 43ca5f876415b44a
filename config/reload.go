package config

import (
	"sync"

	"go.uber.org/zap"
)

// Reloader holds the live configuration and re-runs the loader on
// explicit demand. Configuration is never re-read mid-process on its
// own; a reload happens only when the host asks for one, typically on
// SIGHUP.
type Reloader struct {
	loader    *Loader
	logger    *zap.Logger
	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewReloader loads the initial configuration.
func NewReloader(loader *Loader, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return &Reloader{
		loader:  loader,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: cfg,
	}, nil
}

// Current returns the live configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback invoked with each successfully reloaded
// configuration.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-runs the loader. On failure the previous configuration
// stays live and the error is returned.
func (r *Reloader) Reload() error {
	cfg, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("reload failed, keeping previous configuration", zap.Error(err))
		return err
	}

	r.mu.Lock()
	r.current = cfg
	listeners := make([]func(*Config), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	r.logger.Info("configuration reloaded")
	return nil
}
