// Package state holds per-conversation-scope runtime overrides. All of
// it lives in process memory only: a restart drops every override and
// behavior falls back to the persisted configuration.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/internal/clock"
)

// DefaultTTL bounds how long an untouched scope entry with no custom
// settings survives before the sweeper reclaims it.
const DefaultTTL = 24 * time.Hour

// scopeState is one scope's override set. A nil pointer or absent map
// entry means "unset", which falls back to the persisted default.
type scopeState struct {
	pluginEnabled  *bool
	activeModel    string
	disabledModels map[string]struct{}
	recallDisabled map[string]struct{}
	selfieEnhanced *bool
	lastAccess     time.Time
}

func (s *scopeState) empty() bool {
	return s.pluginEnabled == nil &&
		s.activeModel == "" &&
		len(s.disabledModels) == 0 &&
		len(s.recallDisabled) == 0 &&
		s.selfieEnhanced == nil
}

// Manager owns the scope-keyed override map. Handlers and accessor
// calls share one Manager by reference; there is no module-level state.
type Manager struct {
	mu     sync.RWMutex
	scopes map[string]*scopeState
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// NewManager creates a Manager. A zero ttl falls back to DefaultTTL and
// a nil clk to the wall clock.
func NewManager(ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scopes: make(map[string]*scopeState),
		ttl:    ttl,
		clock:  clk,
		logger: logger.With(zap.String("component", "state_manager")),
	}
}

// get returns the scope entry, creating it lazily, and stamps access
// time. Callers must hold the write lock.
func (m *Manager) get(scope string) *scopeState {
	s, ok := m.scopes[scope]
	if !ok {
		s = &scopeState{}
		m.scopes[scope] = s
	}
	s.lastAccess = m.clock.Now()
	return s
}

// PluginEnabled reports whether generation is enabled for the scope,
// falling back to the given default when the scope has no override.
func (m *Manager) PluginEnabled(scope string, fallback bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scopes[scope]; ok && s.pluginEnabled != nil {
		return *s.pluginEnabled
	}
	return fallback
}

// SetPluginEnabled overrides the plugin toggle for the scope.
func (m *Manager) SetPluginEnabled(scope string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(scope).pluginEnabled = &enabled
}

// ActiveModel returns the scope's command model id, falling back to the
// given default when unset.
func (m *Manager) ActiveModel(scope, fallback string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scopes[scope]; ok && s.activeModel != "" {
		return s.activeModel
	}
	return fallback
}

// SetActiveModel overrides the command model for the scope.
func (m *Manager) SetActiveModel(scope, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(scope).activeModel = model
}

// ModelEnabled reports whether a model is usable in the scope. Models
// are enabled unless explicitly disabled.
func (m *Manager) ModelEnabled(scope, model string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scopes[scope]; ok {
		if _, disabled := s.disabledModels[model]; disabled {
			return false
		}
	}
	return true
}

// SetModelEnabled toggles a model for the scope.
func (m *Manager) SetModelEnabled(scope, model string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(scope)
	if enabled {
		delete(s.disabledModels, model)
		return
	}
	if s.disabledModels == nil {
		s.disabledModels = make(map[string]struct{})
	}
	s.disabledModels[model] = struct{}{}
}

// RecallEnabled reports whether auto-recall applies to a model in the
// scope. Recall is enabled unless explicitly disabled.
func (m *Manager) RecallEnabled(scope, model string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scopes[scope]; ok {
		if _, disabled := s.recallDisabled[model]; disabled {
			return false
		}
	}
	return true
}

// SetRecallEnabled toggles auto-recall for a model in the scope.
func (m *Manager) SetRecallEnabled(scope, model string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(scope)
	if enabled {
		delete(s.recallDisabled, model)
		return
	}
	if s.recallDisabled == nil {
		s.recallDisabled = make(map[string]struct{})
	}
	s.recallDisabled[model] = struct{}{}
}

// SelfieEnhanced reports whether the scope opted into schedule-aware
// selfie enhancement, falling back to the given default when unset.
func (m *Manager) SelfieEnhanced(scope string, fallback bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scopes[scope]; ok && s.selfieEnhanced != nil {
		return *s.selfieEnhanced
	}
	return fallback
}

// SetSelfieEnhanced overrides the selfie enhancement flag for the scope.
func (m *Manager) SetSelfieEnhanced(scope string, enhanced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(scope).selfieEnhanced = &enhanced
}

// Reset clears every override for the scope so behavior falls back to
// the persisted configuration.
func (m *Manager) Reset(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, scope)
}

// Scopes returns the sorted ids of all tracked scopes.
func (m *Manager) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.scopes))
	for id := range m.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep drops scope entries that carry no custom settings and have not
// been touched within the TTL. Scopes with overrides are never swept,
// only an explicit Reset or a restart clears those.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.ttl)
	removed := 0
	for id, s := range m.scopes {
		if s.empty() && s.lastAccess.Before(cutoff) {
			delete(m.scopes, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept idle scopes", zap.Int("removed", removed))
	}
	return removed
}

// StartSweeper runs Sweep at the given interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
