package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pictora/pictora/internal/clock"
)

func TestManager_FallbackWhenUnset(t *testing.T) {
	m := NewManager(0, nil, zap.NewNop())

	assert.True(t, m.PluginEnabled("room-1", true))
	assert.False(t, m.PluginEnabled("room-1", false))
	assert.Equal(t, "default-model", m.ActiveModel("room-1", "default-model"))
	assert.True(t, m.ModelEnabled("room-1", "m1"))
	assert.True(t, m.RecallEnabled("room-1", "m1"))
	assert.False(t, m.SelfieEnhanced("room-1", false))
}

func TestManager_OverridesAreScoped(t *testing.T) {
	m := NewManager(0, nil, nil)

	m.SetPluginEnabled("room-1", false)
	m.SetActiveModel("room-1", "m2")
	m.SetModelEnabled("room-1", "m1", false)
	m.SetRecallEnabled("room-1", "m1", false)
	m.SetSelfieEnhanced("room-1", true)

	assert.False(t, m.PluginEnabled("room-1", true))
	assert.Equal(t, "m2", m.ActiveModel("room-1", "default"))
	assert.False(t, m.ModelEnabled("room-1", "m1"))
	assert.False(t, m.RecallEnabled("room-1", "m1"))
	assert.True(t, m.SelfieEnhanced("room-1", false))

	// an untouched scope keeps the defaults
	assert.True(t, m.PluginEnabled("room-2", true))
	assert.Equal(t, "default", m.ActiveModel("room-2", "default"))
	assert.True(t, m.ModelEnabled("room-2", "m1"))
}

func TestManager_ReEnableClearsOverride(t *testing.T) {
	m := NewManager(0, nil, nil)

	m.SetModelEnabled("room-1", "m1", false)
	m.SetModelEnabled("room-1", "m1", true)
	assert.True(t, m.ModelEnabled("room-1", "m1"))

	m.SetRecallEnabled("room-1", "m1", false)
	m.SetRecallEnabled("room-1", "m1", true)
	assert.True(t, m.RecallEnabled("room-1", "m1"))
}

func TestManager_ResetFallsBackToDefaults(t *testing.T) {
	m := NewManager(0, nil, nil)

	m.SetPluginEnabled("room-1", false)
	m.SetActiveModel("room-1", "m2")
	m.Reset("room-1")

	assert.True(t, m.PluginEnabled("room-1", true))
	assert.Equal(t, "default", m.ActiveModel("room-1", "default"))
	assert.Empty(t, m.Scopes())
}

func TestManager_SweepKeepsCustomizedScopes(t *testing.T) {
	clk := &clock.Fixed{Time: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, clk, zap.NewNop())

	m.SetActiveModel("customized", "m2")
	// touching a scope without setting anything creates an empty entry
	m.SetPluginEnabled("idle", true)
	m.Reset("idle")
	m.SetModelEnabled("empty", "m1", false)
	m.SetModelEnabled("empty", "m1", true)

	clk.Time = clk.Time.Add(2 * time.Hour)
	removed := m.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"customized"}, m.Scopes())
}

func TestManager_SweepSparesRecentEmptyScopes(t *testing.T) {
	clk := &clock.Fixed{Time: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, clk, nil)

	m.SetModelEnabled("fresh", "m1", false)
	m.SetModelEnabled("fresh", "m1", true)

	clk.Time = clk.Time.Add(30 * time.Minute)
	assert.Zero(t, m.Sweep())
	assert.Equal(t, []string{"fresh"}, m.Scopes())
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(0, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			scope := "room-1"
			if n%2 == 0 {
				scope = "room-2"
			}
			m.SetModelEnabled(scope, "m1", n%3 == 0)
			m.ModelEnabled(scope, "m1")
			m.PluginEnabled(scope, true)
			m.Sweep()
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Scopes(), 2)
}
