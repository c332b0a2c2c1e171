// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"log/slog"

	"light-sequencer/internal/easing"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
)

// Manager is the public facade over the layer manager, store and engine:
// effects come in by name, get expanded per fixture and installed on their
// (layer, fixture) slots. Owned by the sequencer goroutine; external callers
// reach it through the sequencer inbox.
type Manager struct {
	store    *Store
	layers   *LayerManager
	engine   *Engine
	events   *EventCounters
	registry *fixture.Registry
	logger   *slog.Logger

	// blackout bookkeeping: remaining slot count and the completion signal.
	blackoutPending int
	blackoutDone    chan struct{}
}

// NewManager wires the manager into the engine's completion path.
func NewManager(store *Store, layers *LayerManager, engine *Engine, events *EventCounters, registry *fixture.Registry, logger *slog.Logger) *Manager {
	m := &Manager{
		store:    store,
		layers:   layers,
		engine:   engine,
		events:   events,
		registry: registry,
		logger:   logger,
	}
	engine.onComplete = m.finishEffect
	return m
}

// SetRegistry swaps the fixture registry on configuration replacement.
func (m *Manager) SetRegistry(r *fixture.Registry) {
	m.registry = r
	m.engine.SetRegistry(r)
}

// Add installs the effect on every (layer, fixture) slot it touches,
// replacing any active effect on those slots. A displaced effect's last end
// state carries over so the new effect starts from the color on stage.
func (m *Manager) Add(name string, eff effect.Effect, persistent bool, now int64) {
	m.install(name, eff, persistent, now, false, false)
}

// Set is Add with broader clearing: every layer the effect touches is wiped
// of active and queued effects before installation.
func (m *Manager) Set(name string, eff effect.Effect, persistent bool, now int64) {
	m.install(name, eff, persistent, now, true, false)
}

// AddIfFree installs only on slots with no active and no queued effect.
// Returns whether any slot was installed.
func (m *Manager) AddIfFree(name string, eff effect.Effect, persistent bool, now int64) bool {
	return m.install(name, eff, persistent, now, false, true)
}

// SetIfFree applies Set's clearing semantics, gated like AddIfFree: it
// installs (and clears the touched layers) only when every slot the effect
// touches is currently free. Returns whether the effect was installed.
func (m *Manager) SetIfFree(name string, eff effect.Effect, persistent bool, now int64) bool {
	grouped := effect.GroupByLayerAndLight(eff.Steps)
	for layer, byLight := range grouped {
		for fixtureID := range byLight {
			if !m.layers.IsLayerFreeForLight(layer, fixtureID) {
				return false
			}
		}
	}
	m.install(name, eff, persistent, now, true, false)
	return true
}

// install is the shared add/set path. clearLayers wipes touched layers
// first; onlyFree skips occupied slots. Returns whether any slot was
// installed.
func (m *Manager) install(name string, eff effect.Effect, persistent bool, now int64, clearLayers, onlyFree bool) bool {
	grouped := effect.GroupByLayerAndLight(eff.Steps)

	if clearLayers {
		for layer := range grouped {
			m.clearLayer(layer)
		}
	}

	installed := false
	for layer, byLight := range grouped {
		for fixtureID, steps := range byLight {
			if m.registry.Lookup(fixtureID) == nil {
				m.logger.Warn("Effect targets unknown fixture", "effect", name, "fixture", fixtureID)
				continue
			}
			if onlyFree && !m.layers.IsLayerFreeForLight(layer, fixtureID) {
				continue
			}

			st := &LightEffectState{
				EffectName:  name,
				Fixture:     fixtureID,
				Layer:       layer,
				Transitions: steps,
				Persistent:  persistent,
			}
			if displaced := m.layers.Active(layer, fixtureID); displaced != nil {
				m.stopState(displaced)
				st.LastEnd = displaced.LastEnd
			}
			m.layers.AddActive(layer, fixtureID, st, now)
			installed = true
		}
	}
	return installed
}

// Queue records the effect as the pending successor on every slot it
// touches. The successor starts when the active effect there finishes,
// seeded with its end state; on a free slot it starts at the next tick.
func (m *Manager) Queue(name string, eff effect.Effect, persistent bool, now int64) {
	for layer, byLight := range effect.GroupByLayerAndLight(eff.Steps) {
		for fixtureID, steps := range byLight {
			if m.registry.Lookup(fixtureID) == nil {
				m.logger.Warn("Effect targets unknown fixture", "effect", name, "fixture", fixtureID)
				continue
			}
			q := &QueuedEffect{EffectName: name, Transitions: steps, Persistent: persistent}
			if m.layers.Active(layer, fixtureID) == nil {
				m.layers.AddQueued(layer, fixtureID, q, now)
				m.StartNextEffectInQueue(layer, fixtureID, nil, now)
			} else {
				m.layers.AddQueued(layer, fixtureID, q, now)
			}
		}
	}
}

// RemoveByLayer evicts all active and queued slots on the layer. With
// alsoRemoveTransitions the store entries are cleared too, so composition
// stops seeing the layer immediately.
func (m *Manager) RemoveByLayer(layer int, alsoRemoveTransitions bool) {
	m.clearLayer(layer)
	if alsoRemoveTransitions {
		m.layers.ResetLayerTracking(layer)
	}
}

// RemoveByName evicts only the slots on the layer whose source effect name
// matches.
func (m *Manager) RemoveByName(name string, layer int) {
	for _, st := range m.layers.ActiveStates() {
		if st.Layer == layer && st.EffectName == name {
			m.stopState(st)
			m.layers.RemoveActive(layer, st.Fixture)
		}
	}
	if byLight := m.layers.queued[layer]; byLight != nil {
		for fixtureID, q := range byLight {
			if q.EffectName == name {
				m.layers.RemoveQueued(layer, fixtureID)
			}
		}
	}
}

// StartNextEffectInQueue pops the queued successor for (layer, fixture) and
// starts it. The first step begins from the just-completed effect's end
// state so the handoff is visually continuous.
func (m *Manager) StartNextEffectInQueue(layer int, fixtureID string, lastEnd *effect.Color, now int64) {
	q := m.layers.PopQueued(layer, fixtureID)
	if q == nil {
		return
	}
	st := &LightEffectState{
		EffectName:  q.EffectName,
		Fixture:     fixtureID,
		Layer:       layer,
		Transitions: q.Transitions,
		Persistent:  q.Persistent,
		LastEnd:     lastEnd,
	}
	m.layers.AddActive(layer, fixtureID, st, now)
}

// SetState is the shortcut for an immediate single-step transition on the
// base layer: fade the given fixtures to color over duration.
func (m *Manager) SetState(fixtureIDs []string, c effect.Color, durationMs int64, now int64) {
	steps := []effect.Step{{
		Lights:     fixtureIDs,
		Layer:      0,
		WaitFor:    effect.NoWait(),
		Color:      c,
		DurationMs: durationMs,
		Easing:     easing.Linear,
		WaitUntil:  effect.NoWait(),
	}}
	m.Add("set-state", effect.Effect{ID: "set-state", Steps: steps}, false, now)
}

// Blackout drives every fixture to black on the reserved top layer over
// duration milliseconds. The returned channel closes when the fade has
// completed on every fixture; CancelBlackout aborts it.
func (m *Manager) Blackout(durationMs int64, now int64) <-chan struct{} {
	if m.blackoutDone != nil {
		// Restarting a blackout supersedes the previous one.
		close(m.blackoutDone)
	}
	m.blackoutDone = make(chan struct{})

	all := m.registry.All()
	m.blackoutPending = len(all)
	if m.blackoutPending == 0 {
		done := m.blackoutDone
		m.blackoutDone = nil
		close(done)
		return done
	}

	var zero uint8
	black := effect.Color{Opacity: 1, Blend: effect.BlendReplace, Pan: &zero, Tilt: &zero}
	ids := make([]string, len(all))
	for i, f := range all {
		ids[i] = f.ID
		// Seed the blackout layer with the fixture's composed look so the
		// fade starts from what is on stage.
		m.store.Set(f.ID, BlackoutLayer, m.store.Compose(f))
	}
	steps := []effect.Step{{
		Lights:     ids,
		Layer:      BlackoutLayer,
		WaitFor:    effect.NoWait(),
		Color:      black,
		DurationMs: durationMs,
		Easing:     easing.Linear,
		WaitUntil:  effect.NoWait(),
	}}
	m.Set("blackout", effect.Effect{ID: "blackout", Description: "fade all fixtures to black", Steps: steps}, false, now)
	return m.blackoutDone
}

// CancelBlackout removes the blackout layer mid-fade; composition reverts to
// the layers beneath on the next frame.
func (m *Manager) CancelBlackout() {
	m.RemoveByLayer(BlackoutLayer, true)
	if m.blackoutDone != nil {
		close(m.blackoutDone)
		m.blackoutDone = nil
		m.blackoutPending = 0
	}
}

// finishEffect is the completion protocol invoked by the engine when a state
// machine runs off the end of its transitions.
func (m *Manager) finishEffect(st *LightEffectState, now int64) {
	m.layers.RemoveActive(st.Layer, st.Fixture)

	if st.Persistent {
		m.layers.AddQueued(st.Layer, st.Fixture, &QueuedEffect{
			EffectName:  st.EffectName,
			Transitions: st.Transitions,
			Persistent:  true,
		}, now)
	}

	if m.layers.Queued(st.Layer, st.Fixture) != nil {
		m.StartNextEffectInQueue(st.Layer, st.Fixture, st.LastEnd, now)
	} else if st.Layer > 0 && st.Layer != BlackoutLayer {
		// The blackout layer keeps holding black after its fade completes;
		// only CancelBlackout releases it.
		m.store.RemoveLayer(st.Fixture, st.Layer)
		m.layers.Touch(st.Layer, now)
	}

	if st.EffectName == "blackout" && st.Layer == BlackoutLayer && m.blackoutDone != nil {
		m.blackoutPending--
		if m.blackoutPending <= 0 {
			close(m.blackoutDone)
			m.blackoutDone = nil
		}
	}
}

// stopState is the displaced-effect stop hook. It only logs the stop; the
// slot's store value and any in-flight store transition are left as they are.
func (m *Manager) stopState(st *LightEffectState) {
	m.logger.Debug("Effect stopped", "effect", st.EffectName, "layer", st.Layer, "fixture", st.Fixture)
}

// clearLayer removes every active and queued slot on a layer.
func (m *Manager) clearLayer(layer int) {
	if byLight := m.layers.active[layer]; byLight != nil {
		for fixtureID, st := range byLight {
			m.stopState(st)
			delete(byLight, fixtureID)
		}
		delete(m.layers.active, layer)
	}
	delete(m.layers.queued, layer)
}
