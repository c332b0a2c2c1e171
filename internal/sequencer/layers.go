// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"log/slog"
	"sort"
)

// BlackoutLayer is the reserved top layer used by blackout fades.
const BlackoutLayer = 255

// LayerManager owns the active and queued effect slots per (layer, fixture)
// plus per-layer last-used stamps, and tears idle overlay layers down.
// Layer 0 is the base layer and is never freed.
type LayerManager struct {
	store  *Store
	logger *slog.Logger

	active   map[int]map[string]*LightEffectState
	queued   map[int]map[string]*QueuedEffect
	lastUsed map[int]int64

	idleMs int64
}

// NewLayerManager creates a layer manager over the given store. idleMs is
// the idle threshold before an unused overlay layer is torn down.
func NewLayerManager(store *Store, idleMs int64, logger *slog.Logger) *LayerManager {
	if idleMs <= 0 {
		idleMs = 2000
	}
	return &LayerManager{
		store:    store,
		logger:   logger,
		active:   make(map[int]map[string]*LightEffectState),
		queued:   make(map[int]map[string]*QueuedEffect),
		lastUsed: make(map[int]int64),
		idleMs:   idleMs,
	}
}

// AddActive inserts or replaces the active slot for (layer, fixture). The
// caller is responsible for stopping a displaced state first.
func (m *LayerManager) AddActive(layer int, fixtureID string, st *LightEffectState, now int64) {
	byLight, ok := m.active[layer]
	if !ok {
		byLight = make(map[string]*LightEffectState)
		m.active[layer] = byLight
	}
	byLight[fixtureID] = st
	m.lastUsed[layer] = now
}

// AddQueued records the pending successor for (layer, fixture). Only one
// pending slot exists per (layer, fixture); newer writes replace older.
func (m *LayerManager) AddQueued(layer int, fixtureID string, q *QueuedEffect, now int64) {
	byLight, ok := m.queued[layer]
	if !ok {
		byLight = make(map[string]*QueuedEffect)
		m.queued[layer] = byLight
	}
	byLight[fixtureID] = q
	m.lastUsed[layer] = now
}

// Active returns the active state at (layer, fixture), or nil.
func (m *LayerManager) Active(layer int, fixtureID string) *LightEffectState {
	return m.active[layer][fixtureID]
}

// Queued returns the queued successor at (layer, fixture), or nil.
func (m *LayerManager) Queued(layer int, fixtureID string) *QueuedEffect {
	return m.queued[layer][fixtureID]
}

// RemoveActive clears the active slot at (layer, fixture).
func (m *LayerManager) RemoveActive(layer int, fixtureID string) {
	if byLight, ok := m.active[layer]; ok {
		delete(byLight, fixtureID)
		if len(byLight) == 0 {
			delete(m.active, layer)
		}
	}
}

// RemoveQueued clears the queued slot at (layer, fixture).
func (m *LayerManager) RemoveQueued(layer int, fixtureID string) {
	if byLight, ok := m.queued[layer]; ok {
		delete(byLight, fixtureID)
		if len(byLight) == 0 {
			delete(m.queued, layer)
		}
	}
}

// PopQueued removes and returns the queued successor at (layer, fixture).
func (m *LayerManager) PopQueued(layer int, fixtureID string) *QueuedEffect {
	q := m.queued[layer][fixtureID]
	if q != nil {
		m.RemoveQueued(layer, fixtureID)
	}
	return q
}

// IsLayerFree reports whether the layer has no active or queued entries.
func (m *LayerManager) IsLayerFree(layer int) bool {
	return len(m.active[layer]) == 0 && len(m.queued[layer]) == 0
}

// IsLayerFreeForLight reports slot-granularity freedom.
func (m *LayerManager) IsLayerFreeForLight(layer int, fixtureID string) bool {
	return m.active[layer][fixtureID] == nil && m.queued[layer][fixtureID] == nil
}

// Layers returns every layer with active or queued entries, ascending.
func (m *LayerManager) Layers() []int {
	seen := make(map[int]struct{})
	for layer := range m.active {
		seen[layer] = struct{}{}
	}
	for layer := range m.queued {
		seen[layer] = struct{}{}
	}
	layers := make([]int, 0, len(seen))
	for layer := range seen {
		layers = append(layers, layer)
	}
	sort.Ints(layers)
	return layers
}

// ActiveStates returns every active state, layer-ascending then fixture-
// sorted, so state machines advance in a stable order within a tick.
func (m *LayerManager) ActiveStates() []*LightEffectState {
	var layers []int
	for layer := range m.active {
		layers = append(layers, layer)
	}
	sort.Ints(layers)

	var out []*LightEffectState
	for _, layer := range layers {
		byLight := m.active[layer]
		ids := make([]string, 0, len(byLight))
		for id := range byLight {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, byLight[id])
		}
	}
	return out
}

// ActiveCount returns the number of occupied active slots.
func (m *LayerManager) ActiveCount() int {
	n := 0
	for _, byLight := range m.active {
		n += len(byLight)
	}
	return n
}

// QueuedCount returns the number of occupied queued slots.
func (m *LayerManager) QueuedCount() int {
	n := 0
	for _, byLight := range m.queued {
		n += len(byLight)
	}
	return n
}

// Touch refreshes a layer's last-used stamp.
func (m *LayerManager) Touch(layer int, now int64) {
	m.lastUsed[layer] = now
}

// CleanupUnusedLayers tears down every overlay layer (> 0, other than the
// blackout layer) with no active or
// queued entries whose last-used stamp is older than the idle threshold,
// removing its store entries so composition no longer sees it.
func (m *LayerManager) CleanupUnusedLayers(now int64) {
	for layer, stamp := range m.lastUsed {
		if layer == 0 || layer == BlackoutLayer {
			// The base layer lives as long as its fixtures; the blackout
			// layer is only ever released by an explicit cancel.
			continue
		}
		if !m.IsLayerFree(layer) {
			continue
		}
		if now-stamp < m.idleMs {
			continue
		}
		m.teardown(layer)
	}
}

// ResetLayerTracking tears a layer down immediately, bypassing the idle
// threshold. Layer 0 only drops its tracking stamp.
func (m *LayerManager) ResetLayerTracking(layer int) {
	if layer == 0 {
		delete(m.lastUsed, layer)
		return
	}
	m.teardown(layer)
}

func (m *LayerManager) teardown(layer int) {
	for key := range m.store.values {
		if key.layer == layer {
			m.store.RemoveLayer(key.fixture, layer)
		}
	}
	delete(m.lastUsed, layer)
	m.logger.Debug("Layer torn down", "layer", layer)
}
