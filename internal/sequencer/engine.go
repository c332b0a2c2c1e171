// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"log/slog"

	"light-sequencer/internal/easing"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
)

// Engine advances every active light state machine once per tick. All
// advances within a tick observe the same captured now, so effects scheduled
// for the same instant see identical timestamps.
type Engine struct {
	layers   *LayerManager
	store    *Store
	events   *EventCounters
	registry *fixture.Registry
	logger   *slog.Logger

	// onComplete is the layer manager's completion protocol, installed by
	// the effect manager at construction. Kept as a function value so the
	// engine holds no reference back to the manager.
	onComplete func(st *LightEffectState, now int64)
}

// NewEngine creates a transition engine over the given collaborators.
func NewEngine(layers *LayerManager, store *Store, events *EventCounters, registry *fixture.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		layers:   layers,
		store:    store,
		events:   events,
		registry: registry,
		logger:   logger,
	}
}

// SetRegistry swaps the fixture registry on configuration replacement.
func (e *Engine) SetRegistry(r *fixture.Registry) {
	e.registry = r
}

// Tick walks every active state machine with a single captured now. Each
// advance is isolated: a fault in one effect marks that effect complete and
// leaves its peers untouched.
func (e *Engine) Tick(now int64) {
	for _, st := range e.layers.ActiveStates() {
		e.advanceIsolated(st, now)
	}
}

func (e *Engine) advanceIsolated(st *LightEffectState, now int64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("State machine fault, completing effect",
				"effect", st.EffectName, "layer", st.Layer, "fixture", st.Fixture, "panic", r)
			e.complete(st, now)
		}
	}()
	e.advance(st, now)
}

// advance runs one state-machine step. Gates that pass immediately chain
// into the next state within the same tick, so a step with no waits moves
// idle -> transitioning in one advance.
func (e *Engine) advance(st *LightEffectState, now int64) {
	switch st.State {
	case stateIdle:
		if st.Index >= len(st.Transitions) {
			e.complete(st, now)
			return
		}
		step := st.Transitions[st.Index]
		st.State = stateWaitingFor
		st.TransitionStart = now
		e.armWait(st, step.WaitFor, now)
		if e.waitSatisfied(st, step.WaitFor, now) {
			e.startTransition(st, step, now)
		}

	case stateWaitingFor:
		step := st.Transitions[st.Index]
		if e.waitSatisfied(st, step.WaitFor, now) {
			e.startTransition(st, step, now)
		}

	case stateTransitioning:
		if now < st.WaitEnd {
			return
		}
		step := st.Transitions[st.Index]
		end := e.fillPanTilt(step.Color, st.Fixture)
		st.LastEnd = &end
		st.State = stateWaitingUntil
		e.armWait(st, step.WaitUntil, now)
		if e.waitSatisfied(st, step.WaitUntil, now) {
			e.nextStep(st, now)
		}

	case stateWaitingUntil:
		step := st.Transitions[st.Index]
		if e.waitSatisfied(st, step.WaitUntil, now) {
			e.nextStep(st, now)
		}

	default:
		e.logger.Error("Unknown state tag, completing effect",
			"effect", st.EffectName, "state", uint8(st.State), "layer", st.Layer, "fixture", st.Fixture)
		e.complete(st, now)
	}
}

// armWait records the bookkeeping a wait needs: the deadline for delays, the
// counter snapshot for event gates.
func (e *Engine) armWait(st *LightEffectState, w effect.Wait, now int64) {
	switch w.Kind {
	case effect.WaitDelay:
		st.WaitEnd = now + w.DelayMs
	case effect.WaitEvent:
		st.WaitEnd = now
		st.eventBase = e.events.Count(w.Event)
	default:
		st.WaitEnd = now
	}
}

func (e *Engine) waitSatisfied(st *LightEffectState, w effect.Wait, now int64) bool {
	switch w.Kind {
	case effect.WaitNone:
		return true
	case effect.WaitDelay:
		return now >= st.WaitEnd
	case effect.WaitEvent:
		return e.events.Count(w.Event)-st.eventBase >= uint64(w.Count)
	}
	return true
}

// startTransition resolves the starting color, hands the interpolation to
// the store and enters the transitioning state. The start color comes from,
// in priority order: the previous step's end state, the store's current slot
// value, the slot's in-flight interpolation, then opaque black.
func (e *Engine) startTransition(st *LightEffectState, step effect.Step, now int64) {
	var start effect.Color
	switch {
	case st.LastEnd != nil:
		start = *st.LastEnd
	default:
		if c, ok := e.store.Get(st.Fixture, st.Layer); ok {
			start = c
		} else if c, ok := e.store.TransitionValue(st.Fixture, st.Layer, now); ok {
			start = c
		} else {
			start = effect.Black()
		}
	}

	end := e.fillPanTilt(step.Color, st.Fixture)
	start = e.fillPanTilt(start, st.Fixture)

	if step.Easing != "" && !easing.Known(step.Easing) {
		e.logger.Warn("Unknown easing, falling back to linear", "easing", step.Easing, "effect", st.EffectName)
	}

	e.store.BeginTransition(st.Fixture, st.Layer, start, end, now, step.DurationMs, step.Easing)
	st.State = stateTransitioning
	st.TransitionStart = now
	st.WaitEnd = now + step.DurationMs
	e.layers.Touch(st.Layer, now)
}

// fillPanTilt fills absent pan/tilt with the fixture's home positions.
func (e *Engine) fillPanTilt(c effect.Color, fixtureID string) effect.Color {
	if c.Pan != nil && c.Tilt != nil {
		return c
	}
	f := e.registry.Lookup(fixtureID)
	if f == nil {
		return c
	}
	if c.Pan == nil {
		home := f.Profile.PanHome
		c.Pan = &home
	}
	if c.Tilt == nil {
		home := f.Profile.TiltHome
		c.Tilt = &home
	}
	return c
}

func (e *Engine) nextStep(st *LightEffectState, now int64) {
	st.Index++
	st.State = stateIdle
	if st.Index >= len(st.Transitions) {
		e.complete(st, now)
	}
}

func (e *Engine) complete(st *LightEffectState, now int64) {
	if e.onComplete != nil {
		e.onComplete(st, now)
		return
	}
	e.layers.RemoveActive(st.Layer, st.Fixture)
}
