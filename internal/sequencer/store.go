// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"sort"

	"light-sequencer/internal/easing"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
)

// slot identifies a (fixture, layer) cell.
type slot struct {
	fixture string
	layer   int
}

// transition is one in-flight interpolation on a slot.
type transition struct {
	start    effect.Color
	end      effect.Color
	startAt  int64
	duration int64
	curve    easing.Func
}

// Store maps (fixture, layer) to its current color and owns the in-flight
// transitions that move those colors. It is owned exclusively by the
// sequencer goroutine; external callers reach it through the inbox.
type Store struct {
	values      map[slot]effect.Color
	transitions map[slot]*transition
}

// NewStore creates an empty light state store.
func NewStore() *Store {
	return &Store{
		values:      make(map[slot]effect.Color),
		transitions: make(map[slot]*transition),
	}
}

// Set writes the current color for a slot, cancelling any in-flight
// transition on it.
func (s *Store) Set(fixtureID string, layer int, c effect.Color) {
	key := slot{fixtureID, layer}
	s.values[key] = c
	delete(s.transitions, key)
}

// Get returns the current color for a slot.
func (s *Store) Get(fixtureID string, layer int) (effect.Color, bool) {
	c, ok := s.values[slot{fixtureID, layer}]
	return c, ok
}

// RemoveLayer deletes a slot's color and transition.
func (s *Store) RemoveLayer(fixtureID string, layer int) {
	key := slot{fixtureID, layer}
	delete(s.values, key)
	delete(s.transitions, key)
}

// LayersOf returns the layers holding a color for the fixture, ascending.
func (s *Store) LayersOf(fixtureID string) []int {
	var layers []int
	for key := range s.values {
		if key.fixture == fixtureID {
			layers = append(layers, key.layer)
		}
	}
	sort.Ints(layers)
	return layers
}

// BeginTransition starts interpolating a slot from start to end over
// duration milliseconds. The slot's color becomes start immediately; each
// Advance moves it toward end.
func (s *Store) BeginTransition(fixtureID string, layer int, start, end effect.Color, now, duration int64, curveName string) {
	key := slot{fixtureID, layer}
	if duration <= 0 {
		s.values[key] = end
		delete(s.transitions, key)
		return
	}
	s.values[key] = start
	s.transitions[key] = &transition{
		start:    start,
		end:      end,
		startAt:  now,
		duration: duration,
		curve:    easing.Resolve(curveName),
	}
}

// TransitionValue returns the interpolated color an in-flight transition
// would hold at the given time, if the slot has one.
func (s *Store) TransitionValue(fixtureID string, layer int, now int64) (effect.Color, bool) {
	tr, ok := s.transitions[slot{fixtureID, layer}]
	if !ok {
		return effect.Color{}, false
	}
	return Interpolate(tr.start, tr.end, now-tr.startAt, tr.duration, tr.curve), true
}

// Advance moves every in-flight transition to its color at now. Completed
// transitions settle on their end color and are dropped.
func (s *Store) Advance(now int64) {
	for key, tr := range s.transitions {
		elapsed := now - tr.startAt
		if elapsed >= tr.duration {
			s.values[key] = tr.end
			delete(s.transitions, key)
			continue
		}
		s.values[key] = Interpolate(tr.start, tr.end, elapsed, tr.duration, tr.curve)
	}
}

// Compose combines all layer entries for a fixture into one output color:
// from layer 0 upward, replace-mode layers overwrite the running value,
// add-mode layers clamp-add intensity, contribute R/G/B scaled by their own
// intensity, and take the minimum opacity. Pan/tilt come from the highest
// layer that defines them, falling back to the fixture's home positions.
func (s *Store) Compose(f *fixture.Fixture) effect.Color {
	out := effect.Black()

	var pan, tilt *uint8
	for _, layer := range s.LayersOf(f.ID) {
		c := s.values[slot{f.ID, layer}]
		switch c.Blend {
		case effect.BlendAdd:
			scale := float64(c.Intensity) / 255
			out.Red = clampAdd(out.Red, scaleByte(c.Red, scale))
			out.Green = clampAdd(out.Green, scaleByte(c.Green, scale))
			out.Blue = clampAdd(out.Blue, scaleByte(c.Blue, scale))
			out.Intensity = clampAdd(out.Intensity, c.Intensity)
			if c.Opacity < out.Opacity {
				out.Opacity = c.Opacity
			}
		default:
			out = c
			out.Blend = effect.BlendReplace
		}
		if c.Pan != nil {
			pan = c.Pan
		}
		if c.Tilt != nil {
			tilt = c.Tilt
		}
	}

	if pan == nil {
		home := f.Profile.PanHome
		pan = &home
	}
	if tilt == nil {
		home := f.Profile.TiltHome
		tilt = &home
	}
	out.Pan = pan
	out.Tilt = tilt

	return out
}

// PurgeUnknown drops every slot whose fixture the predicate rejects. Used
// when a configuration replacement removes fixtures.
func (s *Store) PurgeUnknown(known func(fixtureID string) bool) {
	for key := range s.values {
		if !known(key.fixture) {
			delete(s.values, key)
		}
	}
	for key := range s.transitions {
		if !known(key.fixture) {
			delete(s.transitions, key)
		}
	}
}

func clampAdd(a, b uint8) uint8 {
	sum := int(a) + int(b)
	if sum > 255 {
		return 255
	}
	return uint8(sum)
}

func scaleByte(v uint8, scale float64) uint8 {
	return uint8(float64(v)*scale + 0.5)
}
