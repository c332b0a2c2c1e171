// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"testing"

	"light-sequencer/internal/easing"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
)

func testFixture() *fixture.Fixture {
	return &fixture.Fixture{
		ID:       "front-1",
		Position: 1,
		Group:    fixture.GroupFront,
		Profile:  fixture.Profile{Red: 1, Green: 2, Blue: 3, Intensity: 4, Pan: 5, Tilt: 6, PanHome: 127, TiltHome: 64},
	}
}

func red(intensity uint8) effect.Color {
	return effect.Color{Red: 255, Intensity: intensity, Opacity: 1, Blend: effect.BlendReplace}
}

func TestStoreSetGetRemove(t *testing.T) {
	s := NewStore()

	s.Set("front-1", 0, red(255))
	c, ok := s.Get("front-1", 0)
	if !ok || c.Red != 255 {
		t.Fatalf("get = %v %v", c, ok)
	}

	s.RemoveLayer("front-1", 0)
	if _, ok := s.Get("front-1", 0); ok {
		t.Error("removed slot still present")
	}
}

func TestStoreLayersOf(t *testing.T) {
	s := NewStore()
	s.Set("front-1", 3, red(1))
	s.Set("front-1", 0, red(1))
	s.Set("front-2", 1, red(1))

	layers := s.LayersOf("front-1")
	if len(layers) != 2 || layers[0] != 0 || layers[1] != 3 {
		t.Errorf("layers = %v, want [0 3]", layers)
	}
}

func TestStoreTransitionAdvance(t *testing.T) {
	s := NewStore()
	start := effect.Color{Opacity: 1, Blend: effect.BlendReplace}

	s.BeginTransition("front-1", 0, start, red(128), 0, 1000, easing.Linear)

	// Begins at the start color.
	c, _ := s.Get("front-1", 0)
	if c.Red != 0 {
		t.Errorf("initial red = %d, want 0", c.Red)
	}

	s.Advance(500)
	c, _ = s.Get("front-1", 0)
	if c.Red < 126 || c.Red > 130 {
		t.Errorf("midpoint red = %d, want ~128", c.Red)
	}
	if c.Intensity < 62 || c.Intensity > 66 {
		t.Errorf("midpoint intensity = %d, want ~64", c.Intensity)
	}

	s.Advance(1000)
	c, _ = s.Get("front-1", 0)
	if c.Red != 255 || c.Intensity != 128 {
		t.Errorf("final color = %v", c)
	}

	// Completed transitions are dropped.
	if _, ok := s.TransitionValue("front-1", 0, 1001); ok {
		t.Error("transition should be gone after completion")
	}
}

func TestStoreZeroDurationSnaps(t *testing.T) {
	s := NewStore()
	s.BeginTransition("front-1", 0, effect.Black(), red(255), 0, 0, easing.Linear)

	c, _ := s.Get("front-1", 0)
	if c.Red != 255 {
		t.Errorf("zero-duration red = %d, want 255", c.Red)
	}
}

func TestComposeSingleLayer(t *testing.T) {
	s := NewStore()
	f := testFixture()
	s.Set(f.ID, 0, red(255))

	out := s.Compose(f)
	if out.Red != 255 || out.Intensity != 255 {
		t.Errorf("composed = %v", out)
	}
	// Pan/tilt fall back to home positions.
	if out.Pan == nil || *out.Pan != 127 {
		t.Errorf("pan = %v, want home 127", out.Pan)
	}
	if out.Tilt == nil || *out.Tilt != 64 {
		t.Errorf("tilt = %v, want home 64", out.Tilt)
	}
}

func TestComposeReplaceOverlay(t *testing.T) {
	s := NewStore()
	f := testFixture()
	s.Set(f.ID, 0, red(255))
	s.Set(f.ID, 2, effect.Color{Blue: 200, Intensity: 100, Opacity: 0.5, Blend: effect.BlendReplace})

	out := s.Compose(f)
	if out.Red != 0 || out.Blue != 200 || out.Intensity != 100 {
		t.Errorf("replace overlay should win: %v", out)
	}
	if out.Opacity != 0.5 {
		t.Errorf("opacity = %v, want 0.5", out.Opacity)
	}
}

func TestComposeAddOverlay(t *testing.T) {
	// Layered add: a zero-intensity add layer contributes nothing; raising
	// its intensity adds RGB scaled by that intensity.
	s := NewStore()
	f := testFixture()
	s.Set(f.ID, 0, red(255))
	s.Set(f.ID, 3, effect.Color{Blue: 255, Intensity: 0, Opacity: 0.5, Blend: effect.BlendAdd})

	out := s.Compose(f)
	if out.Red != 255 {
		t.Errorf("red = %d, want 255", out.Red)
	}
	if out.Blue != 0 {
		t.Errorf("blue = %d, want 0 for zero-intensity add", out.Blue)
	}
	if out.Opacity != 0.5 {
		t.Errorf("opacity = %v, want min(1, 0.5)", out.Opacity)
	}

	s.Set(f.ID, 3, effect.Color{Blue: 255, Intensity: 128, Opacity: 0.5, Blend: effect.BlendAdd})
	out = s.Compose(f)
	if out.Red != 255 {
		t.Errorf("red = %d, want 255", out.Red)
	}
	if out.Blue < 126 || out.Blue > 130 {
		t.Errorf("blue = %d, want ~128", out.Blue)
	}
	if out.Intensity != 255 {
		t.Errorf("intensity = %d, want clamp(255+128)", out.Intensity)
	}
}

func TestComposePanTiltFromHighestLayer(t *testing.T) {
	s := NewStore()
	f := testFixture()
	p0, p5 := uint8(10), uint8(200)
	s.Set(f.ID, 0, effect.Color{Opacity: 1, Blend: effect.BlendReplace, Pan: &p0, Tilt: &p0})
	s.Set(f.ID, 5, effect.Color{Opacity: 1, Blend: effect.BlendAdd, Pan: &p5})

	out := s.Compose(f)
	if *out.Pan != 200 {
		t.Errorf("pan = %d, want highest layer's 200", *out.Pan)
	}
	if *out.Tilt != 10 {
		t.Errorf("tilt = %d, want layer 0's 10", *out.Tilt)
	}
}

func TestComposeTotal(t *testing.T) {
	// Every fixture with at least one entry composes to a fully defined color.
	s := NewStore()
	f := testFixture()
	s.Set(f.ID, 7, effect.Color{Green: 9, Blend: effect.BlendAdd})

	out := s.Compose(f)
	if out.Pan == nil || out.Tilt == nil {
		t.Error("composition must define pan/tilt")
	}
	if out.Blend != effect.BlendReplace {
		t.Errorf("composed blend = %q", out.Blend)
	}
}

func TestStorePurgeUnknown(t *testing.T) {
	s := NewStore()
	s.Set("front-1", 0, red(1))
	s.Set("gone", 0, red(1))
	s.BeginTransition("gone", 1, effect.Black(), red(2), 0, 100, easing.Linear)

	s.PurgeUnknown(func(id string) bool { return id == "front-1" })

	if _, ok := s.Get("front-1", 0); !ok {
		t.Error("known fixture purged")
	}
	if _, ok := s.Get("gone", 0); ok {
		t.Error("unknown fixture survived purge")
	}
	if _, ok := s.TransitionValue("gone", 1, 50); ok {
		t.Error("unknown fixture transition survived purge")
	}
}
