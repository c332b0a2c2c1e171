// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"math"

	"light-sequencer/internal/easing"
	"light-sequencer/internal/effect"
)

// Interpolate returns the color elapsed milliseconds into a transition from
// start to end over duration, under the given easing curve. It is pure and
// deterministic. A zero duration yields end immediately. The blend mode
// always follows the end color.
func Interpolate(start, end effect.Color, elapsed, duration int64, curve easing.Func) effect.Color {
	if duration <= 0 || elapsed >= duration {
		return end
	}

	t := float64(elapsed) / float64(duration)
	if t < 0 {
		t = 0
	}
	eased := curve(t)

	out := effect.Color{
		Red:       lerpByte(start.Red, end.Red, eased),
		Green:     lerpByte(start.Green, end.Green, eased),
		Blue:      lerpByte(start.Blue, end.Blue, eased),
		Intensity: lerpByte(start.Intensity, end.Intensity, eased),
		Opacity:   start.Opacity + eased*(end.Opacity-start.Opacity),
		Blend:     end.Blend,
	}

	out.Pan = lerpOptional(start.Pan, end.Pan, eased)
	out.Tilt = lerpOptional(start.Tilt, end.Tilt, eased)

	return out
}

func lerpByte(a, b uint8, t float64) uint8 {
	v := math.Round(float64(a) + t*(float64(b)-float64(a)))
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// lerpOptional blends optional pan/tilt components. With only one side
// defined the end side wins; the engine fills home positions before starting
// a transition, so both sides are normally present.
func lerpOptional(a, b *uint8, t float64) *uint8 {
	if b == nil {
		return nil
	}
	if a == nil {
		v := *b
		return &v
	}
	v := lerpByte(*a, *b, t)
	return &v
}
