// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package dmx converts composed fixture states into DMX512 universe
// buffers for the transports.
package dmx

import (
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
)

// UniverseSize is the number of channels in a DMX512 universe.
const UniverseSize = 512

// Universe is a dense channel -> value buffer. Index 0 carries DMX
// channel 1. Channels no fixture drives stay 0.
type Universe [UniverseSize]byte

// Assembler writes composed per-fixture colors into a universe buffer using
// each fixture's capability profile. It knows nothing about transports.
type Assembler struct {
	registry *fixture.Registry
}

// NewAssembler creates an assembler over the given registry.
func NewAssembler(registry *fixture.Registry) *Assembler {
	return &Assembler{registry: registry}
}

// SetRegistry swaps the registry on configuration replacement.
func (a *Assembler) SetRegistry(registry *fixture.Registry) {
	a.registry = registry
}

// Assemble builds the universe buffer for one frame. colors maps fixture id
// to its composed color; fixtures without an entry leave their channels 0.
func (a *Assembler) Assemble(colors map[string]effect.Color) Universe {
	var u Universe
	for _, f := range a.registry.All() {
		c, ok := colors[f.ID]
		if !ok {
			continue
		}
		setChannel(&u, f.Profile.Red, c.Red)
		setChannel(&u, f.Profile.Green, c.Green)
		setChannel(&u, f.Profile.Blue, c.Blue)
		setChannel(&u, f.Profile.Intensity, c.Intensity)
		if c.Pan != nil {
			setChannel(&u, f.Profile.Pan, *c.Pan)
		}
		if c.Tilt != nil {
			setChannel(&u, f.Profile.Tilt, *c.Tilt)
		}
	}
	return u
}

func setChannel(u *Universe, ch int, value uint8) {
	if ch < 1 || ch > UniverseSize {
		return
	}
	u[ch-1] = value
}
