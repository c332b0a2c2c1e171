// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDelta is the most recent tick delta in milliseconds
	TickDelta = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_tick_delta_ms",
			Help: "Elapsed time of the most recent sequencer tick (ms)",
		},
	)

	// ActiveEffects is the number of occupied active (layer, fixture) slots
	ActiveEffects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_active_effects",
			Help: "Active effect slots across all layers",
		},
	)

	// QueuedEffects is the number of occupied queued slots
	QueuedEffects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_queued_effects",
			Help: "Queued effect slots across all layers",
		},
	)

	// Enabled indicates if DMX output is enabled
	Enabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_output_enabled",
			Help: "DMX output enabled (1) or disabled (0)",
		},
	)

	// FrameCount is total frames composed
	FrameCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_frames_total",
			Help: "Total DMX frames composed",
		},
	)

	// CommandsTotal counts effect manager commands by type
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_commands_total",
			Help: "Total effect manager commands by type",
		},
		[]string{"command"},
	)

	// EventsTotal counts external events by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_events_total",
			Help: "Total external events by kind",
		},
		[]string{"kind"},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	// TransportErrors counts transport send failures by backend
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_transport_errors_total",
			Help: "Total transport send failures by backend",
		},
		[]string{"backend"},
	)
)

// SetEnabled updates the enabled metric
func SetEnabled(enabled bool) {
	if enabled {
		Enabled.Set(1)
	} else {
		Enabled.Set(0)
	}
}
