// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import "light-sequencer/internal/effect"

// EventCounters tracks how many external events of each kind have occurred.
// Counters only grow; event-gated waits compare against a snapshot taken
// when the wait began. Owned by the sequencer goroutine — external producers
// increment through the inbox, so events landing in the same tick are
// counted in inbox order, once each.
type EventCounters struct {
	counts map[effect.EventKind]uint64
}

// NewEventCounters creates zeroed counters.
func NewEventCounters() *EventCounters {
	return &EventCounters{counts: make(map[effect.EventKind]uint64)}
}

// Increment records one occurrence of kind.
func (e *EventCounters) Increment(kind effect.EventKind) {
	e.counts[kind]++
}

// Count returns the total occurrences of kind.
func (e *EventCounters) Count(kind effect.EventKind) uint64 {
	return e.counts[kind]
}
