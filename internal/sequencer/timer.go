// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"log/slog"
	"sort"
)

// Scheduler fires delayed and repeating callbacks against the sequencer
// clock rather than the OS timer, so scheduled work shares the tick time
// domain with the state machines. Owned by the sequencer goroutine.
type Scheduler struct {
	logger  *slog.Logger
	nextID  int
	entries map[int]*schedEntry
}

type schedEntry struct {
	id       int
	due      int64
	interval int64 // 0 = one-shot
	cb       func()
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:  logger,
		entries: make(map[int]*schedEntry),
	}
}

// ScheduleAt registers a one-shot callback due at the given clock time and
// returns its cancellation id.
func (s *Scheduler) ScheduleAt(at int64, cb func()) int {
	s.nextID++
	s.entries[s.nextID] = &schedEntry{id: s.nextID, due: at, cb: cb}
	return s.nextID
}

// ScheduleRepeating registers a repeating callback. The first firing happens
// initialDelay milliseconds after now (or one interval, when initialDelay is
// negative), then every interval.
func (s *Scheduler) ScheduleRepeating(now int64, cb func(), interval int64, initialDelay int64) int {
	if interval < 1 {
		interval = 1
	}
	if initialDelay < 0 {
		initialDelay = interval
	}
	s.nextID++
	s.entries[s.nextID] = &schedEntry{id: s.nextID, due: now + initialDelay, interval: interval, cb: cb}
	return s.nextID
}

// Cancel removes an entry by id.
func (s *Scheduler) Cancel(id int) {
	delete(s.entries, id)
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Tick fires due entries. One-shots are removed before their callback runs;
// repeating entries advance their next-due by one interval per firing. A
// callback panic is logged — the one-shot is already disposed, a repeating
// entry survives and fires again.
func (s *Scheduler) Tick(now int64) {
	var due []*schedEntry
	for _, e := range s.entries {
		if e.due <= now {
			due = append(due, e)
		}
	}
	// Stable firing order for entries due on the same tick.
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].id < due[j].id
	})

	for _, e := range due {
		if e.interval == 0 {
			delete(s.entries, e.id)
		} else {
			e.due += e.interval
		}
		s.fire(e)
	}
}

func (s *Scheduler) fire(e *schedEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled callback panicked", "id", e.id, "panic", r)
		}
	}()
	e.cb()
}
