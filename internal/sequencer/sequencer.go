// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"light-sequencer/internal/config"
	"light-sequencer/internal/dmx"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
	"light-sequencer/internal/metrics"
)

// Sequencer owns the whole engine on one goroutine: the clock drives ticks,
// each tick drains the external inbox, advances every state machine under a
// single captured now, moves in-flight interpolations, and at the DMX frame
// cadence composes fixture colors into a universe buffer for the transports.
type Sequencer struct {
	logger *slog.Logger
	clock  *Clock

	// Owned by the sequencer goroutine.
	store     *Store
	layers    *LayerManager
	engine    *Engine
	manager   *Manager
	events    *EventCounters
	sched     *Scheduler
	assembler *dmx.Assembler

	inbox   chan func(now int64)
	clockID int

	frameIntervalMs int64
	lastFrame       int64
	frameCount      uint64

	regMu    sync.RWMutex
	registry *fixture.Registry

	outMu   sync.RWMutex
	enabled bool
	lastOut dmx.Universe

	frames chan dmx.Universe
	errs   chan error

	// Subscribers for state changes (WebSocket/MQTT clients)
	// Channel sends pre-marshaled JSON []byte
	subsMu sync.RWMutex
	subs   map[chan []byte]struct{}
}

// Status is the typed response for status queries
type Status struct {
	Running       bool   `json:"running"`
	Enabled       bool   `json:"enabled"`
	NowMs         int64  `json:"now_ms"`
	ActiveEffects int    `json:"active_effects"`
	QueuedEffects int    `json:"queued_effects"`
	Fixtures      int    `json:"fixtures"`
	FrameCount    uint64 `json:"frame_count"`
}

// StateUpdate is the single event type sent to subscribers
type StateUpdate struct {
	Type    string                  `json:"type"` // always "state"
	Enabled bool                    `json:"enabled"`
	NowMs   int64                   `json:"now_ms"`
	Values  map[string]effect.Color `json:"values"` // fixture id -> composed color
}

// New builds a sequencer from the engine configuration and fixture registry.
func New(engineCfg config.EngineConfig, registry *fixture.Registry, logger *slog.Logger) *Sequencer {
	store := NewStore()
	layers := NewLayerManager(store, int64(engineCfg.LayerIdleMs), logger)
	events := NewEventCounters()
	engine := NewEngine(layers, store, events, registry, logger)
	manager := NewManager(store, layers, engine, events, registry, logger)

	inboxCap := engineCfg.InboxCapacity
	if inboxCap <= 0 {
		inboxCap = 1024
	}
	tick := time.Duration(engineCfg.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = time.Millisecond
	}
	frameRate := engineCfg.FrameRateHz
	if frameRate <= 0 {
		frameRate = 44
	}

	s := &Sequencer{
		logger:          logger,
		clock:           NewClock(tick, logger),
		store:           store,
		layers:          layers,
		engine:          engine,
		manager:         manager,
		events:          events,
		sched:           NewScheduler(logger),
		assembler:       dmx.NewAssembler(registry),
		inbox:           make(chan func(now int64), inboxCap),
		frameIntervalMs: int64(1000 / frameRate),
		lastFrame:       -1 << 62,
		registry:        registry,
		enabled:         true,
		frames:          make(chan dmx.Universe, 4),
		errs:            make(chan error, 16),
		subs:            make(map[chan []byte]struct{}),
	}
	return s
}

// Start registers the tick handler and starts the clock.
func (s *Sequencer) Start() {
	s.clockID = s.clock.Register(s.tick)
	s.clock.Start()
	s.logger.Info("Sequencer started", "fixtures", s.registry.Len(), "frame_interval_ms", s.frameIntervalMs)
}

// Stop halts the clock; pending inbox entries are dropped with it.
func (s *Sequencer) Stop() {
	s.clock.Stop()
	s.clock.Unregister(s.clockID)
	s.logger.Info("Sequencer stopped")
}

// Now returns the current clock time in milliseconds.
func (s *Sequencer) Now() int64 {
	return s.clock.Now()
}

// Frames is the channel transports consume composed universe buffers from.
// Frames are dropped, not blocked on, when the consumer falls behind.
func (s *Sequencer) Frames() <-chan dmx.Universe {
	return s.frames
}

// Errors is the global sequencer error channel.
func (s *Sequencer) Errors() <-chan error {
	return s.errs
}

// tick is the per-tick pipeline. Order matters: the inbox drains first so
// external requests are observed in arrival order, every state machine then
// advances under the captured now, interpolations move, idle layers get
// torn down, and only after all of that does composition run.
func (s *Sequencer) tick(now, delta int64) {
	metrics.TickDelta.Set(float64(delta))

	s.drainInbox(now)
	s.engine.Tick(now)
	s.sched.Tick(now)
	s.store.Advance(now)
	s.layers.CleanupUnusedLayers(now)

	metrics.ActiveEffects.Set(float64(s.layers.ActiveCount()))
	metrics.QueuedEffects.Set(float64(s.layers.QueuedCount()))

	if now-s.lastFrame >= s.frameIntervalMs {
		s.lastFrame = now
		s.emitFrame(now)
	}
}

func (s *Sequencer) drainInbox(now int64) {
	for {
		select {
		case fn := <-s.inbox:
			s.runInboxFn(fn, now)
		default:
			return
		}
	}
}

func (s *Sequencer) runInboxFn(fn func(now int64), now int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Inbox request panicked", "panic", r)
			metrics.ErrorsTotal.WithLabelValues("inbox").Inc()
		}
	}()
	fn(now)
}

// emitFrame composes every fixture with at least one layered entry and hands
// the universe buffer to the transports and subscribers.
func (s *Sequencer) emitFrame(now int64) {
	colors := make(map[string]effect.Color)
	for _, f := range s.registrySnapshot().All() {
		if len(s.store.LayersOf(f.ID)) == 0 {
			continue
		}
		colors[f.ID] = s.store.Compose(f)
	}

	u := s.assembler.Assemble(colors)
	s.frameCount++
	metrics.FrameCount.Inc()

	s.outMu.Lock()
	s.lastOut = u
	enabled := s.enabled
	s.outMu.Unlock()

	if enabled {
		select {
		case s.frames <- u:
		default:
			// Transport pump is behind; newer frames matter more than old.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- u:
			default:
			}
		}
	}

	s.broadcastState(now, colors, enabled)
}

// broadcastState sends the composed state to all subscribers as
// pre-marshaled JSON, skipping the marshal entirely when nobody listens.
func (s *Sequencer) broadcastState(now int64, colors map[string]effect.Color, enabled bool) {
	s.subsMu.RLock()
	if len(s.subs) == 0 {
		s.subsMu.RUnlock()
		return
	}
	s.subsMu.RUnlock()

	data, _ := json.Marshal(StateUpdate{
		Type:    "state",
		Enabled: enabled,
		NowMs:   now,
		Values:  colors,
	})

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- data:
		default:
			// Channel full, skip
		}
	}
}

// Subscribe returns a channel that receives pre-marshaled JSON state updates
func (s *Sequencer) Subscribe() chan []byte {
	ch := make(chan []byte, 100)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber
func (s *Sequencer) Unsubscribe(ch chan []byte) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	close(ch)
	s.subsMu.Unlock()
}

// do enqueues a mutation for the next tick.
func (s *Sequencer) do(fn func(now int64)) {
	s.inbox <- fn
}

// callBool enqueues a query and waits for its tick-side answer.
func (s *Sequencer) callBool(fn func(now int64) bool) bool {
	reply := make(chan bool, 1)
	s.inbox <- func(now int64) { reply <- fn(now) }
	return <-reply
}

// Add installs an effect, replacing whatever occupies its slots.
func (s *Sequencer) Add(name string, eff effect.Effect, persistent bool) {
	metrics.CommandsTotal.WithLabelValues("add").Inc()
	s.do(func(now int64) { s.manager.Add(name, eff, persistent, now) })
}

// Set installs an effect after clearing every layer it touches.
func (s *Sequencer) Set(name string, eff effect.Effect, persistent bool) {
	metrics.CommandsTotal.WithLabelValues("set").Inc()
	s.do(func(now int64) { s.manager.Set(name, eff, persistent, now) })
}

// Queue records an effect as the pending successor on its slots.
func (s *Sequencer) Queue(name string, eff effect.Effect, persistent bool) {
	metrics.CommandsTotal.WithLabelValues("queue").Inc()
	s.do(func(now int64) { s.manager.Queue(name, eff, persistent, now) })
}

// AddIfFree installs only on free slots; reports whether any slot took it.
func (s *Sequencer) AddIfFree(name string, eff effect.Effect, persistent bool) bool {
	metrics.CommandsTotal.WithLabelValues("add_if_free").Inc()
	return s.callBool(func(now int64) bool { return s.manager.AddIfFree(name, eff, persistent, now) })
}

// SetIfFree installs with Set semantics when every touched slot is free.
func (s *Sequencer) SetIfFree(name string, eff effect.Effect, persistent bool) bool {
	metrics.CommandsTotal.WithLabelValues("set_if_free").Inc()
	return s.callBool(func(now int64) bool { return s.manager.SetIfFree(name, eff, persistent, now) })
}

// RemoveByLayer evicts a whole layer, optionally clearing its store entries.
func (s *Sequencer) RemoveByLayer(layer int, alsoRemoveTransitions bool) {
	metrics.CommandsTotal.WithLabelValues("remove_layer").Inc()
	s.do(func(now int64) { s.manager.RemoveByLayer(layer, alsoRemoveTransitions) })
}

// RemoveByName evicts matching slots on a layer.
func (s *Sequencer) RemoveByName(name string, layer int) {
	metrics.CommandsTotal.WithLabelValues("remove_name").Inc()
	s.do(func(now int64) { s.manager.RemoveByName(name, layer) })
}

// SetState fades fixtures to a color on the base layer.
func (s *Sequencer) SetState(fixtureIDs []string, c effect.Color, durationMs int64) {
	metrics.CommandsTotal.WithLabelValues("set_state").Inc()
	s.do(func(now int64) { s.manager.SetState(fixtureIDs, c, durationMs, now) })
}

// Blackout fades everything to black on the reserved top layer. The
// returned channel closes when the fade completes or is cancelled.
func (s *Sequencer) Blackout(durationMs int64) <-chan struct{} {
	metrics.CommandsTotal.WithLabelValues("blackout").Inc()
	reply := make(chan (<-chan struct{}), 1)
	s.inbox <- func(now int64) { reply <- s.manager.Blackout(durationMs, now) }
	return <-reply
}

// CancelBlackout aborts an in-flight blackout and releases its layer.
func (s *Sequencer) CancelBlackout() {
	metrics.CommandsTotal.WithLabelValues("cancel_blackout").Inc()
	s.do(func(now int64) { s.manager.CancelBlackout() })
}

// Emit records one external event of the given kind; event-gated waits
// observe it on the tick that drains it.
func (s *Sequencer) Emit(kind effect.EventKind) {
	if !effect.KnownEvent(kind) {
		s.logger.Warn("Unknown event kind", "kind", kind)
		metrics.ErrorsTotal.WithLabelValues("event").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues(string(kind)).Inc()
	s.do(func(now int64) { s.events.Increment(kind) })
}

// ScheduleAt runs cb on the first tick at or after the given clock time.
func (s *Sequencer) ScheduleAt(atMs int64, cb func()) <-chan int {
	id := make(chan int, 1)
	s.do(func(now int64) { id <- s.sched.ScheduleAt(atMs, cb) })
	return id
}

// ScheduleRepeating runs cb every interval; the first run happens after
// initialDelay (or one interval when negative).
func (s *Sequencer) ScheduleRepeating(cb func(), intervalMs, initialDelayMs int64) <-chan int {
	id := make(chan int, 1)
	s.do(func(now int64) { id <- s.sched.ScheduleRepeating(now, cb, intervalMs, initialDelayMs) })
	return id
}

// CancelSchedule cancels a scheduled callback by id.
func (s *Sequencer) CancelSchedule(id int) {
	s.do(func(now int64) { s.sched.Cancel(id) })
}

// Enable opens the transport output gate.
func (s *Sequencer) Enable() {
	s.outMu.Lock()
	s.enabled = true
	s.outMu.Unlock()
	metrics.SetEnabled(true)
	s.logger.Info("Output enabled")
}

// Disable closes the transport output gate; composition keeps running.
func (s *Sequencer) Disable() {
	s.outMu.Lock()
	s.enabled = false
	s.outMu.Unlock()
	metrics.SetEnabled(false)
	s.logger.Info("Output disabled")
}

// IsEnabled reports the output gate.
func (s *Sequencer) IsEnabled() bool {
	s.outMu.RLock()
	defer s.outMu.RUnlock()
	return s.enabled
}

// CurrentUniverse returns the most recently composed universe buffer.
func (s *Sequencer) CurrentUniverse() dmx.Universe {
	s.outMu.RLock()
	defer s.outMu.RUnlock()
	return s.lastOut
}

// Registry returns the current fixture registry.
func (s *Sequencer) Registry() *fixture.Registry {
	return s.registrySnapshot()
}

func (s *Sequencer) registrySnapshot() *fixture.Registry {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return s.registry
}

// ReplaceConfig hot-swaps the fixture configuration: the registry is
// rebuilt (its selection cache dies with it) and store entries for fixtures
// that no longer exist are purged.
func (s *Sequencer) ReplaceConfig(cfg *config.Config) {
	registry := cfg.BuildRegistry()
	s.do(func(now int64) {
		s.regMu.Lock()
		s.registry = registry
		s.regMu.Unlock()
		s.manager.SetRegistry(registry)
		s.assembler.SetRegistry(registry)
		s.store.PurgeUnknown(func(id string) bool { return registry.Lookup(id) != nil })
		s.logger.Info("Configuration replaced", "fixtures", registry.Len())
	})
}

// Status returns a point-in-time snapshot for status queries.
func (s *Sequencer) Status() Status {
	reply := make(chan Status, 1)
	s.inbox <- func(now int64) {
		reply <- Status{
			Running:       true,
			Enabled:       s.IsEnabled(),
			NowMs:         now,
			ActiveEffects: s.layers.ActiveCount(),
			QueuedEffects: s.layers.QueuedCount(),
			Fixtures:      s.registrySnapshot().Len(),
			FrameCount:    s.frameCount,
		}
	}
	return <-reply
}

// ReportError pushes an error onto the global sequencer error channel.
func (s *Sequencer) ReportError(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("Error channel full, dropping", "error", err)
	}
}
