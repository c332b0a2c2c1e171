// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package transport carries composed universe buffers to the wire: Art-Net
// and sACN over UDP, Enttec USB DMX Pro over serial. Send is fire-and-forget
// for every backend; errors surface asynchronously through OnError.
package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"light-sequencer/internal/dmx"
	"light-sequencer/internal/metrics"
)

// Transport is the contract every DMX backend implements.
type Transport interface {
	Name() string
	Start() error
	Stop()
	Send(u dmx.Universe)
	OnError(fn func(error))
}

// maxConsecutiveFailures disables a backend after persistent write errors.
const maxConsecutiveFailures = 10

// sender is the shared fire-and-forget worker behind every backend: Send
// enqueues without blocking, a goroutine writes, failures fan out to error
// listeners, and a run of consecutive failures disables the backend.
type sender struct {
	name   string
	logger *slog.Logger
	write  func(u dmx.Universe) error
	close  func()

	queue    chan dmx.Universe
	stopChan chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	errFns   []func(error)
	failures int
	disabled bool
	running  bool
}

func newSender(name string, logger *slog.Logger, write func(u dmx.Universe) error, closeFn func()) *sender {
	return &sender{
		name:   name,
		logger: logger,
		write:  write,
		close:  closeFn,
		queue:  make(chan dmx.Universe, 8),
	}
}

func (s *sender) Name() string {
	return s.name
}

func (s *sender) start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.disabled = false
	s.failures = 0
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
}

// Stop halts the write worker and releases the backend's handle.
func (s *sender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	if s.close != nil {
		s.close()
	}
	s.logger.Info("Transport stopped", "backend", s.name)
}

// Send enqueues a frame without blocking. Frames are dropped when the worker
// is behind or the backend has been disabled.
func (s *sender) Send(u dmx.Universe) {
	s.mu.Lock()
	if !s.running || s.disabled {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.queue <- u:
	default:
	}
}

// OnError registers an asynchronous error listener.
func (s *sender) OnError(fn func(error)) {
	s.mu.Lock()
	s.errFns = append(s.errFns, fn)
	s.mu.Unlock()
}

func (s *sender) loop() {
	defer close(s.done)

	for {
		select {
		case u := <-s.queue:
			if err := s.write(u); err != nil {
				s.fail(err)
			} else {
				s.mu.Lock()
				s.failures = 0
				s.mu.Unlock()
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *sender) fail(err error) {
	metrics.TransportErrors.WithLabelValues(s.name).Inc()

	s.mu.Lock()
	s.failures++
	failures := s.failures
	fns := make([]func(error), len(s.errFns))
	copy(fns, s.errFns)
	if failures >= maxConsecutiveFailures {
		s.disabled = true
	}
	disabled := s.disabled
	s.mu.Unlock()

	for _, fn := range fns {
		fn(fmt.Errorf("%s send: %w", s.name, err))
	}
	if disabled {
		s.logger.Error("Transport disabled after persistent failures",
			"backend", s.name, "failures", failures)
	} else {
		s.logger.Warn("Transport send failed", "backend", s.name, "error", err)
	}
}

// Pump forwards frames from the sequencer to every transport until the
// frame channel closes or stop is signalled.
func Pump(frames <-chan dmx.Universe, transports []Transport, stop <-chan struct{}) {
	for {
		select {
		case u, ok := <-frames:
			if !ok {
				return
			}
			for _, t := range transports {
				t.Send(u)
			}
		case <-stop:
			return
		}
	}
}
