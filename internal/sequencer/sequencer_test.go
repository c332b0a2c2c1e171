// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package sequencer

import (
	"encoding/json"
	"testing"
	"time"

	"light-sequencer/internal/config"
	"light-sequencer/internal/effect"
)

func TestInboxPreservesOrder(t *testing.T) {
	s := newTestSequencer()

	var order []string
	s.do(func(now int64) { order = append(order, "a") })
	s.do(func(now int64) { order = append(order, "b") })

	s.tick(0, 1)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
}

func TestInboxPanicIsolated(t *testing.T) {
	s := newTestSequencer()

	ran := false
	s.do(func(now int64) { panic("bad request") })
	s.do(func(now int64) { ran = true })

	s.tick(0, 1)

	if !ran {
		t.Error("a faulty inbox request must not block later ones")
	}
}

func TestInboxDrainedBeforeStateMachines(t *testing.T) {
	s := newTestSequencer()

	// An effect enqueued through the public path starts on the very tick
	// that drains it.
	s.Add("e", oneStep("front-1", 0, red(255), 0), false)
	s.tick(5, 5)

	c, ok := s.store.Get("front-1", 0)
	if !ok || c.Red != 255 {
		t.Errorf("color = %v %v, want the effect applied within the tick", c, ok)
	}
}

func TestFramesChannelPublishes(t *testing.T) {
	s := newTestSequencer()
	s.manager.SetState([]string{"front-1"}, red(255), 0, 0)

	runTicks(s, 0, 5, 1)

	select {
	case u := <-s.Frames():
		if u[0] != 255 {
			t.Errorf("frame red channel = %d", u[0])
		}
	default:
		t.Fatal("no frame published")
	}
}

func TestDisableGatesFrames(t *testing.T) {
	s := newTestSequencer()
	s.Disable()
	s.manager.SetState([]string{"front-1"}, red(255), 0, 0)

	runTicks(s, 0, 5, 1)

	select {
	case <-s.Frames():
		t.Fatal("disabled output must not feed transports")
	default:
	}

	// Composition keeps running while disabled.
	u := s.CurrentUniverse()
	if u[0] != 255 {
		t.Errorf("composition stopped while disabled, red = %d", u[0])
	}
}

func TestSubscribeReceivesState(t *testing.T) {
	s := newTestSequencer()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.manager.SetState([]string{"front-1"}, red(255), 0, 0)
	runTicks(s, 0, 5, 1)

	select {
	case data := <-ch:
		var update StateUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if update.Type != "state" {
			t.Errorf("type = %q", update.Type)
		}
		if update.Values["front-1"].Red != 255 {
			t.Errorf("values = %v", update.Values)
		}
	default:
		t.Fatal("no state update broadcast")
	}
}

func TestReplaceConfigPurgesUnknownFixtures(t *testing.T) {
	s := newTestSequencer()
	s.manager.SetState([]string{"front-1", "front-2"}, red(255), 0, 0)
	runTicks(s, 0, 5, 1)

	smaller, err := config.Parse([]byte(`
fixtures:
  front:
    - id: front-1
      position: 1
      profile: {red: 1, green: 2, blue: 3, intensity: 4}
`))
	if err != nil {
		t.Fatal(err)
	}

	s.ReplaceConfig(smaller)
	s.tick(6, 1)

	if s.Registry().Len() != 1 {
		t.Errorf("registry size = %d, want 1", s.Registry().Len())
	}
	if _, ok := s.store.Get("front-2", 0); ok {
		t.Error("store entry for removed fixture should be purged")
	}
	if _, ok := s.store.Get("front-1", 0); !ok {
		t.Error("surviving fixture should keep its state")
	}
}

func TestEmitCountsEvents(t *testing.T) {
	s := newTestSequencer()

	s.Emit(effect.EventBeat)
	s.Emit(effect.EventBeat)
	s.Emit(effect.EventKind("no-such-kind"))
	s.tick(0, 1)

	if got := s.events.Count(effect.EventBeat); got != 2 {
		t.Errorf("beat count = %d, want 2", got)
	}
}

func TestSchedulerThroughSequencer(t *testing.T) {
	s := newTestSequencer()

	fired := 0
	s.ScheduleAt(50, func() { fired++ })
	runTicks(s, 0, 100, 1)

	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

func TestPublicAPIWithRunningClock(t *testing.T) {
	s := newTestSequencer()
	s.Start()
	defer s.Stop()

	if !s.AddIfFree("e1", oneStep("front-1", 0, red(255), 20), false) {
		t.Fatal("addIfFree on an empty sequencer should install")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		u := s.CurrentUniverse()
		if u[0] == 255 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	u := s.CurrentUniverse()
	if u[0] != 255 {
		t.Fatalf("fade never reached its target, red = %d", u[0])
	}

	status := s.Status()
	if !status.Running || status.Fixtures != 3 {
		t.Errorf("status = %+v", status)
	}
	if status.FrameCount == 0 {
		t.Error("frames should have been composed")
	}
}
