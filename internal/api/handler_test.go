// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package api

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"light-sequencer/internal/config"
	"light-sequencer/internal/effect"
	"light-sequencer/internal/sequencer"
)

const testYAML = `
fixtures:
  front:
    - id: front-1
      position: 1
      profile: {red: 1, green: 2, blue: 3, intensity: 4}
    - id: front-2
      position: 2
      profile: {red: 5, green: 6, blue: 7, intensity: 8}
    - id: front-3
      position: 3
      profile: {red: 9, green: 10, blue: 11, intensity: 12}
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHandler(t *testing.T) (*Handler, *sequencer.Sequencer) {
	t.Helper()
	cfg, err := config.Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	seq := sequencer.New(cfg.Engine, cfg.BuildRegistry(), testLogger())
	seq.Start()
	t.Cleanup(seq.Stop)
	return NewHandler(seq), seq
}

func handleJSON(t *testing.T, h *Handler, req string) *Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(h.HandleJSON([]byte(req)), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	return &resp
}

func TestHandleStatus(t *testing.T) {
	h, _ := testHandler(t)

	resp := handleJSON(t, h, `{"cmd":"status"}`)
	if resp.Type != "status" {
		t.Errorf("type = %q, error = %q", resp.Type, resp.Error)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	h, _ := testHandler(t)

	resp := handleJSON(t, h, `{"cmd":"reticulate"}`)
	if resp.Type != "error" {
		t.Errorf("type = %q, want error", resp.Type)
	}
}

func TestHandleInvalidJSON(t *testing.T) {
	h, _ := testHandler(t)

	resp := handleJSON(t, h, `{nope`)
	if resp.Type != "error" {
		t.Errorf("type = %q, want error", resp.Type)
	}
}

func TestHandleSetState(t *testing.T) {
	h, seq := testHandler(t)

	resp := handleJSON(t, h, `{"cmd":"set_state","fixtures":["front-1"],"color":{"red":255,"intensity":255,"opacity":1,"blend":"replace"},"duration_ms":0}`)
	if resp.Type != "ok" {
		t.Fatalf("resp = %+v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if seq.CurrentUniverse()[0] == 255 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("set_state never reached the universe, red = %d", seq.CurrentUniverse()[0])
}

func TestHandleSetStateByGroupTarget(t *testing.T) {
	h, seq := testHandler(t)

	// third-2 on three front fixtures selects the median: front-2 (red ch 5).
	resp := handleJSON(t, h, `{"cmd":"set_state","groups":["front"],"targets":["third-2"],"color":{"red":200,"intensity":255,"opacity":1,"blend":"replace"},"duration_ms":0}`)
	if resp.Type != "ok" {
		t.Fatalf("resp = %+v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		u := seq.CurrentUniverse()
		if u[4] == 200 {
			if u[0] != 0 || u[8] != 0 {
				t.Error("target selection leaked onto other fixtures")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("group/target set_state never landed")
}

func TestHandleSetStateValidation(t *testing.T) {
	h, _ := testHandler(t)

	if resp := handleJSON(t, h, `{"cmd":"set_state","fixtures":["front-1"]}`); resp.Type != "error" {
		t.Error("missing color should error")
	}
	if resp := handleJSON(t, h, `{"cmd":"set_state","color":{"opacity":1,"blend":"replace"}}`); resp.Type != "error" {
		t.Error("missing targets should error")
	}
}

func TestHandleAddEffect(t *testing.T) {
	h, _ := testHandler(t)

	eff := effect.Effect{ID: "pulse", Steps: []effect.Step{{
		Lights: []string{"front-1"}, Layer: 1,
		Color:      effect.Color{Red: 255, Intensity: 255, Opacity: 1, Blend: effect.BlendReplace},
		DurationMs: 50, Easing: "sin-in-out",
	}}}
	body, _ := json.Marshal(Request{Cmd: "add", Name: "pulse", Effect: &eff})

	var resp Response
	json.Unmarshal(h.HandleJSON(body), &resp)
	if resp.Type != "ok" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleAddRequiresNameAndSteps(t *testing.T) {
	h, _ := testHandler(t)

	if resp := handleJSON(t, h, `{"cmd":"add","effect":{"steps":[{"lights":["front-1"]}]}}`); resp.Type != "error" {
		t.Error("missing name should error")
	}
	if resp := handleJSON(t, h, `{"cmd":"add","name":"x"}`); resp.Type != "error" {
		t.Error("missing effect should error")
	}
}

func TestHandleAddIfFreeReportsInstalled(t *testing.T) {
	h, _ := testHandler(t)

	req := `{"cmd":"add_if_free","name":"once","effect":{"steps":[{"lights":["front-1"],"layer":2,"color":{"red":9,"opacity":1,"blend":"replace"},"duration_ms":60000}]}}`
	resp := handleJSON(t, h, req)
	if resp.Type != "ok" {
		t.Fatalf("resp = %+v", resp)
	}
	data, _ := resp.Data.(map[string]interface{})
	if installed, _ := data["installed"].(bool); !installed {
		t.Error("first install should report installed=true")
	}

	resp = handleJSON(t, h, req)
	data, _ = resp.Data.(map[string]interface{})
	if installed, _ := data["installed"].(bool); installed {
		t.Error("second install on the occupied slot should report false")
	}
}

func TestHandleEvent(t *testing.T) {
	h, _ := testHandler(t)

	if resp := handleJSON(t, h, `{"cmd":"event","kind":"beat"}`); resp.Type != "ok" {
		t.Errorf("beat event resp = %+v", resp)
	}
	if resp := handleJSON(t, h, `{"cmd":"event","kind":"air-horn"}`); resp.Type != "error" {
		t.Error("unknown event kind should error")
	}
}

func TestHandleFixturesAndGroups(t *testing.T) {
	h, _ := testHandler(t)

	if resp := handleJSON(t, h, `{"cmd":"fixtures"}`); resp.Type != "fixtures" {
		t.Errorf("fixtures resp = %+v", resp)
	}
	if resp := handleJSON(t, h, `{"cmd":"groups"}`); resp.Type != "groups" {
		t.Errorf("groups resp = %+v", resp)
	}
}

func TestHandleBlackoutRoundTrip(t *testing.T) {
	h, seq := testHandler(t)

	handleJSON(t, h, `{"cmd":"set_state","fixtures":["front-1"],"color":{"red":255,"intensity":255,"opacity":1,"blend":"replace"},"duration_ms":0}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seq.CurrentUniverse()[0] != 255 {
		time.Sleep(5 * time.Millisecond)
	}

	if resp := handleJSON(t, h, `{"cmd":"blackout","duration_ms":0}`); resp.Type != "ok" {
		t.Fatalf("blackout resp = %+v", resp)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seq.CurrentUniverse()[0] != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if seq.CurrentUniverse()[0] != 0 {
		t.Fatal("blackout never landed")
	}

	if resp := handleJSON(t, h, `{"cmd":"cancel_blackout"}`); resp.Type != "ok" {
		t.Fatalf("cancel resp = %+v", resp)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seq.CurrentUniverse()[0] != 255 {
		time.Sleep(5 * time.Millisecond)
	}
	if seq.CurrentUniverse()[0] != 255 {
		t.Error("cancel should revert to the layers beneath")
	}
}

func TestHandleEnableDisable(t *testing.T) {
	h, seq := testHandler(t)

	handleJSON(t, h, `{"cmd":"disable"}`)
	if seq.IsEnabled() {
		t.Error("disable did not take")
	}
	handleJSON(t, h, `{"cmd":"enable"}`)
	if !seq.IsEnabled() {
		t.Error("enable did not take")
	}
}
