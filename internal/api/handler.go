// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package api

import (
	"encoding/json"

	"light-sequencer/internal/effect"
	"light-sequencer/internal/fixture"
	"light-sequencer/internal/metrics"
	"light-sequencer/internal/sequencer"
)

// Request is the unified JSON request format for all protocols
// Used by: HTTP POST /api, WebSocket, MQTT
type Request struct {
	Cmd        string         `json:"cmd"`                   // add, set, queue, add_if_free, set_if_free, remove_layer, remove_name, set_state, blackout, cancel_blackout, event, enable, disable, status, fixtures, groups
	Name       string         `json:"name,omitempty"`        // effect name
	Persistent bool           `json:"persistent,omitempty"`  // loop the effect
	Effect     *effect.Effect `json:"effect,omitempty"`      // effect definition
	Layer      int            `json:"layer,omitempty"`       // for remove_layer / remove_name
	ClearStore bool           `json:"clear_store,omitempty"` // remove_layer: also clear store entries
	Fixtures   []string       `json:"fixtures,omitempty"`    // explicit fixture ids
	Groups     []string       `json:"groups,omitempty"`      // group selection
	Targets    []string       `json:"targets,omitempty"`     // target selection within groups
	Color      *effect.Color  `json:"color,omitempty"`       // for set_state
	DurationMs int64          `json:"duration_ms,omitempty"` // fade duration
	Kind       string         `json:"kind,omitempty"`        // event kind
}

// Response is the unified JSON response format
type Response struct {
	Type  string      `json:"type"` // status, fixtures, groups, error, ok
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Handler processes unified API requests
type Handler struct {
	seq *sequencer.Sequencer
}

// NewHandler creates a new API handler
func NewHandler(seq *sequencer.Sequencer) *Handler {
	return &Handler{seq: seq}
}

// Handle processes a request and returns a response
func (h *Handler) Handle(req *Request) *Response {
	switch req.Cmd {
	case "add", "set", "queue", "add_if_free", "set_if_free":
		return h.handleInstall(req)
	case "remove_layer":
		h.seq.RemoveByLayer(req.Layer, req.ClearStore)
		return &Response{Type: "ok"}
	case "remove_name":
		if req.Name == "" {
			return &Response{Type: "error", Error: "name required"}
		}
		h.seq.RemoveByName(req.Name, req.Layer)
		return &Response{Type: "ok"}
	case "set_state":
		return h.handleSetState(req)
	case "blackout":
		h.seq.Blackout(req.DurationMs)
		return &Response{Type: "ok"}
	case "cancel_blackout":
		h.seq.CancelBlackout()
		return &Response{Type: "ok"}
	case "event":
		return h.handleEvent(req)
	case "enable":
		h.seq.Enable()
		return &Response{Type: "ok"}
	case "disable":
		h.seq.Disable()
		return &Response{Type: "ok"}
	case "status":
		return &Response{Type: "status", Data: h.seq.Status()}
	case "fixtures":
		return &Response{Type: "fixtures", Data: h.seq.Registry().All()}
	case "groups":
		return &Response{Type: "groups", Data: h.seq.Registry().Groups()}
	default:
		metrics.ErrorsTotal.WithLabelValues("api").Inc()
		return &Response{Type: "error", Error: "unknown command: " + req.Cmd}
	}
}

// HandleJSON parses JSON and returns JSON response
func (h *Handler) HandleJSON(data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		resp := &Response{Type: "error", Error: "invalid JSON: " + err.Error()}
		out, _ := json.Marshal(resp)
		return out
	}
	resp := h.Handle(&req)
	out, _ := json.Marshal(resp)
	return out
}

func (h *Handler) handleInstall(req *Request) *Response {
	if req.Name == "" {
		return &Response{Type: "error", Error: "name required"}
	}
	if req.Effect == nil || len(req.Effect.Steps) == 0 {
		return &Response{Type: "error", Error: "effect with steps required"}
	}

	// Steps may target groups instead of explicit fixtures.
	eff := *req.Effect
	eff.Steps = h.resolveSteps(eff.Steps, req.Groups, req.Targets)

	switch req.Cmd {
	case "add":
		h.seq.Add(req.Name, eff, req.Persistent)
		return &Response{Type: "ok"}
	case "set":
		h.seq.Set(req.Name, eff, req.Persistent)
		return &Response{Type: "ok"}
	case "queue":
		h.seq.Queue(req.Name, eff, req.Persistent)
		return &Response{Type: "ok"}
	case "add_if_free":
		installed := h.seq.AddIfFree(req.Name, eff, req.Persistent)
		return &Response{Type: "ok", Data: map[string]bool{"installed": installed}}
	default:
		installed := h.seq.SetIfFree(req.Name, eff, req.Persistent)
		return &Response{Type: "ok", Data: map[string]bool{"installed": installed}}
	}
}

// resolveSteps fills empty step target lists from a group/target selection.
func (h *Handler) resolveSteps(steps []effect.Step, groups, targets []string) []effect.Step {
	if len(groups) == 0 {
		return steps
	}
	ids := h.selectIDs(groups, targets)
	out := make([]effect.Step, len(steps))
	for i, s := range steps {
		if len(s.Lights) == 0 {
			s.Lights = ids
		}
		out[i] = s
	}
	return out
}

func (h *Handler) handleSetState(req *Request) *Response {
	if req.Color == nil {
		return &Response{Type: "error", Error: "color required"}
	}

	ids := req.Fixtures
	if len(ids) == 0 && len(req.Groups) > 0 {
		ids = h.selectIDs(req.Groups, req.Targets)
	}
	if len(ids) == 0 {
		return &Response{Type: "error", Error: "fixtures or groups required"}
	}

	h.seq.SetState(ids, *req.Color, req.DurationMs)
	return &Response{Type: "ok"}
}

func (h *Handler) handleEvent(req *Request) *Response {
	kind := effect.EventKind(req.Kind)
	if !effect.KnownEvent(kind) {
		return &Response{Type: "error", Error: "unknown event kind: " + req.Kind}
	}
	h.seq.Emit(kind)
	return &Response{Type: "ok"}
}

func (h *Handler) selectIDs(groups, targets []string) []string {
	gs := make([]fixture.Group, len(groups))
	for i, g := range groups {
		gs[i] = fixture.Group(g)
	}
	ts := make([]fixture.Target, len(targets))
	for i, t := range targets {
		ts[i] = fixture.Target(t)
	}
	if len(ts) == 0 {
		ts = []fixture.Target{fixture.TargetAll}
	}

	selected := h.seq.Registry().Select(gs, ts)
	ids := make([]string, len(selected))
	for i, f := range selected {
		ids[i] = f.ID
	}
	return ids
}
