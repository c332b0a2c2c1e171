// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"light-sequencer/internal/api"
	"light-sequencer/internal/config"
	"light-sequencer/internal/sequencer"
)

var startTime = time.Now()

// Server is the HTTP/WebSocket server
type Server struct {
	cfg        *config.Config
	configPath string
	seq        *sequencer.Sequencer
	api        *api.Handler
	logger     *slog.Logger
	server     *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, configPath string, seq *sequencer.Sequencer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		seq:        seq,
		api:        api.NewHandler(seq),
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Unified API endpoint (JSON POST)
	mux.HandleFunc("/api", s.handleAPI)

	// REST API
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/blackout", s.handleBlackout)
	mux.HandleFunc("/api/fixtures", s.handleFixtures)
	mux.HandleFunc("/api/groups", s.handleGroups)
	mux.HandleFunc("/api/universe", s.handleUniverse)
	mux.HandleFunc("/api/reload", s.handleReload)
	mux.HandleFunc("/api/health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    cfg.Server.HTTP,
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.cfg.Server.HTTP)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	// Subscribe to composed state updates
	updates := s.seq.Subscribe()
	defer s.seq.Unsubscribe(updates)

	// Channel for outgoing messages (serializes all writes to avoid concurrent write panic)
	outgoing := make(chan []byte, 100)
	done := make(chan struct{})

	s.sendInitialStateAsync(outgoing)

	// Read from client
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Debug("WebSocket read error", "error", err)
				}
				return
			}
			outgoing <- s.api.HandleJSON(message)
		}
	}()

	// Write loop - all writes go through here
	for {
		select {
		case data := <-outgoing:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("WebSocket write error", "error", err)
				return
			}
		case data, ok := <-updates:
			if !ok {
				return
			}
			// data is pre-marshaled JSON from the sequencer broadcast
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("WebSocket write error", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

// wsInitMessage is sent once on connection
type wsInitMessage struct {
	Type     string           `json:"type"` // "init"
	Status   sequencer.Status `json:"status"`
	Fixtures interface{}      `json:"fixtures"`
	Groups   interface{}      `json:"groups"`
}

// sendInitialStateAsync sends init message (full config) to new client
func (s *Server) sendInitialStateAsync(outgoing chan<- []byte) {
	reg := s.seq.Registry()
	data, _ := json.Marshal(wsInitMessage{
		Type:     "init",
		Status:   s.seq.Status(),
		Fixtures: reg.All(),
		Groups:   reg.Groups(),
	})
	outgoing <- data
}

// handleAPI handles the unified JSON API endpoint
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	resp := s.api.HandleJSON(body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// REST API Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.seq.Status())
}

func (s *Server) handleBlackout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		DurationMs int64 `json:"duration_ms"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	s.seq.Blackout(body.DurationMs)
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFixtures(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.seq.Registry().All())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.seq.Registry().Groups())
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	u := s.seq.CurrentUniverse()
	s.jsonResponse(w, u[:])
}

// handleReload re-reads the configuration file and hot-swaps the registry
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Error("Config reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.seq.ReplaceConfig(cfg)
	s.cfg = cfg
	s.logger.Info("Configuration reloaded", "path", s.configPath)
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Read CPU load from /proc/loadavg (Linux only)
	var load1, load5, load15 float64
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	}

	s.jsonResponse(w, healthResponse{
		UptimeSec:  int(time.Since(startTime).Seconds()),
		UptimeStr:  time.Since(startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		CPULoad1m:  load1,
		CPULoad5m:  load5,
		CPULoad15m: load15,
		MemAllocMB: float64(m.Alloc) / 1024 / 1024,
		MemSysMB:   float64(m.Sys) / 1024 / 1024,
		MemHeapMB:  float64(m.HeapAlloc) / 1024 / 1024,
		GCRuns:     m.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	})
}

// healthResponse for /api/health endpoint (typed to avoid map allocation)
type healthResponse struct {
	UptimeSec  int     `json:"uptime_sec"`
	UptimeStr  string  `json:"uptime_str"`
	Goroutines int     `json:"goroutines"`
	CPULoad1m  float64 `json:"cpu_load_1m"`
	CPULoad5m  float64 `json:"cpu_load_5m"`
	CPULoad15m float64 `json:"cpu_load_15m"`
	MemAllocMB float64 `json:"mem_alloc_mb"`
	MemSysMB   float64 `json:"mem_sys_mb"`
	MemHeapMB  float64 `json:"mem_heap_mb"`
	GCRuns     uint32  `json:"gc_runs"`
	GoVersion  string  `json:"go_version"`
	NumCPU     int     `json:"num_cpu"`
}

func (s *Server) jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ServeHTTP exposes the mux for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.cfg.Server.HTTP
}
