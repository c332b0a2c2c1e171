// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"light-sequencer/internal/config"
	"light-sequencer/internal/http"
	"light-sequencer/internal/modbus"
	"light-sequencer/internal/mqtt"
	"light-sequencer/internal/sequencer"
	"light-sequencer/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		logLevel   = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
		dryRun     = flag.Bool("dry-run", false, "Validate config and exit")
	)
	flag.Parse()

	// Setup slog
	level := parseLogLevel(*logLevel)
	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("Light Sequencer starting", "version", "1.0.0")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	registry := cfg.BuildRegistry()
	logger.Info("Configuration loaded",
		"groups", len(cfg.Fixtures),
		"fixtures", registry.Len(),
		"http", cfg.Server.HTTP)

	if *dryRun {
		logger.Info("Dry run mode - configuration is valid")
		os.Exit(0)
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Initialize the sequencer
	seq := sequencer.New(cfg.Engine, registry, logger)

	// Initialize DMX transports
	var transports []transport.Transport
	if cfg.Transports.ArtNet != nil {
		transports = append(transports, transport.NewArtNet(cfg.Transports.ArtNet, logger))
	}
	if cfg.Transports.SACN != nil {
		transports = append(transports, transport.NewSACN(cfg.Transports.SACN, logger))
	}
	if cfg.Transports.Enttec != nil {
		transports = append(transports, transport.NewEnttec(cfg.Transports.Enttec, logger))
	}
	for _, t := range transports {
		t.OnError(seq.ReportError)
		if err := t.Start(); err != nil {
			logger.Error("Failed to start transport", "backend", t.Name(), "error", err)
			os.Exit(1)
		}
	}

	// Forward composed frames to the transports
	pumpStop := make(chan struct{})
	go transport.Pump(seq.Frames(), transports, pumpStop)

	// Drain the global sequencer error channel
	go func() {
		for err := range seq.Errors() {
			logger.Warn("Sequencer error", "error", err)
		}
	}()

	seq.Start()

	// Start HTTP server with WebSocket
	httpServer := http.NewServer(cfg, *configPath, seq, logger)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", "error", err)
		os.Exit(1)
	}

	// Start Modbus TCP server if configured
	var modbusServer *modbus.Server
	if cfg.Modbus != nil {
		modbusServer = modbus.NewServer(cfg.Modbus, seq, logger)
		if err := modbusServer.Start(); err != nil {
			logger.Error("Failed to start Modbus server", "error", err)
			os.Exit(1)
		}
	}

	// Start MQTT client if configured
	var mqttClient *mqtt.Client
	if cfg.MQTT != nil {
		mqttClient = mqtt.NewClient(cfg.MQTT, seq, logger)
		if err := mqttClient.Start(); err != nil {
			logger.Error("Failed to start MQTT client", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Light Sequencer ready",
		"http", cfg.Server.HTTP,
		"transports", len(transports),
		"modbus", cfg.Modbus != nil,
		"mqtt", cfg.MQTT != nil)

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown...")

	// Stop MQTT client
	if mqttClient != nil {
		mqttClient.Stop()
	}

	// Stop Modbus server
	if modbusServer != nil {
		modbusServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the sequencer and the transports
	seq.Stop()
	close(pumpStop)
	for _, t := range transports {
		t.Stop()
	}

	logger.Info("Light Sequencer stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
