// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package transport

import (
	"fmt"
	"log/slog"

	"github.com/goburrow/serial"

	"light-sequencer/internal/config"
	"light-sequencer/internal/dmx"
)

const (
	enttecStartOfMessage  = 0x7E
	enttecEndOfMessage    = 0xE7
	enttecLabelOutputOnly = 6
)

// Enttec drives an Enttec USB DMX Pro over its serial protocol.
type Enttec struct {
	*sender
	cfg  *config.EnttecConfig
	port serial.Port
}

// NewEnttec creates an Enttec Pro backend.
func NewEnttec(cfg *config.EnttecConfig, logger *slog.Logger) *Enttec {
	e := &Enttec{cfg: cfg}
	e.sender = newSender("enttec", logger, e.writeFrame, e.closePort)
	return e
}

// Start opens the serial device.
func (e *Enttec) Start() error {
	port, err := serial.Open(&serial.Config{
		Address:  e.cfg.Device,
		BaudRate: e.cfg.Baud,
		DataBits: 8,
		StopBits: 2,
		Parity:   "N",
	})
	if err != nil {
		return fmt.Errorf("open enttec device %s: %w", e.cfg.Device, err)
	}
	e.port = port
	e.start()
	e.logger.Info("Enttec transport started", "device", e.cfg.Device, "baud", e.cfg.Baud)
	return nil
}

func (e *Enttec) closePort() {
	if e.port != nil {
		e.port.Close()
	}
}

// writeFrame sends one Output Only Send DMX message: SOM, label, payload
// length, start code plus 512 slots, EOM.
func (e *Enttec) writeFrame(u dmx.Universe) error {
	payload := dmx.UniverseSize + 1
	buf := make([]byte, 0, payload+5)
	buf = append(buf, enttecStartOfMessage, enttecLabelOutputOnly,
		byte(payload&0xFF), byte(payload>>8), 0x00)
	buf = append(buf, u[:]...)
	buf = append(buf, enttecEndOfMessage)

	_, err := e.port.Write(buf)
	return err
}
