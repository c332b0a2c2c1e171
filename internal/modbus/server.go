// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package modbus

import (
	"encoding/binary"
	"log/slog"

	"github.com/tbrandon/mbserver"

	"light-sequencer/internal/config"
	"light-sequencer/internal/dmx"
	"light-sequencer/internal/sequencer"
)

// Server is the Modbus TCP mirror of the sequencer output
// Register mapping:
//   - Holding registers 0-511 = composed DMX channels 1-512 (read-only)
//   - Coil 0 = output enable (read/write)
//   - Coil 1 = blackout (write-only, triggers an instant blackout on write 1)
type Server struct {
	cfg    *config.ModbusConfig
	seq    *sequencer.Sequencer
	logger *slog.Logger
	mb     *mbserver.Server
}

// NewServer creates a new Modbus TCP server
func NewServer(cfg *config.ModbusConfig, seq *sequencer.Sequencer, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		seq:    seq,
		logger: logger,
	}
}

// Start starts the Modbus TCP server
func (s *Server) Start() error {
	s.mb = mbserver.NewServer()

	s.mb.RegisterFunctionHandler(3, s.handleReadHoldingRegisters) // FC03
	s.mb.RegisterFunctionHandler(1, s.handleReadCoils)            // FC01
	s.mb.RegisterFunctionHandler(5, s.handleWriteSingleCoil)      // FC05

	addr := s.cfg.Port
	if addr == "" {
		addr = ":502"
	}

	s.logger.Info("Modbus TCP server starting", "addr", addr)

	go func() {
		if err := s.mb.ListenTCP(addr); err != nil {
			s.logger.Error("Modbus TCP server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the Modbus TCP server
func (s *Server) Stop() {
	if s.mb != nil {
		s.mb.Close()
		s.logger.Info("Modbus TCP server stopped")
	}
}

// FC03: Read Holding Registers (composed DMX channels)
func (s *Server) handleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if startAddr+quantity > dmx.UniverseSize {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	universe := s.seq.CurrentUniverse()

	// Build response: each register = 1 channel (0-255 in low byte)
	resp := make([]byte, 1+quantity*2)
	resp[0] = byte(quantity * 2) // byte count

	for i := uint16(0); i < quantity; i++ {
		ch := startAddr + i
		val := uint16(universe[ch])
		binary.BigEndian.PutUint16(resp[1+i*2:], val)
	}

	return resp, &mbserver.Success
}

// FC01: Read Coils (output enable status)
func (s *Server) handleReadCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if startAddr+quantity > 2 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// Coil 0 = enabled, Coil 1 = always 0 (blackout is write-only)
	var coils byte
	if s.seq.IsEnabled() {
		coils |= 0x01
	}

	resp := []byte{1, coils} // byte count + coils byte
	return resp, &mbserver.Success
}

// FC05: Write Single Coil (enable/disable/blackout)
func (s *Server) handleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	on := value == 0xFF00

	switch addr {
	case 0: // Enable/disable output
		if on {
			s.seq.Enable()
			s.logger.Info("Modbus: output enabled")
		} else {
			s.seq.Disable()
			s.logger.Info("Modbus: output disabled")
		}
	case 1: // Blackout (only on write 1)
		if on {
			s.seq.Blackout(0)
			s.logger.Info("Modbus: blackout triggered")
		}
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// Echo request as response
	return data[:4], &mbserver.Success
}
