// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package transport

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"light-sequencer/internal/config"
	"light-sequencer/internal/dmx"
)

const (
	sacnPacketSize = 638
	sacnSourceName = "light-sequencer"
)

// SACN sends E1.31 data packets over UDP.
type SACN struct {
	*sender
	cfg  *config.SACNConfig
	conn *net.UDPConn
	cid  [16]byte

	seqMu sync.Mutex
	seq   byte
}

// NewSACN creates an sACN backend for one universe.
func NewSACN(cfg *config.SACNConfig, logger *slog.Logger) *SACN {
	s := &SACN{cfg: cfg}
	// Stable CID derived from the source name and universe.
	copy(s.cid[:], sacnSourceName)
	s.cid[14] = byte(cfg.Universe >> 8)
	s.cid[15] = byte(cfg.Universe & 0xFF)
	s.sender = newSender("sacn", logger, s.writeFrame, s.closeConn)
	return s
}

// Start resolves the destination and opens the UDP socket.
func (s *SACN) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve sacn address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial sacn: %w", err)
	}
	s.conn = conn
	s.start()
	s.logger.Info("sACN transport started", "addr", s.cfg.Address, "universe", s.cfg.Universe)
	return nil
}

func (s *SACN) closeConn() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *SACN) writeFrame(u dmx.Universe) error {
	_, err := s.conn.Write(s.packet(u))
	return err
}

// packet builds one E1.31 data packet: ACN root layer, framing layer and
// DMP layer carrying start code 0 plus 512 slots.
func (s *SACN) packet(u dmx.Universe) []byte {
	s.seqMu.Lock()
	s.seq++
	seq := s.seq
	s.seqMu.Unlock()

	buf := make([]byte, sacnPacketSize)

	// Root layer
	binary.BigEndian.PutUint16(buf[0:2], 0x0010) // preamble size
	binary.BigEndian.PutUint16(buf[2:4], 0x0000) // postamble size
	copy(buf[4:16], "ASC-E1.17\x00\x00\x00")
	binary.BigEndian.PutUint16(buf[16:18], flagsAndLength(sacnPacketSize-16))
	binary.BigEndian.PutUint32(buf[18:22], 0x00000004) // VECTOR_ROOT_E131_DATA
	copy(buf[22:38], s.cid[:])

	// Framing layer
	binary.BigEndian.PutUint16(buf[38:40], flagsAndLength(sacnPacketSize-38))
	binary.BigEndian.PutUint32(buf[40:44], 0x00000002) // VECTOR_E131_DATA_PACKET
	copy(buf[44:108], sacnSourceName)
	buf[108] = 100 // priority
	binary.BigEndian.PutUint16(buf[109:111], 0)
	buf[111] = seq
	buf[112] = 0 // options
	binary.BigEndian.PutUint16(buf[113:115], uint16(s.cfg.Universe))

	// DMP layer
	binary.BigEndian.PutUint16(buf[115:117], flagsAndLength(sacnPacketSize-115))
	buf[117] = 0x02 // VECTOR_DMP_SET_PROPERTY
	buf[118] = 0xA1 // address type & data type
	binary.BigEndian.PutUint16(buf[119:121], 0x0000) // first property address
	binary.BigEndian.PutUint16(buf[121:123], 0x0001) // address increment
	binary.BigEndian.PutUint16(buf[123:125], dmx.UniverseSize+1)
	buf[125] = 0x00 // DMX start code
	copy(buf[126:], u[:])

	return buf
}

func flagsAndLength(length int) uint16 {
	return 0x7000 | uint16(length&0x0FFF)
}
