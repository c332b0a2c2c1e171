// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import "light-sequencer/internal/fixture"

// Config is the root configuration structure
// Fixtures are organized as: group -> ordered list of fixture entries
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Engine     EngineConfig              `yaml:"engine"`
	Transports TransportsConfig          `yaml:"transports"`
	MQTT       *MQTTConfig               `yaml:"mqtt,omitempty"`
	Modbus     *ModbusConfig             `yaml:"modbus,omitempty"`
	Fixtures   map[string][]FixtureEntry `yaml:"fixtures"` // group -> entries
}

// ServerConfig defines server endpoints
type ServerConfig struct {
	HTTP string `yaml:"http"`
}

// EngineConfig defines sequencer timing settings
type EngineConfig struct {
	TickMs        int `yaml:"tick_ms"`        // clock cadence, default 1
	FrameRateHz   int `yaml:"frame_rate_hz"`  // DMX output rate, default 44
	LayerIdleMs   int `yaml:"layer_idle_ms"`  // idle threshold before layer teardown, default 2000
	InboxCapacity int `yaml:"inbox_capacity"` // pending external mutations, default 1024
}

// TransportsConfig enables DMX output backends by presence
type TransportsConfig struct {
	ArtNet *ArtNetConfig `yaml:"artnet,omitempty"`
	SACN   *SACNConfig   `yaml:"sacn,omitempty"`
	Enttec *EnttecConfig `yaml:"enttec,omitempty"`
}

// ArtNetConfig defines the Art-Net UDP backend
type ArtNetConfig struct {
	Address  string `yaml:"address"`  // host:port, defaults to broadcast :6454
	Universe int    `yaml:"universe"` // default 0
}

// SACNConfig defines the sACN (E1.31) UDP backend
type SACNConfig struct {
	Address  string `yaml:"address"`  // host:port, defaults to universe multicast
	Universe int    `yaml:"universe"` // default 1
}

// EnttecConfig defines the Enttec USB DMX Pro serial backend
type EnttecConfig struct {
	Device string `yaml:"device"` // e.g. /dev/ttyUSB0
	Baud   int    `yaml:"baud"`   // default 57600
}

// MQTTConfig defines MQTT client settings
// Presence of this section enables MQTT
type MQTTConfig struct {
	Broker      string `yaml:"broker"`       // tcp://host:1883
	ClientID    string `yaml:"client_id"`    // optional
	Username    string `yaml:"username"`     // optional
	Password    string `yaml:"password"`     // optional
	TopicPrefix string `yaml:"topic_prefix"` // defaults to "lights"
}

// ModbusConfig defines Modbus TCP server settings
// Presence of this section enables Modbus
type ModbusConfig struct {
	Port string `yaml:"port"` // ":502" or ":5020"
}

// FixtureEntry is one configured lamp within a group
type FixtureEntry struct {
	ID       string          `yaml:"id"`
	Position int             `yaml:"position"`
	Profile  fixture.Profile `yaml:"profile"`
}
