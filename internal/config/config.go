// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"light-sequencer/internal/fixture"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing config
func (c *Config) applyDefaults() {
	if c.Server.HTTP == "" {
		c.Server.HTTP = ":8080"
	}
	if c.Engine.TickMs == 0 {
		c.Engine.TickMs = 1
	}
	if c.Engine.FrameRateHz == 0 {
		c.Engine.FrameRateHz = 44
	}
	if c.Engine.LayerIdleMs == 0 {
		c.Engine.LayerIdleMs = 2000
	}
	if c.Engine.InboxCapacity == 0 {
		c.Engine.InboxCapacity = 1024
	}
	if c.Transports.ArtNet != nil && c.Transports.ArtNet.Address == "" {
		c.Transports.ArtNet.Address = "255.255.255.255:6454"
	}
	if c.Transports.SACN != nil {
		if c.Transports.SACN.Universe == 0 {
			c.Transports.SACN.Universe = 1
		}
		if c.Transports.SACN.Address == "" {
			c.Transports.SACN.Address = fmt.Sprintf("239.255.0.%d:5568", c.Transports.SACN.Universe)
		}
	}
	if c.Transports.Enttec != nil && c.Transports.Enttec.Baud == 0 {
		c.Transports.Enttec.Baud = 57600
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Fixtures) == 0 {
		return fmt.Errorf("no fixtures defined")
	}
	if c.Engine.TickMs < 1 {
		return fmt.Errorf("engine tick_ms must be >= 1")
	}
	if c.Engine.FrameRateHz < 1 {
		return fmt.Errorf("engine frame_rate_hz must be >= 1")
	}

	usedChannels := make(map[int]string)
	seenIDs := make(map[string]string)

	for groupName, entries := range c.Fixtures {
		if !fixture.KnownGroup(fixture.Group(groupName)) {
			return fmt.Errorf("unknown fixture group %q", groupName)
		}
		if len(entries) == 0 {
			return fmt.Errorf("group %q has no fixtures", groupName)
		}

		for _, entry := range entries {
			if entry.ID == "" {
				return fmt.Errorf("group %q: fixture missing id", groupName)
			}
			if existing, ok := seenIDs[entry.ID]; ok {
				return fmt.Errorf("fixture id %q used by both %q and %q", entry.ID, existing, groupName)
			}
			seenIDs[entry.ID] = groupName

			channels := map[string]int{
				"red":       entry.Profile.Red,
				"green":     entry.Profile.Green,
				"blue":      entry.Profile.Blue,
				"intensity": entry.Profile.Intensity,
				"pan":       entry.Profile.Pan,
				"tilt":      entry.Profile.Tilt,
			}
			assigned := 0
			for name, ch := range channels {
				if ch == 0 {
					continue
				}
				assigned++
				if ch < 1 || ch > 512 {
					return fmt.Errorf("fixture %q: %s channel %d out of range (1-512)", entry.ID, name, ch)
				}
				if existing, ok := usedChannels[ch]; ok {
					return fmt.Errorf("channel %d used by both %q and %q", ch, existing, entry.ID)
				}
				usedChannels[ch] = entry.ID
			}
			if assigned == 0 {
				return fmt.Errorf("fixture %q has no channels assigned", entry.ID)
			}
		}
	}

	return nil
}

// ResolveFixtures returns all configured fixtures in registry form
func (c *Config) ResolveFixtures() []fixture.Fixture {
	var result []fixture.Fixture
	for groupName, entries := range c.Fixtures {
		for _, entry := range entries {
			result = append(result, fixture.Fixture{
				ID:       entry.ID,
				Position: entry.Position,
				Group:    fixture.Group(groupName),
				Profile:  entry.Profile,
			})
		}
	}
	return result
}

// BuildRegistry builds a fixture registry from the configuration
func (c *Config) BuildRegistry() *fixture.Registry {
	return fixture.NewRegistry(c.ResolveFixtures())
}
