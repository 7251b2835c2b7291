// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTCPAddress = "127.0.0.1:5760"
	DefaultUDPAddress = "127.0.0.1:14550"
	DefaultBaudRate   = 57600
)

type Link struct {
	DefaultMode          string `toml:"default_mode,omitempty"`
	TCPAddress           string `toml:"tcp_address,omitempty"`
	UDPAddress           string `toml:"udp_address,omitempty"`
	SettleDelay          string `toml:"settle_delay,omitempty"`
	ConnectTimeout       string `toml:"connect_timeout,omitempty"`
	SerialConnectTimeout string `toml:"serial_connect_timeout,omitempty"`
	PollInterval         string `toml:"poll_interval,omitempty"`
	TeardownTimeout      string `toml:"teardown_timeout,omitempty"`
	AckTimeout           string `toml:"ack_timeout,omitempty"`
	EmptyStreakWarn      int    `toml:"empty_streak_warn,omitempty"`
}

type Serial struct {
	FallbackPaths   []string `toml:"fallback_paths,omitempty,multiline"`
	DefaultBaudRate int      `toml:"default_baud_rate,omitempty"`
}

type Heartbeat struct {
	SystemID    int `toml:"system_id,omitempty"`
	ComponentID int `toml:"component_id,omitempty"`
}

// parseDuration returns 0 for empty or invalid values so callers fall back
// to their own defaults.
func parseDuration(key, s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		log.Warn().Str("key", key).Str("value", s).Msg("invalid duration in config, using default")
		return 0
	}
	return d
}

func byteID(key string, v int) byte {
	if v < 0 || v > 255 {
		log.Warn().Str("key", key).Int("value", v).Msg("id out of range in config, using default")
		return 0
	}
	return byte(v)
}

func (c *Instance) DefaultMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Link.DefaultMode
}

func (c *Instance) TCPAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Link.TCPAddress == "" {
		return DefaultTCPAddress
	}
	return c.vals.Link.TCPAddress
}

func (c *Instance) UDPAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Link.UDPAddress == "" {
		return DefaultUDPAddress
	}
	return c.vals.Link.UDPAddress
}

func (c *Instance) SettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.settle_delay", c.vals.Link.SettleDelay)
}

func (c *Instance) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.connect_timeout", c.vals.Link.ConnectTimeout)
}

func (c *Instance) SerialConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.serial_connect_timeout", c.vals.Link.SerialConnectTimeout)
}

func (c *Instance) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.poll_interval", c.vals.Link.PollInterval)
}

func (c *Instance) TeardownTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.teardown_timeout", c.vals.Link.TeardownTimeout)
}

func (c *Instance) AckTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration("link.ack_timeout", c.vals.Link.AckTimeout)
}

func (c *Instance) EmptyStreakWarn() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Link.EmptyStreakWarn < 0 {
		return 0
	}
	return c.vals.Link.EmptyStreakWarn
}

func (c *Instance) DefaultBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.DefaultBaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.vals.Serial.DefaultBaudRate
}

// FallbackSerialPaths returns the configured fallback paths, or nil to use
// the platform defaults.
func (c *Instance) FallbackSerialPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.Serial.FallbackPaths) == 0 {
		return nil
	}
	return append([]string(nil), c.vals.Serial.FallbackPaths...)
}

func (c *Instance) HeartbeatIDs() (systemID, componentID byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return byteID("heartbeat.system_id", c.vals.Heartbeat.SystemID),
		byteID("heartbeat.component_id", c.vals.Heartbeat.ComponentID)
}
