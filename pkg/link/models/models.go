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

// Package models holds the value types shared by the link controller, the
// transport services it drives and the display layer consuming it.
package models

import (
	"strings"
	"time"
)

type LinkStatus string

const (
	StatusDisconnected LinkStatus = "disconnected"
	StatusConnecting   LinkStatus = "connecting"
	StatusConnected    LinkStatus = "connected"
	StatusError        LinkStatus = "error"
)

// Valid reports whether s is one of the four defined statuses.
func (s LinkStatus) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusError:
		return true
	default:
		return false
	}
}

type LinkMode string

const (
	ModeTCP    LinkMode = "tcp"
	ModeUDP    LinkMode = "udp"
	ModeSerial LinkMode = "serial"
)

// ParseLinkMode parses a mode name case-insensitively.
func ParseLinkMode(s string) (LinkMode, bool) {
	switch LinkMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTCP:
		return ModeTCP, true
	case ModeUDP:
		return ModeUDP, true
	case ModeSerial:
		return ModeSerial, true
	default:
		return "", false
	}
}

// ConnectionState is replaced as a whole on every transition. Mode is empty
// only in the initial disconnected state of a fresh session and Error is set
// only when Status is StatusError.
type ConnectionState struct {
	Status LinkStatus `json:"status"`
	Mode   LinkMode   `json:"mode,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Consistent checks the error-iff-ERROR invariant.
func (s ConnectionState) Consistent() bool {
	if !s.Status.Valid() {
		return false
	}
	return (s.Status == StatusError) == (s.Error != "")
}

// SerialDevice is one entry of a device scan. IDs are unique within a single
// scan only.
type SerialDevice struct {
	VendorID  string `json:"vendorId,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	ID        int    `json:"id"`
}

type SerialConfig struct {
	Device   SerialDevice `json:"device"`
	BaudRate int          `json:"baudRate"`
}

// TelemetrySample is an opaque keyed snapshot of the vehicle's latest data.
// A sample with no keys means connected but no upstream data yet.
type TelemetrySample map[string]any

func (t TelemetrySample) Empty() bool {
	return len(t) == 0
}

// Clone returns a shallow copy so published samples are never mutated.
func (t TelemetrySample) Clone() TelemetrySample {
	if t == nil {
		return nil
	}
	c := make(TelemetrySample, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// CommandResult is the normalized outcome of every outbound send.
type CommandResult struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// CommandOutcome is one entry in the ordered command log.
type CommandOutcome struct {
	At     time.Time     `json:"at"`
	Kind   string        `json:"kind"`
	Label  string        `json:"label"`
	ID     string        `json:"id"`
	Result CommandResult `json:"result"`
}

// DataReceived is raw, non-telemetry data pushed by a transport.
type DataReceived struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Data   []byte    `json:"data"`
}

// Health summarizes telemetry liveness for the current session.
type Health struct {
	LastSampleAt time.Time `json:"lastSampleAt,omitzero"`
	Samples      uint64    `json:"samples"`
	EmptyStreak  int       `json:"emptyStreak"`
}
