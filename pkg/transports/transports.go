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

// Package transports defines the contract between the link controller and
// the services that own the actual sockets and serial ports.
package transports

import (
	"context"
	"errors"

	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
)

var (
	// ErrLinkLost is returned (wrapped) when an operation failed because the
	// underlying connection is gone, as opposed to the remote rejecting it.
	ErrLinkLost = errors.New("link lost")
	// ErrNotConnected is returned when an operation needs an active link.
	ErrNotConnected = errors.New("not connected")
	// ErrAttemptStopped is returned when a dial or serial bind completes
	// after StopConnection ended the attempt it belonged to.
	ErrAttemptStopped = errors.New("connection attempt stopped")
)

// RawDevice is a serial port as reported by the operating system.
type RawDevice struct {
	Path      string
	Name      string
	VendorID  string
	ProductID string
}

// Service is the transport collaborator driven by the link controller.
//
// StartConnection and StopConnection are idempotent. StopConnection is
// mode-agnostic: it tears down whatever is currently bound, including a
// half-finished serial handshake.
type Service interface {
	// State returns a synchronous snapshot of the transport's own view.
	State() models.ConnectionState
	// Subscribe registers a callback invoked on every transport transition.
	// Callbacks must not block.
	Subscribe(onChange func(models.ConnectionState)) (unsubscribe func())
	// StartConnection starts a link in the given mode. For serial this only
	// enters serial mode; ConnectSerialDevice binds the port.
	StartConnection(ctx context.Context, mode models.LinkMode) error
	StopConnection(ctx context.Context) error
	ConnectSerialDevice(ctx context.Context, id int, path string, baudRate int) (bool, error)
	// MavlinkData returns the latest telemetry sample. It is never nil while
	// connected but may be empty.
	MavlinkData(ctx context.Context) (models.TelemetrySample, error)
	SendGuidedCommand(ctx context.Context, name string) (string, error)
	SendSerialData(ctx context.Context, path string, data []byte) (string, error)
	SendTextCommand(ctx context.Context, text string) (string, error)
	SendMavlinkMessage(ctx context.Context, data []byte) (string, error)
	SerialDeviceInfo(ctx context.Context) ([]RawDevice, error)
	// OnSerialDataReceived replaces the data listener. Callbacks must not
	// block.
	OnSerialDataReceived(cb func(models.DataReceived))
	RemoveSerialDataListener()
	// Cleanup releases every resource held by the service. Always safe to
	// call, including more than once.
	Cleanup() error
}
