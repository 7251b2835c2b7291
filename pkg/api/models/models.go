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

package models

import "encoding/json"

const (
	NotificationLinkState      = "link.state"
	NotificationLinkTelemetry  = "link.telemetry"
	NotificationLinkCommand    = "link.command"
	NotificationLinkData       = "link.data"
	NotificationLinkLiveness   = "link.liveness"
	NotificationSerialDevices  = "serial.devices"
	NotificationSerialSelected = "serial.selected"
)

// Notification is an event pushed to display clients. Params is already
// encoded so fan-out never re-marshals.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
