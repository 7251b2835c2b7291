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

// ConnectParams starts a connection attempt. Mode defaults to the currently
// selected mode. DeviceID and BaudRate resolve a serial config first when
// present.
type ConnectParams struct {
	Mode     string `json:"mode,omitempty"     validate:"linkmode"`
	BaudRate string `json:"baudRate,omitempty" validate:"baudrate"`
	DeviceID int    `json:"deviceId,omitempty" validate:"omitempty,gt=0"`
}

type ModeParams struct {
	Mode string `json:"mode" validate:"required,linkmode"`
}

type CommandParams struct {
	Kind    string `json:"kind"    validate:"required,cmdkind"`
	Payload string `json:"payload" validate:"required_unless=Kind heartbeat,max=4096"`
}

type SelectSerialParams struct {
	BaudRate string `json:"baudRate,omitempty" validate:"baudrate"`
	DeviceID int    `json:"deviceId"           validate:"required,gt=0"`
}
