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

package notifications

import (
	"encoding/json"

	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/rs/zerolog/log"
)

// sendNotification marshals the payload and sends without blocking. A full
// or missing channel drops the notification with a warning.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	if ns == nil {
		return
	}

	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("error marshalling notification params")
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
	}
}

func LinkStateChanged(ns chan<- models.Notification, state linkmodels.ConnectionState) {
	sendNotification(ns, models.NotificationLinkState, state)
}

func TelemetryUpdated(ns chan<- models.Notification, sample linkmodels.TelemetrySample) {
	sendNotification(ns, models.NotificationLinkTelemetry, sample)
}

func CommandCompleted(ns chan<- models.Notification, outcome linkmodels.CommandOutcome) {
	sendNotification(ns, models.NotificationLinkCommand, outcome)
}

func DataReceived(ns chan<- models.Notification, data linkmodels.DataReceived) {
	sendNotification(ns, models.NotificationLinkData, data)
}

func LivenessWarning(ns chan<- models.Notification, health linkmodels.Health) {
	sendNotification(ns, models.NotificationLinkLiveness, health)
}

func SerialDevicesScanned(ns chan<- models.Notification, devices []linkmodels.SerialDevice) {
	sendNotification(ns, models.NotificationSerialDevices, devices)
}

func SerialDeviceSelected(ns chan<- models.Notification, device linkmodels.SerialDevice) {
	sendNotification(ns, models.NotificationSerialSelected, device)
}
