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

package link

import (
	"time"

	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
)

// Events handled by the run loop. Requests carry a reply channel with room
// for one value so the loop never blocks answering them.

type connectRequest struct {
	serial *linkmodels.SerialConfig
	reply  chan connectReply
	mode   linkmodels.LinkMode
}

type connectReply struct {
	attempt *pendingAttempt
	err     error
}

type disconnectRequest struct {
	done chan struct{}
}

type resetRequest struct {
	reply chan error
}

type selectModeRequest struct {
	reply chan error
	mode  linkmodels.LinkMode
}

type handshakeDone struct {
	attempt *pendingAttempt
	err     error
}

type settleElapsed struct {
	attempt *pendingAttempt
}

type watchdogFired struct {
	attempt *pendingAttempt
	after   time.Duration
}

type pollResult struct {
	run    *pollRun
	sample linkmodels.TelemetrySample
	err    error
}

// linkLost is raised by the dispatcher when a send failed because the link
// is gone. It only applies to the session it was observed in.
type linkLost struct {
	err     error
	session uint64
}

type transportChanged struct {
	state linkmodels.ConnectionState
}

type dataReceived struct {
	data linkmodels.DataReceived
}
