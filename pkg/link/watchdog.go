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
	"context"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/jonboulle/clockwork"
)

// pendingAttempt is one run of the connect sequence. It is only touched by
// the controller's run loop.
type pendingAttempt struct {
	startedAt time.Time
	ctx       context.Context
	timeout   clockwork.Timer
	settle    clockwork.Timer
	cancel    context.CancelFunc
	serial    *models.SerialConfig
	result    chan error
	mode      models.LinkMode
	resolved  bool
}

// disarm stops this attempt's own timers and aborts any handshake step still
// in flight. Timers belonging to other attempts are never touched.
func (a *pendingAttempt) disarm() {
	if a.timeout != nil {
		a.timeout.Stop()
	}
	if a.settle != nil {
		a.settle.Stop()
	}
	a.cancel()
}

// resolve delivers the attempt's outcome to the waiting caller exactly once.
func (a *pendingAttempt) resolve(err error) {
	if a.resolved {
		return
	}
	a.resolved = true
	a.result <- err
}

// armWatchdog starts the single-shot timeout for an attempt. When it fires
// the timeout is routed through the run loop, which discards it if the
// attempt has already been resolved.
func (c *Controller) armWatchdog(att *pendingAttempt) {
	bound := c.opts.ConnectTimeout
	if att.mode == models.ModeSerial {
		bound = c.opts.SerialConnectTimeout
	}
	att.timeout = c.clock.AfterFunc(bound, func() {
		_ = c.post(context.Background(), watchdogFired{attempt: att, after: bound})
	})
}

// livenessMonitor tracks telemetry streaks for the current session. Empty
// samples are valid data, so a streak only produces warnings.
type livenessMonitor struct {
	lastSampleAt time.Time
	samples      uint64
	emptyStreak  int
	warnEvery    int
}

func newLivenessMonitor(warnEvery int) *livenessMonitor {
	return &livenessMonitor{warnEvery: warnEvery}
}

// observe records a sample and reports whether the empty streak just hit a
// warning threshold.
func (m *livenessMonitor) observe(sample models.TelemetrySample, at time.Time) bool {
	m.samples++
	m.lastSampleAt = at
	if !sample.Empty() {
		m.emptyStreak = 0
		return false
	}
	m.emptyStreak++
	return m.warnEvery > 0 && m.emptyStreak%m.warnEvery == 0
}

func (m *livenessMonitor) reset() {
	m.lastSampleAt = time.Time{}
	m.samples = 0
	m.emptyStreak = 0
}

func (m *livenessMonitor) health() models.Health {
	return models.Health{
		LastSampleAt: m.lastSampleAt,
		Samples:      m.samples,
		EmptyStreak:  m.emptyStreak,
	}
}
