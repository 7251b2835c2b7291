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

	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// pollRun is one telemetry poller lifetime, from entering CONNECTED until
// the status leaves it.
type pollRun struct {
	ctx    context.Context
	ticker clockwork.Ticker
	cancel context.CancelFunc
}

// startPoller must only be called from the run loop. The ticker is created
// here rather than in the goroutine so the poller's cadence starts at the
// same instant the status became CONNECTED.
func (c *Controller) startPoller() {
	c.stopPoller()

	ctx, cancel := context.WithCancel(c.ctx)
	run := &pollRun{
		ctx:    ctx,
		cancel: cancel,
		ticker: c.clock.NewTicker(c.opts.PollInterval),
	}
	c.poll = run

	c.wg.Add(1)
	go c.pollLoop(run)
}

// stopPoller must only be called from the run loop. Results still in flight
// from the stopped run are discarded when they arrive.
func (c *Controller) stopPoller() {
	if c.poll == nil {
		return
	}
	c.poll.ticker.Stop()
	c.poll.cancel()
	c.poll = nil
}

func (c *Controller) pollLoop(run *pollRun) {
	defer c.wg.Done()

	for {
		select {
		case <-run.ctx.Done():
			return
		case <-run.ticker.Chan():
			if run.ctx.Err() != nil {
				return
			}

			sample, err := c.transport.MavlinkData(run.ctx)
			if run.ctx.Err() != nil {
				return
			}
			if err == nil && sample == nil {
				sample = models.TelemetrySample{}
			}

			if postErr := c.post(run.ctx, pollResult{run: run, sample: sample, err: err}); postErr != nil {
				return
			}

			// a failed fetch ends this run; the loop takes the link down
			if err != nil {
				log.Debug().Err(err).Msg("telemetry poller stopping after fetch error")
				return
			}
		}
	}
}
