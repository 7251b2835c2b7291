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
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ZaparooProject/zaparoo-link/pkg/api/notifications"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type CommandKind string

const (
	// CommandGuided forwards a named symbolic command such as TAKEOFF.
	CommandGuided CommandKind = "guided"
	// CommandText sends the payload as a text command.
	CommandText CommandKind = "text"
	// CommandRaw sends the UTF-8 bytes of the payload.
	CommandRaw CommandKind = "raw"
	// CommandHex sends the bytes of a hex encoded payload.
	CommandHex CommandKind = "hex"
	// CommandHeartbeat sends a MAVLink heartbeat frame; payload is ignored.
	CommandHeartbeat CommandKind = "heartbeat"
)

func ParseCommandKind(s string) (CommandKind, bool) {
	switch k := CommandKind(s); k {
	case CommandGuided, CommandText, CommandRaw, CommandHex, CommandHeartbeat:
		return k, true
	default:
		return "", false
	}
}

type Command struct {
	Kind    CommandKind
	Payload string
}

type sendFunc func(ctx context.Context) (string, error)

// SendCommand dispatches one command. Commands are serialized; the link
// status is checked right before the send rather than when the caller
// decided to send. The returned result is always populated, and err is
// non-nil exactly when the result is unsuccessful.
func (c *Controller) SendCommand(ctx context.Context, cmd Command) (linkmodels.CommandResult, error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	label := commandLabel(cmd)
	result, err := c.dispatch(ctx, cmd)
	c.recordOutcome(cmd.Kind, label, result)

	if err != nil {
		log.Warn().Err(err).Str("kind", string(cmd.Kind)).Str("command", label).Msg("command failed")
	} else {
		log.Info().Str("kind", string(cmd.Kind)).Str("command", label).Msg("command sent")
	}
	return result, err
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) (linkmodels.CommandResult, error) {
	data, err := c.encode(cmd)
	if err != nil {
		return failedResult(err), err
	}

	c.mu.RLock()
	state := c.view.state
	session := c.view.session
	serialPath := c.view.serialPath
	c.mu.RUnlock()
	if state.Status != linkmodels.StatusConnected {
		err := fmt.Errorf("%w: link is %s: %w", ErrInvalidConfiguration, state.Status, transports.ErrNotConnected)
		return failedResult(err), err
	}

	send := c.route(cmd, data, state.Mode, serialPath)
	if cmd.Kind == CommandHeartbeat {
		c.heartbeatSeq++
	}

	result, sendErr := safeOperation(func() (string, error) { return send(ctx) })
	if sendErr != nil && isLinkLoss(sendErr) {
		log.Warn().Err(sendErr).Msg("command failure indicates link loss")
		if postErr := c.post(context.Background(), linkLost{session: session, err: sendErr}); postErr != nil {
			log.Debug().Err(postErr).Msg("could not report link loss")
		}
	}
	return result, sendErr
}

// encode validates the payload and converts byte payloads. Errors here are
// local and never reach the transport.
func (c *Controller) encode(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CommandGuided:
		if cmd.Payload == "" {
			return nil, fmt.Errorf("%w: guided command needs a name", ErrMalformedInput)
		}
		return nil, nil
	case CommandText, CommandRaw:
		return TextBytes(cmd.Payload)
	case CommandHex:
		return DecodeHex(cmd.Payload)
	case CommandHeartbeat:
		return HeartbeatFrame(c.heartbeatSeq, c.opts.HeartbeatSystemID, c.opts.HeartbeatComponentID), nil
	default:
		return nil, fmt.Errorf("%w: unknown command kind %q", ErrInvalidConfiguration, cmd.Kind)
	}
}

// route picks the transport call for an encoded command. Byte payloads go
// to the bound serial port in serial mode and out as a raw message on
// network links.
func (c *Controller) route(
	cmd Command,
	data []byte,
	mode linkmodels.LinkMode,
	serialPath string,
) sendFunc {
	switch cmd.Kind {
	case CommandGuided:
		return func(ctx context.Context) (string, error) {
			return c.transport.SendGuidedCommand(ctx, cmd.Payload)
		}
	case CommandText:
		return func(ctx context.Context) (string, error) {
			return c.transport.SendTextCommand(ctx, cmd.Payload)
		}
	case CommandHeartbeat:
		return func(ctx context.Context) (string, error) {
			return c.transport.SendMavlinkMessage(ctx, data)
		}
	default:
		if mode == linkmodels.ModeSerial && serialPath != "" {
			return func(ctx context.Context) (string, error) {
				return c.transport.SendSerialData(ctx, serialPath, data)
			}
		}
		return func(ctx context.Context) (string, error) {
			return c.transport.SendMavlinkMessage(ctx, data)
		}
	}
}

// safeOperation runs a send and normalizes every way it can fail, panics
// included, into a CommandResult.
func safeOperation(op func() (string, error)) (result linkmodels.CommandResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: send panicked: %v", ErrTransportError, r)
			result = failedResult(err)
		}
	}()

	data, opErr := op()
	if opErr != nil {
		err = fmt.Errorf("%w: %w", ErrTransportError, opErr)
		return failedResult(err), err
	}

	result = linkmodels.CommandResult{Success: true}
	if data != "" {
		result.Data = data
	}
	return result, nil
}

func failedResult(err error) linkmodels.CommandResult {
	return linkmodels.CommandResult{Success: false, Error: err.Error()}
}

// isLinkLoss tells a broken connection apart from a command the vehicle
// simply rejected.
func isLinkLoss(err error) bool {
	return errors.Is(err, transports.ErrLinkLost) ||
		errors.Is(err, transports.ErrNotConnected) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}

func commandLabel(cmd Command) string {
	const maxLabel = 64
	if cmd.Kind == CommandHeartbeat {
		return "HEARTBEAT"
	}
	label := cmd.Payload
	if len(label) > maxLabel {
		label = label[:maxLabel] + "…"
	}
	return label
}

func (c *Controller) recordOutcome(kind CommandKind, label string, result linkmodels.CommandResult) {
	outcome := linkmodels.CommandOutcome{
		ID:     uuid.New().String(),
		At:     c.clock.Now(),
		Kind:   string(kind),
		Label:  label,
		Result: result,
	}

	c.mu.Lock()
	c.view.outcomes = append(c.view.outcomes, outcome)
	if over := len(c.view.outcomes) - maxOutcomes; over > 0 {
		c.view.outcomes = append([]linkmodels.CommandOutcome(nil), c.view.outcomes[over:]...)
	}
	c.mu.Unlock()

	notifications.CommandCompleted(c.opts.Notifications, outcome)
}
