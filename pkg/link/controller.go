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

// Package link implements the telemetry link lifecycle controller: the state
// machine that connects to a vehicle through a transport service, watches
// the attempt with a watchdog, polls telemetry while connected and
// serializes outbound commands.
//
// All transitions are applied by a single run loop goroutine. Public methods
// post requests to that loop, and anything that can block (handshake steps,
// telemetry fetches) runs in its own goroutine and posts its result back, so
// results that arrive after the controller moved on are recognised as stale
// and dropped.
package link

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/api/notifications"
	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSettleDelay          = 1 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultSerialConnectTimeout = 20 * time.Second
	DefaultPollInterval         = 1 * time.Second
	DefaultTeardownTimeout      = 5 * time.Second
	DefaultEmptyStreakWarn      = 10
	DefaultHeartbeatSystemID    = 255
	DefaultHeartbeatComponentID = 190

	maxOutcomes = 100
	maxReceived = 100
	inboxSize   = 256
)

// DefaultFallbackSerialPaths returns the conventional serial device paths
// for the running OS, in a fixed order.
func DefaultFallbackSerialPaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM1", "COM2", "COM3", "COM4"}
	case "darwin":
		return []string{
			"/dev/tty.usbserial-0001",
			"/dev/tty.usbmodem1",
			"/dev/tty.usbserial-1",
			"/dev/tty.usbmodem2",
		}
	default:
		return []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyACM1"}
	}
}

// Options configures a Controller. Zero values are replaced with defaults.
type Options struct {
	Clock                clockwork.Clock
	Notifications        chan<- models.Notification
	FallbackSerialPaths  []string
	SettleDelay          time.Duration
	ConnectTimeout       time.Duration
	SerialConnectTimeout time.Duration
	PollInterval         time.Duration
	TeardownTimeout      time.Duration
	EmptyStreakWarn      int
	HeartbeatSystemID    byte
	HeartbeatComponentID byte
}

func (o *Options) applyDefaults() {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SerialConnectTimeout <= 0 {
		o.SerialConnectTimeout = DefaultSerialConnectTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}
	if o.EmptyStreakWarn == 0 {
		o.EmptyStreakWarn = DefaultEmptyStreakWarn
	}
	if o.HeartbeatSystemID == 0 {
		o.HeartbeatSystemID = DefaultHeartbeatSystemID
	}
	if o.HeartbeatComponentID == 0 {
		o.HeartbeatComponentID = DefaultHeartbeatComponentID
	}
	if len(o.FallbackSerialPaths) == 0 {
		o.FallbackSerialPaths = DefaultFallbackSerialPaths()
	}
}

// view is the snapshot read by everything outside the run loop.
type view struct {
	sample       linkmodels.TelemetrySample
	state        linkmodels.ConnectionState
	selectedMode linkmodels.LinkMode
	serialPath   string
	outcomes     []linkmodels.CommandOutcome
	received     []linkmodels.DataReceived
	health       linkmodels.Health
	session      uint64
	hasSample    bool
}

// Controller owns the link state machine. Create it with New and release it
// with Close.
type Controller struct {
	transport   transports.Service
	clock       clockwork.Clock
	ctx         context.Context
	events      chan any
	inbox       chan any
	cancel      context.CancelFunc
	unsubscribe func()
	resolver    *SerialResolver

	// owned by the run loop
	attempt      *pendingAttempt
	poll         *pollRun
	liveness     *livenessMonitor
	state        linkmodels.ConnectionState
	selectedMode linkmodels.LinkMode
	serialPath   string
	session      uint64

	opts      Options
	view      view
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        syncutil.RWMutex // protects view

	dispatchMu   syncutil.Mutex // serializes SendCommand
	heartbeatSeq byte
}

// New creates a controller driving transport and starts its run loop.
func New(transport transports.Service, opts Options) *Controller {
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		transport: transport,
		clock:     opts.Clock,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan any),
		inbox:     make(chan any, inboxSize),
		resolver:  NewSerialResolver(transport, opts.FallbackSerialPaths),
		liveness:  newLivenessMonitor(opts.EmptyStreakWarn),
		state:     linkmodels.ConnectionState{Status: linkmodels.StatusDisconnected},
	}
	c.view.state = c.state

	c.unsubscribe = transport.Subscribe(func(s linkmodels.ConnectionState) {
		c.enqueue(transportChanged{state: s})
	})
	transport.OnSerialDataReceived(func(d linkmodels.DataReceived) {
		c.enqueue(dataReceived{data: d})
	})

	c.wg.Add(1)
	go c.run()

	return c
}

// Close disconnects, releases the transport and waits for every goroutine
// owned by the controller to exit. It is safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.TeardownTimeout)
		defer cancel()
		if dErr := c.Disconnect(ctx); dErr != nil {
			log.Warn().Err(dErr).Msg("error disconnecting link during close")
		}

		c.cancel()
		c.wg.Wait()

		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.transport.RemoveSerialDataListener()
		if cErr := c.transport.Cleanup(); cErr != nil {
			err = fmt.Errorf("failed to clean up transport: %w", cErr)
		}
		log.Info().Msg("link controller closed")
	})
	return err
}

// Connect runs one connection attempt and blocks until it resolves. A nil
// error means the link reached CONNECTED. Cancelling ctx stops the wait but
// not the attempt; the watchdog still bounds it.
func (c *Controller) Connect(
	ctx context.Context,
	mode linkmodels.LinkMode,
	serial *linkmodels.SerialConfig,
) error {
	req := connectRequest{mode: mode, reply: make(chan connectReply, 1)}
	if serial != nil {
		cfg := *serial
		req.serial = &cfg
	}
	if err := c.post(ctx, req); err != nil {
		return err
	}

	var rep connectReply
	select {
	case rep = <-req.reply:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connect: %w", ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
	if rep.err != nil {
		return rep.err
	}

	select {
	case err := <-rep.attempt.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for connect: %w", ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// ConnectSelected connects in the selected mode, using the resolver's
// current config for serial.
func (c *Controller) ConnectSelected(ctx context.Context) error {
	mode := c.Mode()
	if mode == "" {
		return fmt.Errorf("%w: no link mode selected", ErrInvalidConfiguration)
	}
	var serial *linkmodels.SerialConfig
	if mode == linkmodels.ModeSerial {
		serial = c.resolver.Config()
	}
	return c.Connect(ctx, mode, serial)
}

// Disconnect is allowed in every state. It cancels a pending attempt, stops
// the poller, tears the transport down and leaves the link DISCONNECTED.
func (c *Controller) Disconnect(ctx context.Context) error {
	req := disconnectRequest{done: make(chan struct{})}
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for disconnect: %w", ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Reset clears an ERROR back to DISCONNECTED.
func (c *Controller) Reset(ctx context.Context) error {
	req := resetRequest{reply: make(chan error, 1)}
	return c.request(ctx, req, req.reply)
}

// SelectMode chooses the mode used by ConnectSelected. Only allowed while
// DISCONNECTED.
func (c *Controller) SelectMode(ctx context.Context, mode linkmodels.LinkMode) error {
	req := selectModeRequest{mode: mode, reply: make(chan error, 1)}
	return c.request(ctx, req, req.reply)
}

func (c *Controller) request(ctx context.Context, req any, reply <-chan error) error {
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// State returns the current connection state.
func (c *Controller) State() linkmodels.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.state
}

// Mode returns the selected link mode, which may be empty.
func (c *Controller) Mode() linkmodels.LinkMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.selectedMode
}

// Telemetry returns the latest sample. ok is false when there is no data.
func (c *Controller) Telemetry() (sample linkmodels.TelemetrySample, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.view.hasSample {
		return nil, false
	}
	return c.view.sample.Clone(), true
}

func (c *Controller) Health() linkmodels.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.health
}

// Outcomes returns the command outcome log, oldest first.
func (c *Controller) Outcomes() []linkmodels.CommandOutcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]linkmodels.CommandOutcome(nil), c.view.outcomes...)
}

// ReceivedData returns recent raw data pushed by the transport, oldest first.
func (c *Controller) ReceivedData() []linkmodels.DataReceived {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]linkmodels.DataReceived(nil), c.view.received...)
}

// SerialConfig returns the resolved serial config when the selected mode is
// serial.
func (c *Controller) SerialConfig() *linkmodels.SerialConfig {
	if c.Mode() != linkmodels.ModeSerial {
		return nil
	}
	return c.resolver.Config()
}

func (c *Controller) Resolver() *SerialResolver {
	return c.resolver
}

// ScanDevices rescans serial devices and notifies display clients.
func (c *Controller) ScanDevices(ctx context.Context) []linkmodels.SerialDevice {
	devices := c.resolver.Scan(ctx)
	notifications.SerialDevicesScanned(c.opts.Notifications, devices)
	if d, ok := c.resolver.Selected(); ok {
		notifications.SerialDeviceSelected(c.opts.Notifications, d)
	}
	return devices
}

// post hands an event to the run loop, blocking until it is accepted.
func (c *Controller) post(ctx context.Context, ev any) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("posting link event: %w", ctx.Err())
	}
}

// enqueue is used by transport callbacks, which must never block: the loop
// itself calls into the transport and the transport may be waiting on the
// goroutine running the callback.
func (c *Controller) enqueue(ev any) {
	select {
	case c.inbox <- ev:
	default:
		log.Warn().Msgf("link inbox full, dropping %T", ev)
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	log.Debug().Msg("link controller run loop started")

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			log.Debug().Msg("link controller run loop stopped")
			return
		case ev := <-c.events:
			c.handle(ev)
		case ev := <-c.inbox:
			c.handle(ev)
		}
	}
}

func (c *Controller) shutdown() {
	if att := c.attempt; att != nil {
		c.attempt = nil
		att.disarm()
		att.resolve(ErrClosed)
	}
	c.stopPoller()
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case connectRequest:
		c.handleConnect(e)
	case disconnectRequest:
		c.handleDisconnect(e)
	case resetRequest:
		c.handleReset(e)
	case selectModeRequest:
		c.handleSelectMode(e)
	case handshakeDone:
		c.handleHandshakeDone(e)
	case settleElapsed:
		c.handleSettleElapsed(e)
	case watchdogFired:
		c.handleWatchdogFired(e)
	case pollResult:
		c.handlePollResult(e)
	case linkLost:
		c.handleLinkLost(e)
	case transportChanged:
		c.handleTransportChanged(e)
	case dataReceived:
		c.handleDataReceived(e)
	default:
		log.Error().Msgf("unknown link event: %T", ev)
	}
}

func (c *Controller) handleConnect(req connectRequest) {
	status := c.state.Status
	if status != linkmodels.StatusDisconnected && status != linkmodels.StatusError {
		req.reply <- connectReply{
			err: fmt.Errorf("%w: cannot connect while %s", ErrInvalidConfiguration, status),
		}
		return
	}
	if _, ok := linkmodels.ParseLinkMode(string(req.mode)); !ok {
		req.reply <- connectReply{
			err: fmt.Errorf("%w: unknown link mode %q", ErrInvalidConfiguration, req.mode),
		}
		return
	}
	if req.mode == linkmodels.ModeSerial {
		if err := validateSerialConfig(req.serial); err != nil {
			req.reply <- connectReply{err: err}
			return
		}
	}

	ctx, cancel := context.WithCancel(c.ctx)
	att := &pendingAttempt{
		mode:      req.mode,
		serial:    req.serial,
		startedAt: c.clock.Now(),
		ctx:       ctx,
		cancel:    cancel,
		result:    make(chan error, 1),
	}
	c.attempt = att
	c.armWatchdog(att)

	c.selectedMode = req.mode
	c.serialPath = ""
	if req.serial != nil {
		c.serialPath = req.serial.Device.Path
	}
	c.setState(linkmodels.ConnectionState{
		Status: linkmodels.StatusConnecting,
		Mode:   req.mode,
	})

	c.wg.Add(1)
	go c.handshake(att)

	req.reply <- connectReply{attempt: att}
}

func validateSerialConfig(cfg *linkmodels.SerialConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: no serial device selected", ErrInvalidConfiguration)
	}
	if cfg.Device.Path == "" {
		return fmt.Errorf("%w: serial device has no path", ErrInvalidConfiguration)
	}
	if cfg.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfiguration, cfg.BaudRate)
	}
	return nil
}

// handshake runs the transport steps for an attempt outside the run loop.
func (c *Controller) handshake(att *pendingAttempt) {
	defer c.wg.Done()
	err := c.runHandshake(att)
	_ = c.post(context.Background(), handshakeDone{attempt: att, err: err})
}

func (c *Controller) runHandshake(att *pendingAttempt) error {
	log.Info().Str("mode", string(att.mode)).Msg("starting link handshake")

	if err := c.transport.StartConnection(att.ctx, att.mode); err != nil {
		return fmt.Errorf("%w: could not start %s connection: %w", ErrHandshakeFailure, att.mode, err)
	}
	if att.mode != linkmodels.ModeSerial {
		return nil
	}

	if err := att.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAttemptCancelled, err)
	}

	dev := att.serial.Device
	ok, err := c.transport.ConnectSerialDevice(att.ctx, dev.ID, dev.Path, att.serial.BaudRate)
	if err != nil {
		return fmt.Errorf("%w: could not bind serial device %s: %w", ErrHandshakeFailure, dev.Path, err)
	}
	if !ok {
		return fmt.Errorf(
			"%w: serial device %s rejected binding at %d baud",
			ErrHandshakeFailure, dev.Path, att.serial.BaudRate,
		)
	}
	return nil
}

func (c *Controller) handleHandshakeDone(ev handshakeDone) {
	att := ev.attempt
	if c.attempt != att {
		log.Debug().Err(ev.err).Msg("ignoring handshake result for a resolved attempt")
		return
	}
	if ev.err != nil {
		c.fail(ev.err)
		return
	}

	log.Debug().Dur("settle", c.opts.SettleDelay).Msg("handshake complete, waiting to verify link")
	att.settle = c.clock.AfterFunc(c.opts.SettleDelay, func() {
		_ = c.post(context.Background(), settleElapsed{attempt: att})
	})
}

// handleSettleElapsed verifies the transport really is connected once the
// handshake has had time to settle. A disconnect that happened in between
// has already replaced the attempt, so the check is dropped.
func (c *Controller) handleSettleElapsed(ev settleElapsed) {
	att := ev.attempt
	if c.attempt != att || c.state.Status != linkmodels.StatusConnecting {
		log.Debug().Msg("ignoring settle check for a resolved attempt")
		return
	}

	ts := c.transport.State()
	if ts.Status != linkmodels.StatusConnected {
		c.fail(fmt.Errorf(
			"%w: transport reports %s after handshake",
			ErrVerificationFailure, ts.Status,
		))
		return
	}

	c.attempt = nil
	att.disarm()
	c.session++
	c.liveness.reset()
	c.setState(linkmodels.ConnectionState{
		Status: linkmodels.StatusConnected,
		Mode:   att.mode,
	})
	c.startPoller()

	log.Info().
		Str("mode", string(att.mode)).
		Dur("elapsed", c.clock.Since(att.startedAt)).
		Msg("link connected")
	att.resolve(nil)
}

func (c *Controller) handleWatchdogFired(ev watchdogFired) {
	if c.attempt != ev.attempt {
		log.Debug().Msg("ignoring watchdog for a resolved attempt")
		return
	}
	log.Warn().Dur("after", ev.after).Str("mode", string(ev.attempt.mode)).Msg("link watchdog fired")
	c.fail(fmt.Errorf("%w after %s", ErrTimeout, ev.after))
}

func (c *Controller) handlePollResult(ev pollResult) {
	if c.poll != ev.run || c.state.Status != linkmodels.StatusConnected {
		log.Debug().Msg("discarding telemetry from a stopped poller")
		return
	}
	if ev.err != nil {
		c.fail(fmt.Errorf("%w: telemetry fetch failed: %w", ErrTransportError, ev.err))
		return
	}

	now := c.clock.Now()
	warn := c.liveness.observe(ev.sample, now)
	health := c.liveness.health()
	if ev.sample.Empty() {
		log.Debug().Int("streak", health.EmptyStreak).Msg("telemetry sample is empty")
	}

	sample := ev.sample.Clone()
	c.mu.Lock()
	c.view.sample = sample
	c.view.hasSample = true
	c.view.health = health
	c.mu.Unlock()

	notifications.TelemetryUpdated(c.opts.Notifications, sample)
	if warn {
		log.Warn().Int("streak", health.EmptyStreak).Msg("link connected but no telemetry data received")
		notifications.LivenessWarning(c.opts.Notifications, health)
	}
}

func (c *Controller) handleLinkLost(ev linkLost) {
	if c.state.Status != linkmodels.StatusConnected || ev.session != c.session {
		log.Debug().Err(ev.err).Msg("ignoring link loss from a previous session")
		return
	}
	c.fail(fmt.Errorf("%w: %w", ErrTransportError, ev.err))
}

// handleTransportChanged reacts to the transport's own transitions. Events
// can be stale by the time they are handled, so the transport's current
// state is re-read before acting on one.
func (c *Controller) handleTransportChanged(ev transportChanged) {
	switch c.state.Status {
	case linkmodels.StatusConnected:
		if ev.state.Status != linkmodels.StatusDisconnected && ev.state.Status != linkmodels.StatusError {
			return
		}
		current := c.transport.State()
		if current.Status == linkmodels.StatusConnected || current.Status == linkmodels.StatusConnecting {
			return
		}
		c.fail(fmt.Errorf("%w: link lost: %s", ErrTransportError, describeTransportState(current)))
	case linkmodels.StatusConnecting:
		if ev.state.Status != linkmodels.StatusError || c.attempt == nil {
			return
		}
		current := c.transport.State()
		if current.Status != linkmodels.StatusError {
			return
		}
		c.fail(fmt.Errorf("%w: %s", ErrHandshakeFailure, describeTransportState(current)))
	case linkmodels.StatusDisconnected, linkmodels.StatusError:
	}
}

func describeTransportState(s linkmodels.ConnectionState) string {
	if s.Error != "" {
		return s.Error
	}
	return "transport is " + string(s.Status)
}

func (c *Controller) handleDataReceived(ev dataReceived) {
	c.mu.Lock()
	c.view.received = append(c.view.received, ev.data)
	if over := len(c.view.received) - maxReceived; over > 0 {
		c.view.received = append([]linkmodels.DataReceived(nil), c.view.received[over:]...)
	}
	c.mu.Unlock()
	notifications.DataReceived(c.opts.Notifications, ev.data)
}

func (c *Controller) handleDisconnect(req disconnectRequest) {
	defer close(req.done)

	if att := c.attempt; att != nil {
		c.attempt = nil
		att.disarm()
		att.resolve(fmt.Errorf("%w: disconnected", ErrAttemptCancelled))
	}
	c.stopPoller()
	c.teardown()
	c.liveness.reset()
	c.clearSample()

	c.setState(linkmodels.ConnectionState{
		Status: linkmodels.StatusDisconnected,
		Mode:   c.state.Mode,
	})
}

func (c *Controller) handleReset(req resetRequest) {
	if c.state.Status != linkmodels.StatusError {
		req.reply <- fmt.Errorf("%w: reset is only valid from error, link is %s",
			ErrInvalidConfiguration, c.state.Status)
		return
	}
	c.setState(linkmodels.ConnectionState{
		Status: linkmodels.StatusDisconnected,
		Mode:   c.state.Mode,
	})
	req.reply <- nil
}

func (c *Controller) handleSelectMode(req selectModeRequest) {
	if _, ok := linkmodels.ParseLinkMode(string(req.mode)); !ok {
		req.reply <- fmt.Errorf("%w: unknown link mode %q", ErrInvalidConfiguration, req.mode)
		return
	}
	if c.state.Status != linkmodels.StatusDisconnected {
		req.reply <- fmt.Errorf("%w: mode can only change while disconnected, link is %s",
			ErrInvalidConfiguration, c.state.Status)
		return
	}
	c.selectedMode = req.mode
	c.mu.Lock()
	c.view.selectedMode = req.mode
	c.mu.Unlock()
	log.Info().Str("mode", string(req.mode)).Msg("link mode selected")
	req.reply <- nil
}

// fail is the single failure path for attempts and sessions. It must only
// be called for events already confirmed to belong to the current attempt
// or session.
func (c *Controller) fail(cause error) {
	att := c.attempt
	if att != nil {
		c.attempt = nil
		att.disarm()
	}
	c.stopPoller()
	c.teardown()
	c.liveness.reset()
	c.clearSample()

	msg := cause.Error()
	if msg == "" {
		msg = "unknown link failure"
	}
	log.Error().Err(cause).Str("mode", string(c.state.Mode)).Msg("link failed")
	c.setState(linkmodels.ConnectionState{
		Status: linkmodels.StatusError,
		Mode:   c.state.Mode,
		Error:  msg,
	})

	if att != nil {
		att.resolve(cause)
	}
}

// teardown stops the transport. Errors are logged and swallowed so that a
// broken teardown can never keep the link from reaching ERROR or
// DISCONNECTED.
func (c *Controller) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TeardownTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("panic during link teardown: %v", r)
		}
	}()

	if err := c.transport.StopConnection(ctx); err != nil {
		log.Warn().Err(err).Msg("link teardown failed")
	}
}

func (c *Controller) clearSample() {
	c.mu.Lock()
	c.view.sample = nil
	c.view.hasSample = false
	c.view.health = linkmodels.Health{}
	c.mu.Unlock()
}

// setState replaces the connection state and publishes it. Leaving
// CONNECTED always stops the poller first.
func (c *Controller) setState(next linkmodels.ConnectionState) {
	prev := c.state
	if prev.Status == linkmodels.StatusConnected && next.Status != linkmodels.StatusConnected {
		c.stopPoller()
	}
	if next.Status != linkmodels.StatusError {
		next.Error = ""
	}
	c.state = next

	c.mu.Lock()
	c.view.state = next
	c.view.session = c.session
	c.view.selectedMode = c.selectedMode
	c.view.serialPath = c.serialPath
	c.mu.Unlock()

	log.Info().
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Str("mode", string(next.Mode)).
		Str("error", next.Error).
		Msg("link state changed")
	notifications.LinkStateChanged(c.opts.Notifications, next)
}
