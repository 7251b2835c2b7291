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

// Package stream is a transport service that talks to a vehicle over a
// line oriented byte stream: a TCP connection, a connected UDP socket or a
// serial port.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTCPAddress = "127.0.0.1:5760"
	DefaultUDPAddress = "127.0.0.1:14550"
	DefaultAckTimeout = 3 * time.Second

	readBufferSize = 1024
	maxLineLength  = 64 * 1024
)

var errAckTimeout = errors.New("no acknowledgement received")

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Options struct {
	Clock       clockwork.Clock
	PortFactory SerialPortFactory
	Dial        DialFunc
	ListPorts   func() ([]helpers.SerialPortInfo, error)
	TCPAddress  string
	UDPAddress  string
	AckTimeout  time.Duration
}

// Service implements transports.Service over a byte stream.
type Service struct {
	opts    Options
	conn    io.ReadWriteCloser
	sample  models.TelemetrySample
	subs    map[int]func(models.ConnectionState)
	dataCb  func(models.DataReceived)
	acks    chan string
	state   models.ConnectionState
	source  string
	wg      sync.WaitGroup
	gen     uint64
	nextSub int
	mu      syncutil.RWMutex // protects everything above wg and gen
	writeMu syncutil.Mutex   // serializes writes and ack waits
}

var _ transports.Service = (*Service)(nil)

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PortFactory == nil {
		opts.PortFactory = DefaultSerialPortFactory
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	if opts.ListPorts == nil {
		opts.ListPorts = helpers.ListSerialPorts
	}
	if opts.TCPAddress == "" {
		opts.TCPAddress = DefaultTCPAddress
	}
	if opts.UDPAddress == "" {
		opts.UDPAddress = DefaultUDPAddress
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Service{
		opts:  opts,
		subs:  make(map[int]func(models.ConnectionState)),
		acks:  make(chan string, 1),
		state: models.ConnectionState{Status: models.StatusDisconnected},
	}
}

func (s *Service) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) Subscribe(onChange func(models.ConnectionState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = onChange
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) OnSerialDataReceived(cb func(models.DataReceived)) {
	s.mu.Lock()
	s.dataCb = cb
	s.mu.Unlock()
}

func (s *Service) RemoveSerialDataListener() {
	s.mu.Lock()
	s.dataCb = nil
	s.mu.Unlock()
}

// StartConnection opens a network link, or enters serial mode and waits for
// ConnectSerialDevice to pick the port.
func (s *Service) StartConnection(ctx context.Context, mode models.LinkMode) error {
	switch mode {
	case models.ModeTCP:
		return s.dial(ctx, mode, "tcp", s.opts.TCPAddress)
	case models.ModeUDP:
		return s.dial(ctx, mode, "udp", s.opts.UDPAddress)
	case models.ModeSerial:
		if _, err := s.begin(mode); err != nil {
			return err
		}
		log.Debug().Msg("serial mode started, waiting for device")
		return nil
	default:
		return fmt.Errorf("unsupported link mode: %q", mode)
	}
}

// begin moves an idle transport to CONNECTING and returns the generation
// the attempt belongs to. StopConnection bumps the generation, which makes
// any later attach for this attempt fail.
func (s *Service) begin(mode models.LinkMode) (uint64, error) {
	s.mu.Lock()
	if s.conn != nil || s.state.Status == models.StatusConnecting {
		status := s.state.Status
		s.mu.Unlock()
		return 0, fmt.Errorf("transport already %s", status)
	}
	s.gen++
	gen := s.gen
	subs := s.publishLocked(models.ConnectionState{Status: models.StatusConnecting, Mode: mode})
	s.mu.Unlock()

	notify(subs, models.ConnectionState{Status: models.StatusConnecting, Mode: mode})
	return gen, nil
}

func (s *Service) dial(ctx context.Context, mode models.LinkMode, network, address string) error {
	gen, err := s.begin(mode)
	if err != nil {
		return err
	}

	conn, err := s.opts.Dial(ctx, network, address)
	if err != nil {
		s.abort(gen, mode, err)
		return fmt.Errorf("failed to dial %s %s: %w", network, address, err)
	}

	if err := s.attach(gen, conn, mode, address); err != nil {
		return err
	}
	log.Info().Str("network", network).Str("address", address).Msg("link transport connected")
	return nil
}

// ConnectSerialDevice opens the serial port chosen for a serial link.
func (s *Service) ConnectSerialDevice(ctx context.Context, id int, path string, baudRate int) (bool, error) {
	s.mu.RLock()
	state, gen := s.state, s.gen
	s.mu.RUnlock()
	if state.Mode != models.ModeSerial || state.Status != models.StatusConnecting {
		return false, fmt.Errorf("serial mode not started: %w", transports.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("serial bind cancelled: %w", err)
	}

	port, err := s.opts.PortFactory(path, serialMode(baudRate))
	if err != nil {
		log.Warn().Err(err).Int("id", id).Str("path", path).Msg("failed to open serial device")
		return false, fmt.Errorf("failed to open serial device %s: %w", path, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return false, fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	if err := s.attach(gen, port, models.ModeSerial, path); err != nil {
		return false, err
	}
	log.Info().Int("id", id).Str("path", path).Int("baud", baudRate).Msg("serial device bound")
	return true, nil
}

// attach installs conn as the live connection of attempt gen and starts its
// reader. If the attempt was stopped in the meantime conn is closed instead.
func (s *Service) attach(gen uint64, conn io.ReadWriteCloser, mode models.LinkMode, source string) error {
	s.mu.Lock()
	if s.gen != gen || s.conn != nil || s.state.Status != models.StatusConnecting {
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("source", source).Msg("error closing stale link connection")
		}
		log.Info().Str("source", source).Msg("discarding connection of a stopped attempt")
		return fmt.Errorf("%w: %s", transports.ErrAttemptStopped, source)
	}
	s.conn = conn
	s.source = source
	s.sample = models.TelemetrySample{}
	next := models.ConnectionState{Status: models.StatusConnected, Mode: mode}
	subs := s.publishLocked(next)
	s.wg.Add(1)
	s.mu.Unlock()

	s.drainAcks()
	notify(subs, next)

	go s.readLoop(gen, conn, source)
	return nil
}

// abort reports a failed dial, unless the attempt was already stopped.
func (s *Service) abort(gen uint64, mode models.LinkMode, cause error) {
	next := models.ConnectionState{Status: models.StatusError, Mode: mode, Error: cause.Error()}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	subs := s.publishLocked(next)
	s.mu.Unlock()
	notify(subs, next)
}

func (s *Service) readLoop(gen uint64, conn io.Reader, source string) {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	var lineBuf []byte
	oversized := false
	for {
		n, err := conn.Read(buf)
		for i := range n {
			if buf[i] != '\n' {
				if len(lineBuf) < maxLineLength {
					lineBuf = append(lineBuf, buf[i])
				} else {
					oversized = true
				}
				continue
			}
			if oversized {
				log.Warn().Str("source", source).Int("max", maxLineLength).
					Msg("dropping line longer than the maximum line length")
			} else {
				s.handleLine(gen, source, string(lineBuf))
			}
			lineBuf = lineBuf[:0]
			oversized = false
		}

		if err != nil {
			if s.current(gen) {
				log.Error().Err(err).Str("source", source).Msg("failed to read from link")
				s.fail(gen, err)
			}
			return
		}
		if !s.current(gen) {
			return
		}
	}
}

func (s *Service) current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen && s.conn != nil
}

func (s *Service) handleLine(gen uint64, source, line string) {
	parsed := parseLine(line)
	switch parsed.kind {
	case lineEmpty:
	case lineTelemetry:
		s.mu.Lock()
		if s.gen == gen && s.sample != nil {
			for k, v := range parsed.sample {
				s.sample[k] = v
			}
		}
		s.mu.Unlock()
	case lineAck:
		select {
		case s.acks <- parsed.text:
		default:
			log.Debug().Str("ack", parsed.text).Msg("dropping unexpected acknowledgement")
		}
	case lineData:
		s.mu.RLock()
		cb := s.dataCb
		s.mu.RUnlock()
		if cb != nil {
			cb(models.DataReceived{
				At:     s.opts.Clock.Now(),
				Source: source,
				Data:   []byte(parsed.text),
			})
		}
	}
}

// fail moves the transport to ERROR after an I/O failure on generation gen.
func (s *Service) fail(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.sample = nil
	mode := s.state.Mode
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing failed link")
	}

	msg := cause.Error()
	if errors.Is(cause, io.EOF) {
		msg = "connection closed by peer"
	}
	s.setState(models.ConnectionState{Status: models.StatusError, Mode: mode, Error: msg})
}

// StopConnection closes whatever is open. It is safe to call in any state
// and more than once.
func (s *Service) StopConnection(_ context.Context) error {
	s.mu.Lock()
	s.gen++
	conn := s.conn
	s.conn = nil
	s.sample = nil
	s.source = ""
	already := s.state.Status == models.StatusDisconnected
	s.mu.Unlock()

	var err error
	if conn != nil {
		if cErr := conn.Close(); cErr != nil && !errors.Is(cErr, net.ErrClosed) {
			err = fmt.Errorf("failed to close link connection: %w", cErr)
		}
	}
	if !already {
		s.setState(models.ConnectionState{Status: models.StatusDisconnected})
		log.Info().Msg("link transport stopped")
	}
	return err
}

// MavlinkData returns the latest telemetry merged from TLM lines. The sample
// is empty until the vehicle sends any.
func (s *Service) MavlinkData(_ context.Context) (models.TelemetrySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || s.state.Status != models.StatusConnected {
		return nil, transports.ErrNotConnected
	}
	return s.sample.Clone(), nil
}

// SendGuidedCommand writes a CMD line and waits for the vehicle's ACK.
func (s *Service) SendGuidedCommand(ctx context.Context, name string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.drainAcks()
	if err := s.writeLocked(ctx, formatCommand(name)); err != nil {
		return "", err
	}

	timer := s.opts.Clock.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()
	select {
	case ack := <-s.acks:
		return ack, nil
	case <-timer.Chan():
		return "", fmt.Errorf("%w for %s within %s", errAckTimeout, name, s.opts.AckTimeout)
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for acknowledgement: %w", ctx.Err())
	}
}

func (s *Service) SendTextCommand(ctx context.Context, text string) (string, error) {
	return "", s.write(ctx, []byte(text+"\n"))
}

// SendSerialData writes raw bytes to the bound serial port at path.
func (s *Service) SendSerialData(ctx context.Context, path string, data []byte) (string, error) {
	s.mu.RLock()
	mode, source := s.state.Mode, s.source
	s.mu.RUnlock()
	if mode != models.ModeSerial || source != path {
		return "", fmt.Errorf("serial device %s is not bound: %w", path, transports.ErrNotConnected)
	}
	return "", s.write(ctx, data)
}

func (s *Service) SendMavlinkMessage(ctx context.Context, data []byte) (string, error) {
	return "", s.write(ctx, data)
}

func (s *Service) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(ctx, data)
}

func (s *Service) writeLocked(ctx context.Context, data []byte) error {
	s.mu.RLock()
	conn, gen := s.conn, s.gen
	s.mu.RUnlock()
	if conn == nil {
		return transports.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write cancelled: %w", err)
	}

	if nc, ok := conn.(net.Conn); ok {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			deadline = time.Time{}
		}
		_ = nc.SetWriteDeadline(deadline)
	}

	if _, err := conn.Write(data); err != nil {
		s.fail(gen, err)
		return fmt.Errorf("%w: %w", transports.ErrLinkLost, err)
	}
	return nil
}

func (s *Service) drainAcks() {
	for {
		select {
		case <-s.acks:
		default:
			return
		}
	}
}

// SerialDeviceInfo lists serial ports present on the system.
func (s *Service) SerialDeviceInfo(_ context.Context) ([]transports.RawDevice, error) {
	ports, err := s.opts.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial devices: %w", err)
	}
	devices := make([]transports.RawDevice, 0, len(ports))
	for _, p := range ports {
		devices = append(devices, transports.RawDevice{
			Path:      p.Path,
			Name:      p.Name,
			VendorID:  p.VendorID,
			ProductID: p.ProductID,
		})
	}
	return devices, nil
}

// Cleanup stops the link and waits for the reader to exit.
func (s *Service) Cleanup() error {
	err := s.StopConnection(context.Background())
	s.wg.Wait()

	s.mu.Lock()
	s.dataCb = nil
	clear(s.subs)
	s.mu.Unlock()
	return err
}

func (s *Service) setState(next models.ConnectionState) {
	s.mu.Lock()
	subs := s.publishLocked(next)
	s.mu.Unlock()
	notify(subs, next)
}

// publishLocked stores next and returns the subscribers to notify once the
// lock is released. Callers hold s.mu.
func (s *Service) publishLocked(next models.ConnectionState) []func(models.ConnectionState) {
	s.state = next
	subs := make([]func(models.ConnectionState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(models.ConnectionState), next models.ConnectionState) {
	for _, fn := range subs {
		fn(next)
	}
}
