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

package mocks

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock implementation of transports.Service. Operation
// methods use testify/mock; the transport's own state and its callbacks are
// plain fields so tests can drive them directly.
type MockTransport struct {
	mock.Mock
	subs      map[int]func(models.ConnectionState)
	dataCb    func(models.DataReceived)
	state     models.ConnectionState
	nextSubID int
	mu        syncutil.RWMutex
}

// NewMockTransport creates a disconnected MockTransport. Cleanup and
// RemoveSerialDataListener are optional since the controller calls them on
// close.
func NewMockTransport() *MockTransport {
	m := &MockTransport{
		subs:  make(map[int]func(models.ConnectionState)),
		state: models.ConnectionState{Status: models.StatusDisconnected},
	}
	m.On("Cleanup").Return(nil).Maybe()
	m.On("RemoveSerialDataListener").Return().Maybe()
	return m
}

// State returns the state last set with SetState.
func (m *MockTransport) State() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetState changes the transport state without notifying subscribers.
func (m *MockTransport) SetState(s models.ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// EmitState changes the transport state and notifies subscribers.
func (m *MockTransport) EmitState(s models.ConnectionState) {
	m.mu.Lock()
	m.state = s
	subs := make([]func(models.ConnectionState), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Notify calls subscribers with s without changing the transport state, as
// happens when a state event is handled after the transport moved on.
func (m *MockTransport) Notify(s models.ConnectionState) {
	m.mu.RLock()
	subs := make([]func(models.ConnectionState), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(s)
	}
}

// EmitData delivers data to the registered data listener, if any.
func (m *MockTransport) EmitData(d models.DataReceived) {
	m.mu.RLock()
	cb := m.dataCb
	m.mu.RUnlock()
	if cb != nil {
		cb(d)
	}
}

// Subscribers returns the number of registered state subscribers.
func (m *MockTransport) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *MockTransport) Subscribe(onChange func(models.ConnectionState)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = onChange
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *MockTransport) OnSerialDataReceived(cb func(models.DataReceived)) {
	m.mu.Lock()
	m.dataCb = cb
	m.mu.Unlock()
}

func (m *MockTransport) RemoveSerialDataListener() {
	m.Called()
	m.mu.Lock()
	m.dataCb = nil
	m.mu.Unlock()
}

func (m *MockTransport) StartConnection(ctx context.Context, mode models.LinkMode) error {
	args := m.Called(ctx, mode)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockTransport) StopConnection(ctx context.Context) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockTransport) ConnectSerialDevice(ctx context.Context, id int, path string, baudRate int) (bool, error) {
	args := m.Called(ctx, id, path, baudRate)
	if err := args.Error(1); err != nil {
		return args.Bool(0), fmt.Errorf("mock operation failed: %w", err)
	}
	return args.Bool(0), nil
}

func (m *MockTransport) MavlinkData(ctx context.Context) (models.TelemetrySample, error) {
	args := m.Called(ctx)
	sample, _ := args.Get(0).(models.TelemetrySample)
	if err := args.Error(1); err != nil {
		return nil, fmt.Errorf("mock operation failed: %w", err)
	}
	return sample, nil
}

func (m *MockTransport) SendGuidedCommand(ctx context.Context, name string) (string, error) {
	return m.stringResult(m.Called(ctx, name))
}

func (m *MockTransport) SendSerialData(ctx context.Context, path string, data []byte) (string, error) {
	return m.stringResult(m.Called(ctx, path, data))
}

func (m *MockTransport) SendTextCommand(ctx context.Context, text string) (string, error) {
	return m.stringResult(m.Called(ctx, text))
}

func (m *MockTransport) SendMavlinkMessage(ctx context.Context, data []byte) (string, error) {
	return m.stringResult(m.Called(ctx, data))
}

func (m *MockTransport) SerialDeviceInfo(ctx context.Context) ([]transports.RawDevice, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]transports.RawDevice)
	if err := args.Error(1); err != nil {
		return nil, fmt.Errorf("mock operation failed: %w", err)
	}
	return devices, nil
}

func (m *MockTransport) Cleanup() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (*MockTransport) stringResult(args mock.Arguments) (string, error) {
	if err := args.Error(1); err != nil {
		// keep sentinel errors such as transports.ErrLinkLost matchable
		return "", fmt.Errorf("mock operation failed: %w", err)
	}
	return args.String(0), nil
}

// Helper methods for testing

// SetupConnectOK makes StartConnection succeed for mode and report the
// transport as connected, and makes StopConnection always succeed and
// report it as disconnected.
func (m *MockTransport) SetupConnectOK(mode models.LinkMode) {
	m.On("StartConnection", mock.Anything, mode).Run(func(mock.Arguments) {
		m.EmitState(models.ConnectionState{Status: models.StatusConnected, Mode: mode})
	}).Return(nil)
	m.SetupStop()
}

// SetupStop makes StopConnection succeed and report the transport as
// disconnected.
func (m *MockTransport) SetupStop() {
	m.On("StopConnection", mock.Anything).Run(func(mock.Arguments) {
		m.SetState(models.ConnectionState{Status: models.StatusDisconnected})
	}).Return(nil)
}

// ErrMockLinkLost is a convenience error matching transports.ErrLinkLost.
var ErrMockLinkLost = fmt.Errorf("connection reset by peer: %w", transports.ErrLinkLost)

// ErrMockRejected is a plain command rejection that is not a link loss.
var ErrMockRejected = errors.New("command rejected by vehicle")
