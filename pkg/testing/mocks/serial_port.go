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
	"bytes"
	"errors"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
)

// MockSerialPort is an in-memory serial port. Data queued with Feed is
// returned by Read; an empty queue behaves like a read timeout.
type MockSerialPort struct {
	WriteError  error
	CloseError  error
	TimeoutErr  error
	readErr     error
	incoming    chan []byte
	pending     []byte
	written     bytes.Buffer
	readTimeout time.Duration
	closed      bool
	mu          syncutil.RWMutex // protects everything but incoming
}

// NewMockSerialPort creates a new mock serial port for testing.
func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{
		incoming:    make(chan []byte, 64),
		readTimeout: 10 * time.Millisecond,
	}
}

// Feed queues data to be returned by Read.
func (m *MockSerialPort) Feed(data []byte) {
	m.incoming <- append([]byte(nil), data...)
}

// FailReads makes the next Read return err, as an unplugged device would.
func (m *MockSerialPort) FailReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		m.mu.Unlock()
		return n, nil
	}
	timeout := m.readTimeout
	m.mu.Unlock()

	select {
	case data := <-m.incoming:
		m.mu.Lock()
		defer m.mu.Unlock()
		n := copy(p, data)
		m.pending = append(m.pending, data[n:]...)
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("port closed")
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	return m.written.Write(p)
}

// Written returns a copy of everything written to the port.
func (m *MockSerialPort) Written() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.written.Bytes()...)
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	m.closed = true
	closeError := m.CloseError
	m.mu.Unlock()
	return closeError
}

// SetReadTimeout controls how long an empty Read waits before returning.
func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	if m.TimeoutErr != nil {
		return m.TimeoutErr
	}
	m.mu.Lock()
	m.readTimeout = t
	m.mu.Unlock()
	return nil
}

// IsClosed returns true if the port has been closed (thread-safe).
func (m *MockSerialPort) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
