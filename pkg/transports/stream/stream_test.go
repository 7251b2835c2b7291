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

package stream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/testing/mocks"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// stateRecorder collects every state a service publishes.
type stateRecorder struct {
	states []models.ConnectionState
	mu     syncutil.Mutex
}

func (r *stateRecorder) record(s models.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) statuses() []models.LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LinkStatus, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Status)
	}
	return out
}

func newService(t *testing.T, opts Options) (*Service, *stateRecorder) {
	t.Helper()
	svc := New(opts)
	rec := &stateRecorder{}
	svc.Subscribe(rec.record)
	t.Cleanup(func() {
		assert.NoError(t, svc.Cleanup())
	})
	return svc, rec
}

func listenTCP(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return ln, accepted
}

func acceptConn(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(testWait):
		require.FailNow(t, "no connection accepted")
		return nil
	}
}

func TestTCP_TelemetryCommandsAndData(t *testing.T) {
	t.Parallel()
	ln, accepted := listenTCP(t)
	svc, rec := newService(t, Options{TCPAddress: ln.Addr().String()})

	received := make(chan models.DataReceived, 4)
	svc.OnSerialDataReceived(func(d models.DataReceived) { received <- d })

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeTCP))
	assert.Equal(t, models.ConnectionState{Status: models.StatusConnected, Mode: models.ModeTCP}, svc.State())
	vehicle := acceptConn(t, accepted)

	sample, err := svc.MavlinkData(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sample)
	assert.Empty(t, sample)

	_, err = vehicle.Write([]byte("TLM\talt=10\tmode=GUIDED\nTLM\talt=11\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := svc.MavlinkData(context.Background())
		return err == nil && s["alt"] == 11.0 && s["mode"] == "GUIDED"
	}, testWait, testTick)

	go func() {
		line, err := bufio.NewReader(vehicle).ReadString('\n')
		if err != nil || line != "CMD\tTAKEOFF\n" {
			return
		}
		_, _ = vehicle.Write([]byte("ACK\tTAKEOFF accepted\n"))
	}()
	ack, err := svc.SendGuidedCommand(context.Background(), "TAKEOFF")
	require.NoError(t, err)
	assert.Equal(t, "TAKEOFF accepted", ack)

	_, err = vehicle.Write([]byte("STATUSTEXT armed\n"))
	require.NoError(t, err)
	select {
	case d := <-received:
		assert.Equal(t, "STATUSTEXT armed", string(d.Data))
		assert.Equal(t, ln.Addr().String(), d.Source)
	case <-time.After(testWait):
		require.FailNow(t, "no data received")
	}

	require.NoError(t, svc.StopConnection(context.Background()))
	require.NoError(t, svc.StopConnection(context.Background()))
	assert.Equal(t, models.StatusDisconnected, svc.State().Status)
	assert.Equal(t, []models.LinkStatus{
		models.StatusConnecting,
		models.StatusConnected,
		models.StatusDisconnected,
	}, rec.statuses())

	_, err = svc.MavlinkData(context.Background())
	require.ErrorIs(t, err, transports.ErrNotConnected)
}

func TestTCP_PeerCloseReportsError(t *testing.T) {
	t.Parallel()
	ln, accepted := listenTCP(t)
	svc, rec := newService(t, Options{TCPAddress: ln.Addr().String()})

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeTCP))
	vehicle := acceptConn(t, accepted)
	require.NoError(t, vehicle.Close())

	require.Eventually(t, func() bool {
		return svc.State().Status == models.StatusError
	}, testWait, testTick)
	assert.Equal(t, "connection closed by peer", svc.State().Error)
	assert.Contains(t, rec.statuses(), models.StatusError)

	_, err := svc.SendTextCommand(context.Background(), "ARM")
	require.ErrorIs(t, err, transports.ErrNotConnected)
}

func TestTCP_DialFailure(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, Options{
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	})

	err := svc.StartConnection(context.Background(), models.ModeTCP)
	require.Error(t, err)
	state := svc.State()
	assert.Equal(t, models.StatusError, state.Status)
	assert.Contains(t, state.Error, "connection refused")
}

func TestTCP_AckTimeout(t *testing.T) {
	t.Parallel()
	ln, accepted := listenTCP(t)
	clock := clockwork.NewFakeClock()
	svc, _ := newService(t, Options{TCPAddress: ln.Addr().String(), Clock: clock})

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeTCP))
	acceptConn(t, accepted)

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendGuidedCommand(context.Background(), "LAND")
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultAckTimeout)

	select {
	case err := <-done:
		require.ErrorIs(t, err, errAckTimeout)
		assert.NotErrorIs(t, err, transports.ErrLinkLost)
	case <-time.After(testWait):
		require.FailNow(t, "guided command did not time out")
	}
	assert.Equal(t, models.StatusConnected, svc.State().Status)
}

func TestStartConnection_RejectsWhileConnected(t *testing.T) {
	t.Parallel()
	ln, accepted := listenTCP(t)
	svc, _ := newService(t, Options{TCPAddress: ln.Addr().String()})

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeTCP))
	acceptConn(t, accepted)
	require.Error(t, svc.StartConnection(context.Background(), models.ModeUDP))
	require.Error(t, New(Options{}).StartConnection(context.Background(), "bogus"))
}

func TestUDP_Exchange(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	svc, _ := newService(t, Options{UDPAddress: pc.LocalAddr().String()})
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeUDP))
	assert.Equal(t, models.ModeUDP, svc.State().Mode)

	frame := []byte{0xfe, 0x09, 0x00}
	_, err = svc.SendMavlinkMessage(context.Background(), frame)
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(testWait)))
	n, addr, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf[:n])

	_, err = pc.WriteTo([]byte("TLM\tgroundspeed=4.2\n"), addr)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := svc.MavlinkData(context.Background())
		return err == nil && s["groundspeed"] == 4.2
	}, testWait, testTick)
}

// serialEnv wires a service to a mock port.
func serialEnv(t *testing.T) (*Service, *mocks.MockSerialPort, *stateRecorder) {
	t.Helper()
	port := mocks.NewMockSerialPort()
	svc, rec := newService(t, Options{
		PortFactory: func(path string, mode *serial.Mode) (SerialPort, error) {
			if path != "/dev/ttyACM0" {
				return nil, errors.New("no such file or directory")
			}
			if mode.BaudRate != 57600 {
				return nil, errors.New("unsupported baud rate")
			}
			return port, nil
		},
	})
	return svc, port, rec
}

func TestSerial_TwoStepConnect(t *testing.T) {
	t.Parallel()
	svc, port, rec := serialEnv(t)

	ok, err := svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
	require.ErrorIs(t, err, transports.ErrNotConnected)
	assert.False(t, ok)

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))
	assert.Equal(t, models.ConnectionState{Status: models.StatusConnecting, Mode: models.ModeSerial}, svc.State())

	ok, err = svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusConnected, svc.State().Status)

	port.Feed([]byte("TLM\tbattery=87\n"))
	require.Eventually(t, func() bool {
		s, err := svc.MavlinkData(context.Background())
		return err == nil && s["battery"] == 87.0
	}, testWait, testTick)

	_, err = svc.SendSerialData(context.Background(), "/dev/ttyACM0", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), port.Written())

	_, err = svc.SendSerialData(context.Background(), "/dev/ttyUSB9", []byte("x"))
	require.ErrorIs(t, err, transports.ErrNotConnected)

	require.NoError(t, svc.StopConnection(context.Background()))
	assert.True(t, port.IsClosed())
	assert.Equal(t, []models.LinkStatus{
		models.StatusConnecting,
		models.StatusConnected,
		models.StatusDisconnected,
	}, rec.statuses())
}

func TestSerial_OpenFailure(t *testing.T) {
	t.Parallel()
	svc, _, _ := serialEnv(t)
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))

	ok, err := svc.ConnectSerialDevice(context.Background(), 2, "/dev/ttyACM0", 9600)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.StatusConnecting, svc.State().Status)
}

func TestSerial_ReadFailureReportsError(t *testing.T) {
	t.Parallel()
	svc, port, _ := serialEnv(t)
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))
	ok, err := svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
	require.NoError(t, err)
	require.True(t, ok)

	port.FailReads(errors.New("device unplugged"))
	require.Eventually(t, func() bool {
		return svc.State().Status == models.StatusError
	}, testWait, testTick)
	assert.Equal(t, "device unplugged", svc.State().Error)
	assert.True(t, port.IsClosed())
}

func TestSerial_WriteFailureIsLinkLoss(t *testing.T) {
	t.Parallel()
	svc, port, _ := serialEnv(t)
	port.WriteError = errors.New("input/output error")
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))
	_, err := svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
	require.NoError(t, err)

	_, err = svc.SendMavlinkMessage(context.Background(), []byte{0xfe})
	require.ErrorIs(t, err, transports.ErrLinkLost)
	assert.Equal(t, models.StatusError, svc.State().Status)
}

func TestSerialDeviceInfo(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, Options{
		ListPorts: func() ([]helpers.SerialPortInfo, error) {
			return []helpers.SerialPortInfo{
				{Path: "/dev/ttyACM0", Name: "Pixhawk", VendorID: "26ac", ProductID: "0011"},
			}, nil
		},
	})

	devices, err := svc.SerialDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transports.RawDevice{
		{Path: "/dev/ttyACM0", Name: "Pixhawk", VendorID: "26ac", ProductID: "0011"},
	}, devices)

	failing := New(Options{ListPorts: func() ([]helpers.SerialPortInfo, error) {
		return nil, errors.New("enumeration not supported")
	}})
	_, err = failing.SerialDeviceInfo(context.Background())
	require.Error(t, err)
}

func TestCleanupIsIdempotent(t *testing.T) {
	t.Parallel()
	svc := New(Options{})
	require.NoError(t, svc.Cleanup())
	require.NoError(t, svc.Cleanup())
	assert.Equal(t, models.StatusDisconnected, svc.State().Status)
}

func TestSerial_StopDuringOpenDiscardsPort(t *testing.T) {
	t.Parallel()
	port := mocks.NewMockSerialPort()
	opening := make(chan struct{})
	release := make(chan struct{})
	svc, rec := newService(t, Options{
		PortFactory: func(string, *serial.Mode) (SerialPort, error) {
			close(opening)
			<-release
			return port, nil
		},
	})
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))

	type bindResult struct {
		err error
		ok  bool
	}
	done := make(chan bindResult, 1)
	go func() {
		ok, err := svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
		done <- bindResult{ok: ok, err: err}
	}()

	<-opening
	require.NoError(t, svc.StopConnection(context.Background()))
	close(release)

	var res bindResult
	select {
	case res = <-done:
	case <-time.After(testWait):
		require.FailNow(t, "serial bind did not return")
	}
	require.ErrorIs(t, res.err, transports.ErrAttemptStopped)
	assert.False(t, res.ok)
	assert.True(t, port.IsClosed())
	assert.Equal(t, models.ConnectionState{Status: models.StatusDisconnected}, svc.State())
	assert.Equal(t, []models.LinkStatus{
		models.StatusConnecting,
		models.StatusDisconnected,
	}, rec.statuses())

	_, err := svc.MavlinkData(context.Background())
	require.ErrorIs(t, err, transports.ErrNotConnected)
	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))
}

func TestTCP_StopDuringDialDiscardsConn(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	dialing := make(chan struct{})
	release := make(chan struct{})
	svc, _ := newService(t, Options{
		Dial: func(context.Context, string, string) (net.Conn, error) {
			close(dialing)
			<-release
			return local, nil
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- svc.StartConnection(context.Background(), models.ModeTCP)
	}()

	<-dialing
	require.NoError(t, svc.StopConnection(context.Background()))
	close(release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, transports.ErrAttemptStopped)
	case <-time.After(testWait):
		require.FailNow(t, "dial did not return")
	}
	assert.Equal(t, models.StatusDisconnected, svc.State().Status)

	// the discarded conn is closed, so the far end sees EOF
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(testWait)))
	_, err := remote.Read(make([]byte, 1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestSerial_OversizedLineIsDropped(t *testing.T) {
	t.Parallel()
	svc, port, _ := serialEnv(t)

	var dataMu syncutil.Mutex
	var data []models.DataReceived
	svc.OnSerialDataReceived(func(d models.DataReceived) {
		dataMu.Lock()
		data = append(data, d)
		dataMu.Unlock()
	})

	require.NoError(t, svc.StartConnection(context.Background(), models.ModeSerial))
	ok, err := svc.ConnectSerialDevice(context.Background(), 1, "/dev/ttyACM0", 57600)
	require.NoError(t, err)
	require.True(t, ok)

	port.Feed([]byte("TLM\tbattery=99\t" + strings.Repeat("k", maxLineLength) + "\n"))
	port.Feed([]byte(strings.Repeat("z", maxLineLength+10) + "\n"))
	port.Feed([]byte("TLM\tgroundspeed=1.5\n"))

	require.Eventually(t, func() bool {
		s, err := svc.MavlinkData(context.Background())
		return err == nil && s["groundspeed"] == 1.5
	}, testWait, testTick)

	s, err := svc.MavlinkData(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, s, "battery")

	dataMu.Lock()
	defer dataMu.Unlock()
	assert.Empty(t, data)
}
