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

package helpers

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial/enumerator"
)

// SerialPortInfo is one serial port found on the system.
type SerialPortInfo struct {
	Path      string
	Name      string
	VendorID  string
	ProductID string
}

// listDetailedPorts is swapped in tests.
var listDetailedPorts = enumerator.GetDetailedPortsList

// serialPrefixes are the device paths that usually belong to USB serial
// adapters, flight controllers and telemetry radios.
func serialPrefixes(goos string) []string {
	switch goos {
	case "windows":
		return []string{"COM"}
	case "darwin":
		return []string{"/dev/tty.usbserial", "/dev/tty.usbmodem", "/dev/tty.SLAB_USBtoUART"}
	default:
		return []string{"/dev/ttyUSB", "/dev/ttyACM", "/dev/ttyAMA", "/dev/serial/by-id/"}
	}
}

// ListSerialPorts enumerates serial ports with their USB IDs where the OS
// reports them.
func ListSerialPorts() ([]SerialPortInfo, error) {
	ports, err := listDetailedPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}
	devices := filterSerialPorts(runtime.GOOS, ports)
	log.Debug().Int("found", len(ports)).Int("kept", len(devices)).Msg("enumerated serial ports")
	return devices, nil
}

func filterSerialPorts(goos string, ports []*enumerator.PortDetails) []SerialPortInfo {
	prefixes := serialPrefixes(goos)
	devices := make([]SerialPortInfo, 0, len(ports))

	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}

		matched := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(p.Name, prefix) {
				matched = true
				break
			}
		}
		// any port the OS identifies as USB is kept regardless of its name
		if !matched && !p.IsUSB {
			continue
		}

		info := SerialPortInfo{
			Path: p.Name,
			Name: filepath.Base(p.Name),
		}
		if p.IsUSB {
			info.VendorID = strings.ToLower(p.VID)
			info.ProductID = strings.ToLower(p.PID)
			if p.Product != "" {
				info.Name = p.Product
			}
		}
		devices = append(devices, info)
	}

	return devices
}
