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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-link/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/rs/zerolog/log"
)

// SerialResolver turns the transport's device listing and the user's baud
// rate input into a SerialConfig a serial connection attempt can use.
type SerialResolver struct {
	transport transports.Service
	config    *models.SerialConfig
	fallback  []string
	devices   []models.SerialDevice
	selected  int
	mu        syncutil.RWMutex
}

func NewSerialResolver(transport transports.Service, fallback []string) *SerialResolver {
	return &SerialResolver{
		transport: transport,
		fallback:  append([]string(nil), fallback...),
	}
}

// Scan enumerates serial devices. When the transport reports nothing, or
// enumeration fails, a synthetic list built from the fallback paths is used
// so there is always something to pick. The first device is selected if the
// current selection is not part of the new list.
func (r *SerialResolver) Scan(ctx context.Context) []models.SerialDevice {
	raw, err := r.transport.SerialDeviceInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("serial device enumeration failed, using fallback paths")
		raw = nil
	}

	devices := normalizeDevices(raw)
	if len(devices) == 0 {
		log.Debug().Strs("paths", r.fallback).Msg("no serial devices reported, using fallback paths")
		devices = fallbackDevices(r.fallback)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var prevPath string
	for _, d := range r.devices {
		if d.ID == r.selected {
			prevPath = d.Path
			break
		}
	}

	r.devices = devices
	r.selected = 0
	for _, d := range devices {
		if prevPath != "" && d.Path == prevPath {
			r.selected = d.ID
			break
		}
	}
	if r.selected == 0 && len(devices) > 0 {
		r.selected = devices[0].ID
	}
	if r.config != nil {
		r.config = rebindConfig(r.config, devices)
	}

	log.Info().Int("count", len(devices)).Msg("serial device scan complete")
	return append([]models.SerialDevice(nil), devices...)
}

func (r *SerialResolver) Devices() []models.SerialDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.SerialDevice(nil), r.devices...)
}

// Selected returns the currently selected device, if any.
func (r *SerialResolver) Selected() (models.SerialDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == r.selected {
			return d, true
		}
	}
	return models.SerialDevice{}, false
}

// Select picks a device by its ID in the current scan.
func (r *SerialResolver) Select(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID != id {
			continue
		}
		if r.config != nil && r.config.Device.ID != id {
			r.config = nil
		}
		r.selected = id
		return nil
	}
	return fmt.Errorf("%w: no serial device with id %d", ErrInvalidConfiguration, id)
}

// ResolveSelected resolves the selected device with the given baud rate and
// keeps the result as the current config.
func (r *SerialResolver) ResolveSelected(baudRateText string) (models.SerialConfig, error) {
	device, ok := r.Selected()
	if !ok {
		return models.SerialConfig{}, fmt.Errorf("%w: no serial device selected", ErrInvalidConfiguration)
	}

	cfg, err := Resolve(device, baudRateText)
	if err != nil {
		return models.SerialConfig{}, err
	}

	r.mu.Lock()
	r.config = &cfg
	r.mu.Unlock()
	return cfg, nil
}

// Config returns the last resolved config, or nil.
func (r *SerialResolver) Config() *models.SerialConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.config == nil {
		return nil
	}
	cfg := *r.config
	return &cfg
}

// Resolve validates a device and baud rate pair.
func Resolve(device models.SerialDevice, baudRateText string) (models.SerialConfig, error) {
	if device.Path == "" {
		return models.SerialConfig{}, fmt.Errorf("%w: serial device has no path", ErrInvalidConfiguration)
	}
	baud, err := strconv.Atoi(strings.TrimSpace(baudRateText))
	if err != nil {
		return models.SerialConfig{}, fmt.Errorf("%w: baud rate %q is not a number", ErrInvalidConfiguration, baudRateText)
	}
	if baud <= 0 {
		return models.SerialConfig{}, fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfiguration, baud)
	}
	return models.SerialConfig{Device: device, BaudRate: baud}, nil
}

// rebindConfig points a resolved config at the same path in a new scan, or
// drops it when the device disappeared.
func rebindConfig(cfg *models.SerialConfig, devices []models.SerialDevice) *models.SerialConfig {
	for _, d := range devices {
		if d.Path == cfg.Device.Path {
			return &models.SerialConfig{Device: d, BaudRate: cfg.BaudRate}
		}
	}
	return nil
}

func normalizeDevices(raw []transports.RawDevice) []models.SerialDevice {
	devices := make([]models.SerialDevice, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, rd := range raw {
		path := strings.TrimSpace(rd.Path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		name := strings.TrimSpace(rd.Name)
		if name == "" {
			name = filepath.Base(path)
		}
		devices = append(devices, models.SerialDevice{
			ID:        len(devices) + 1,
			Path:      path,
			Name:      name,
			VendorID:  strings.ToLower(rd.VendorID),
			ProductID: strings.ToLower(rd.ProductID),
		})
	}
	return devices
}

func fallbackDevices(paths []string) []models.SerialDevice {
	devices := make([]models.SerialDevice, 0, len(paths))
	for i, p := range paths {
		devices = append(devices, models.SerialDevice{
			ID:   i + 1,
			Path: p,
			Name: filepath.Base(p),
		})
	}
	return devices
}
