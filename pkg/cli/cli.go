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

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/ZaparooProject/zaparoo-link/pkg/config"
	"github.com/ZaparooProject/zaparoo-link/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-link/pkg/link"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/rs/zerolog/log"
)

// listPorts is swapped in tests.
var listPorts = helpers.ListSerialPorts

type Flags struct {
	fs          *flag.FlagSet
	Version     *bool
	ConfigDir   *string
	Daemon      *bool
	Connect     *string
	Device      *string
	Baud        *int
	ListDevices *bool
}

// SetupFlags defines the daemon's flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs: fs,
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		ConfigDir: fs.String(
			"config",
			"",
			"use this directory for config and auth files",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"run in the foreground and also log to stderr",
		),
		Connect: fs.String(
			"connect",
			"",
			"connect on startup using this mode (tcp, udp or serial)",
		),
		Device: fs.String(
			"device",
			"",
			"serial device path for -connect serial",
		),
		Baud: fs.Int(
			"baud",
			0,
			"serial baud rate for -connect serial (default from config)",
		),
		ListDevices: fs.Bool(
			"list-devices",
			false,
			"print detected serial devices and exit",
		),
	}
}

func (f *Flags) isFlagPassed(name string) bool {
	found := false
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Parse parses args and checks that the flags make sense together.
func (f *Flags) Parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Connect != "" {
		if _, ok := linkmodels.ParseLinkMode(*f.Connect); !ok {
			return fmt.Errorf("unknown link mode %q, valid: tcp, udp, serial", *f.Connect)
		}
	}
	if f.isFlagPassed("device") || f.isFlagPassed("baud") {
		mode, _ := linkmodels.ParseLinkMode(*f.Connect)
		if mode != linkmodels.ModeSerial {
			return errors.New("-device and -baud require -connect serial")
		}
	}
	if f.isFlagPassed("baud") && *f.Baud <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", *f.Baud)
	}
	return nil
}

// Pre actions flags that don't need config or logging. It reports whether
// the process should exit afterwards.
func (f *Flags) Pre(out io.Writer) (bool, error) {
	switch {
	case *f.Version:
		_, _ = fmt.Fprintf(out, "Zaparoo Link v%s\n", config.AppVersion)
		return true, nil
	case *f.ListDevices:
		return true, PrintSerialDevices(out)
	}
	return false, nil
}

// PrintSerialDevices writes one line per detected serial port.
func PrintSerialDevices(out io.Writer) error {
	ports, err := listPorts()
	if err != nil {
		return fmt.Errorf("error listing serial devices: %w", err)
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(out, "No serial devices found.")
		return nil
	}
	for _, p := range ports {
		line := p.Path + "\t" + p.Name
		if p.VendorID != "" || p.ProductID != "" {
			line += fmt.Sprintf("\t%s:%s", p.VendorID, p.ProductID)
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

// Setup creates the directories, starts logging and loads the config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	configDir string,
	logDir string,
	defaultConfig config.Values,
	writers []io.Writer,
) (*config.Instance, error) {
	err := helpers.EnsureDirectories(configDir, logDir)
	if err != nil {
		return nil, fmt.Errorf("error creating directories: %w", err)
	}

	err = helpers.InitLogging(logDir, writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(configDir, defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())
	return cfg, nil
}

// Connector is the part of the link controller a startup connect needs.
type Connector interface {
	ScanDevices(ctx context.Context) []linkmodels.SerialDevice
	Connect(ctx context.Context, mode linkmodels.LinkMode, serial *linkmodels.SerialConfig) error
}

// ConnectOnStart runs the connection attempt requested on the command line.
// For serial, devicePath picks a scanned device by path; a path the scan did
// not report is still tried as given. An empty path uses the first device.
func ConnectOnStart(
	ctx context.Context,
	ctrl Connector,
	modeName string,
	devicePath string,
	baudRate int,
) error {
	mode, ok := linkmodels.ParseLinkMode(modeName)
	if !ok {
		return fmt.Errorf("%w: unknown link mode %q", link.ErrInvalidConfiguration, modeName)
	}

	var serial *linkmodels.SerialConfig
	if mode == linkmodels.ModeSerial {
		device, err := pickDevice(ctrl.ScanDevices(ctx), devicePath)
		if err != nil {
			return err
		}
		cfg, err := link.Resolve(device, strconv.Itoa(baudRate))
		if err != nil {
			return fmt.Errorf("invalid serial settings: %w", err)
		}
		serial = &cfg
	}

	log.Info().Str("mode", string(mode)).Msg("connecting on startup")
	if err := ctrl.Connect(ctx, mode, serial); err != nil {
		return fmt.Errorf("startup connect failed: %w", err)
	}
	return nil
}

func pickDevice(devices []linkmodels.SerialDevice, path string) (linkmodels.SerialDevice, error) {
	if path == "" {
		if len(devices) == 0 {
			return linkmodels.SerialDevice{}, fmt.Errorf(
				"%w: no serial devices found", link.ErrInvalidConfiguration,
			)
		}
		return devices[0], nil
	}
	for _, d := range devices {
		if d.Path == path {
			return d, nil
		}
	}
	log.Warn().Str("path", path).Msg("serial device not found in scan, trying it anyway")
	return linkmodels.SerialDevice{Path: path, Name: filepath.Base(path)}, nil
}
