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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-link/pkg/cli"
	"github.com/ZaparooProject/zaparoo-link/pkg/config"
	"github.com/ZaparooProject/zaparoo-link/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-link/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	exit, err := flags.Pre(os.Stdout)
	if err != nil {
		return err
	}
	if exit {
		return nil
	}

	configDir := *flags.ConfigDir
	if configDir == "" {
		configDir = helpers.ConfigDir()
	}

	var logWriters []io.Writer
	if *flags.Daemon {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := cli.Setup(configDir, helpers.LogDir(), config.BaseDefaults, logWriters)
	if err != nil {
		return err
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	if helpers.IsServiceRunning(cfg.APIListen()) {
		return fmt.Errorf("another instance is already listening on %s", cfg.APIListen())
	}

	svc, err := service.Start(cfg, service.Options{})
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			log.Error().Err(err).Msg("error stopping service")
		}
	}()

	log.Info().
		Str("version", config.AppVersion).
		Str("api", cfg.APIListen()).
		Bool("daemon", *flags.Daemon).
		Msg("zaparoo link started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *flags.Connect != "" {
		baud := *flags.Baud
		if baud == 0 {
			baud = cfg.DefaultBaudRate()
		}
		go func() {
			err := cli.ConnectOnStart(ctx, svc.Controller(), *flags.Connect, *flags.Device, baud)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("startup connect failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case <-svc.Done():
		if err := svc.Err(); err != nil {
			return fmt.Errorf("service stopped: %w", err)
		}
	}

	return nil
}
