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

// Package service assembles the link daemon: transport, controller,
// notification fan-out, publishers and the API server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ZaparooProject/zaparoo-link/pkg/api"
	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/config"
	"github.com/ZaparooProject/zaparoo-link/pkg/link"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-link/pkg/service/publishers"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports"
	"github.com/ZaparooProject/zaparoo-link/pkg/transports/stream"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	notificationBuffer = 256
	subscriberBuffer   = 100
)

// Options overrides parts of the service, mostly for tests.
type Options struct {
	Transport         transports.Service
	Clock             clockwork.Clock
	Listener          net.Listener
	MQTTClientFactory publishers.ClientFactory
}

type Service struct {
	ctrl     *link.Controller
	broker   *broker.Broker
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// Start builds and starts every component. It fails only when the API
// address cannot be bound. The returned service runs until Stop is called
// or the API server fails; Done reports either.
func Start(cfg *config.Instance, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.APIListen())
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
		}
	}

	ns := make(chan models.Notification, notificationBuffer)
	notifBroker := broker.NewBroker(ctx, ns)
	notifBroker.Start()

	transport := opts.Transport
	if transport == nil {
		transport = stream.New(stream.Options{
			Clock:      opts.Clock,
			TCPAddress: cfg.TCPAddress(),
			UDPAddress: cfg.UDPAddress(),
			AckTimeout: cfg.AckTimeout(),
		})
	}

	sysID, compID := cfg.HeartbeatIDs()
	ctrl := link.New(transport, link.Options{
		Clock:                opts.Clock,
		Notifications:        ns,
		FallbackSerialPaths:  cfg.FallbackSerialPaths(),
		SettleDelay:          cfg.SettleDelay(),
		ConnectTimeout:       cfg.ConnectTimeout(),
		SerialConnectTimeout: cfg.SerialConnectTimeout(),
		PollInterval:         cfg.PollInterval(),
		TeardownTimeout:      cfg.TeardownTimeout(),
		EmptyStreakWarn:      cfg.EmptyStreakWarn(),
		HeartbeatSystemID:    sysID,
		HeartbeatComponentID: compID,
	})

	if name := cfg.DefaultMode(); name != "" {
		mode, ok := linkmodels.ParseLinkMode(name)
		if !ok {
			log.Warn().Str("mode", name).Msg("ignoring unknown default link mode")
		} else if err := ctrl.SelectMode(ctx, mode); err != nil {
			log.Warn().Err(err).Msg("could not select default link mode")
		}
	}

	log.Info().Msg("scanning serial devices")
	ctrl.ScanDevices(ctx)

	g, gctx := errgroup.WithContext(ctx)

	log.Info().Msg("starting publishers")
	startPublishers(g, gctx, cfg, notifBroker, opts.MQTTClientFactory)

	log.Info().Msg("starting API service")
	server := api.NewServer(ctrl, notifBroker, api.Options{
		AllowedOrigins:  cfg.AllowedOrigins(),
		DefaultBaudRate: cfg.DefaultBaudRate(),
	})
	g.Go(func() error {
		return server.ServeListener(gctx, ln)
	})

	svc := &Service{
		ctrl:   ctrl,
		broker: notifBroker,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		err := g.Wait()
		if err != nil {
			log.Error().Err(err).Msg("service component failed")
		}
		log.Info().Msg("service stopping, running cleanup")

		cancel()
		if closeErr := ctrl.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing link controller")
			err = errors.Join(err, closeErr)
		}
		<-notifBroker.Done()

		svc.err = err
		log.Info().Msg("service cleanup completed")
		close(svc.done)
	}()

	return svc, nil
}

// startPublishers runs each enabled MQTT publisher in the group. A
// publisher that cannot connect is logged and skipped.
func startPublishers(
	g *errgroup.Group,
	ctx context.Context,
	cfg *config.Instance,
	b *broker.Broker,
	factory publishers.ClientFactory,
) {
	for _, mqttCfg := range cfg.MQTTPublishers() {
		if !mqttCfg.IsEnabled() {
			continue
		}

		publisher := publishers.NewMQTTPublisher(
			mqttCfg.Broker,
			mqttCfg.Topic,
			mqttCfg.Filter,
			cfg.BrokerAuth(mqttCfg.Broker),
		).WithClientFactory(factory)

		addr := mqttCfg.Broker
		g.Go(func() error {
			notifs, id := b.Subscribe(subscriberBuffer)
			defer b.Unsubscribe(id)

			log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", addr, mqttCfg.Topic)
			if err := publisher.Start(notifs); err != nil {
				log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", addr)
				return nil
			}
			<-ctx.Done()
			publisher.Stop()
			return nil
		})
	}
}

func (s *Service) Controller() *link.Controller {
	return s.ctrl
}

func (s *Service) Broker() *broker.Broker {
	return s.broker
}

// Done is closed once the service has fully stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the service stopped. Only valid after Done.
func (s *Service) Err() error {
	return s.err
}

// Stop shuts everything down and waits for cleanup. It is safe to call
// more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(s.cancel)
	<-s.done
	if s.err != nil {
		return fmt.Errorf("service stopped with error: %w", s.err)
	}
	return nil
}
