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

// Package api serves the link state, telemetry and command surface over
// HTTP and pushes notifications to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	apimiddleware "github.com/ZaparooProject/zaparoo-link/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-link/pkg/link"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/service/broker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	// longer than the serial connect watchdog plus the settle check
	RequestTimeout  = 30 * time.Second
	maxBodyBytes    = 64 << 10
	wsBufferSize    = 100
	shutdownTimeout = 5 * time.Second
)

// LinkController is the part of the link controller the API drives.
type LinkController interface {
	State() linkmodels.ConnectionState
	Mode() linkmodels.LinkMode
	Telemetry() (linkmodels.TelemetrySample, bool)
	Health() linkmodels.Health
	Outcomes() []linkmodels.CommandOutcome
	ReceivedData() []linkmodels.DataReceived
	SerialConfig() *linkmodels.SerialConfig
	Resolver() *link.SerialResolver
	Connect(ctx context.Context, mode linkmodels.LinkMode, serial *linkmodels.SerialConfig) error
	ConnectSelected(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reset(ctx context.Context) error
	SelectMode(ctx context.Context, mode linkmodels.LinkMode) error
	SendCommand(ctx context.Context, cmd link.Command) (linkmodels.CommandResult, error)
	ScanDevices(ctx context.Context) []linkmodels.SerialDevice
}

type Options struct {
	Limiter         *apimiddleware.IPRateLimiter
	AllowedOrigins  []string
	DefaultBaudRate int
}

type Server struct {
	ctrl    LinkController
	broker  *broker.Broker
	ws      *melody.Melody
	limiter *apimiddleware.IPRateLimiter
	router  chi.Router
	opts    Options
}

// LinkStatus is the body of GET /api/link.
type LinkStatus struct {
	SerialConfig *linkmodels.SerialConfig   `json:"serialConfig,omitempty"`
	State        linkmodels.ConnectionState `json:"state"`
	Mode         linkmodels.LinkMode        `json:"mode,omitempty"`
}

type TelemetryResponse struct {
	Sample    linkmodels.TelemetrySample `json:"sample"`
	Available bool                       `json:"available"`
}

type SerialResponse struct {
	Selected *linkmodels.SerialDevice  `json:"selected,omitempty"`
	Config   *linkmodels.SerialConfig  `json:"config,omitempty"`
	Devices  []linkmodels.SerialDevice `json:"devices"`
}

func NewServer(ctrl LinkController, b *broker.Broker, opts Options) *Server {
	if opts.Limiter == nil {
		opts.Limiter = apimiddleware.NewIPRateLimiter(nil)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://*", "https://*"}
	}

	s := &Server{
		ctrl:    ctrl,
		broker:  b,
		ws:      melody.New(),
		limiter: opts.Limiter,
		opts:    opts,
	}
	s.ws.Upgrader.CheckOrigin = func(_ *http.Request) bool { return true }
	s.ws.HandleConnect(s.handleWSConnect)
	s.ws.HandleMessage(apimiddleware.WebSocketRateLimitHandler(s.limiter, handleWSMessage))
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(apimiddleware.HTTPRateLimitMiddleware(s.limiter))

	r.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/api/link", s.handleLink)
		r.Get("/api/link/telemetry", s.handleTelemetry)
		r.Get("/api/link/commands", s.handleOutcomes)
		r.Get("/api/link/health", s.handleHealth)
		r.Get("/api/link/data", s.handleData)
		r.Get("/api/serial", s.handleSerial)

		r.Post("/api/link/connect", s.handleConnect)
		r.Post("/api/link/disconnect", s.handleDisconnect)
		r.Post("/api/link/reset", s.handleReset)
		r.Post("/api/link/mode", s.handleMode)
		r.Post("/api/link/commands", s.handleCommand)
		r.Post("/api/serial/scan", s.handleScan)
		r.Post("/api/serial/select", s.handleSelect)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeListener serves on ln and forwards broker notifications to
// WebSocket clients until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.limiter.StartCleanup(ctx)

	if s.broker != nil {
		notifs, id := s.broker.Subscribe(wsBufferSize)
		defer s.broker.Unsubscribe(id)
		go s.broadcastNotifications(ctx, notifs)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	if err := s.ws.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Info().Msg("api server stopped")
	return nil
}

func (s *Server) broadcastNotifications(ctx context.Context, notifs <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifs:
			if !ok {
				return
			}
			data, err := json.Marshal(notif)
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification")
				continue
			}
			if err := s.ws.Broadcast(data); err != nil {
				log.Debug().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// handleWSConnect replays the latest notification of each kind so a new
// client starts from the current link state.
func (s *Server) handleWSConnect(session *melody.Session) {
	if s.broker == nil {
		return
	}
	for _, notif := range s.broker.Latest() {
		data, err := json.Marshal(notif)
		if err != nil {
			continue
		}
		if err := session.Write(data); err != nil {
			log.Debug().Err(err).Msg("replaying notification to new client")
			return
		}
	}
}

func handleWSMessage(session *melody.Session, msg []byte) {
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Kind: kind})
}

func classifyError(err error) (status int, kind string) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve),
		errors.Is(err, validation.ErrMissingParams),
		errors.Is(err, validation.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, link.ErrMalformedInput):
		return http.StatusBadRequest, "malformed_input"
	case errors.Is(err, link.ErrInvalidConfiguration):
		return http.StatusConflict, "invalid_configuration"
	case errors.Is(err, link.ErrAttemptCancelled):
		return http.StatusConflict, "attempt_cancelled"
	case errors.Is(err, link.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, link.ErrHandshakeFailure):
		return http.StatusBadGateway, "handshake_failure"
	case errors.Is(err, link.ErrVerificationFailure):
		return http.StatusBadGateway, "verification_failure"
	case errors.Is(err, link.ErrTransportError):
		return http.StatusBadGateway, "transport_error"
	case errors.Is(err, link.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func readParams[T any](r *http.Request, dest *T) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", validation.ErrInvalidParams, err)
	}
	return validation.ValidateAndUnmarshal(body, dest)
}

func (s *Server) linkStatus() LinkStatus {
	return LinkStatus{
		State:        s.ctrl.State(),
		Mode:         s.ctrl.Mode(),
		SerialConfig: s.ctrl.SerialConfig(),
	}
}

func (s *Server) handleLink(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.ctrl.Telemetry()
	writeJSON(w, http.StatusOK, TelemetryResponse{Sample: sample, Available: ok})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Outcomes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Health())
}

func (s *Server) handleData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.ReceivedData())
}

func (s *Server) serialResponse() SerialResponse {
	resolver := s.ctrl.Resolver()
	resp := SerialResponse{
		Devices: resolver.Devices(),
		Config:  resolver.Config(),
	}
	if d, ok := resolver.Selected(); ok {
		resp.Selected = &d
	}
	return resp
}

func (s *Server) handleSerial(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.serialResponse())
}

func (s *Server) baudOrDefault(baud string) string {
	if baud != "" {
		return baud
	}
	return strconv.Itoa(s.opts.DefaultBaudRate)
}

// resolveSerial picks the device, resolves it with the requested baud rate
// and returns the config to connect with.
func (s *Server) resolveSerial(deviceID int, baud string) (*linkmodels.SerialConfig, error) {
	resolver := s.ctrl.Resolver()
	if deviceID > 0 {
		if err := resolver.Select(deviceID); err != nil {
			return nil, err
		}
	} else if cfg := resolver.Config(); cfg != nil && baud == "" {
		return cfg, nil
	}
	cfg, err := resolver.ResolveSelected(s.baudOrDefault(baud))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var params models.ConnectParams
	if err := readParams(r, &params); err != nil && !errors.Is(err, validation.ErrMissingParams) {
		writeError(w, err)
		return
	}

	var err error
	if params.Mode == "" {
		err = s.ctrl.ConnectSelected(r.Context())
	} else {
		mode, _ := linkmodels.ParseLinkMode(params.Mode)
		var serial *linkmodels.SerialConfig
		if mode == linkmodels.ModeSerial {
			serial, err = s.resolveSerial(params.DeviceID, params.BaudRate)
			if err != nil {
				writeError(w, err)
				return
			}
		}
		err = s.ctrl.Connect(r.Context(), mode, serial)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disconnect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkStatus())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var params models.ModeParams
	if err := readParams(r, &params); err != nil {
		writeError(w, err)
		return
	}
	mode, _ := linkmodels.ParseLinkMode(params.Mode)
	if err := s.ctrl.SelectMode(r.Context(), mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkStatus())
}

// handleCommand answers 200 with the result for sends the vehicle rejected
// and an error status only for failures before the send.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var params models.CommandParams
	if err := readParams(r, &params); err != nil {
		writeError(w, err)
		return
	}

	kind, _ := link.ParseCommandKind(params.Kind)
	result, err := s.ctrl.SendCommand(r.Context(), link.Command{Kind: kind, Payload: params.Payload})
	if err != nil && (errors.Is(err, link.ErrMalformedInput) || errors.Is(err, link.ErrInvalidConfiguration)) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ScanDevices(r.Context())
	writeJSON(w, http.StatusOK, s.serialResponse())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var params models.SelectSerialParams
	if err := readParams(r, &params); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.resolveSerial(params.DeviceID, params.BaudRate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.serialResponse())
}
