/*
 * Copyright 2025 Insidr Technologies, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package app wires the debughub components together and runs the three
// listeners.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/insidr/debughub/pkg/api"
	"github.com/insidr/debughub/pkg/config"
	"github.com/insidr/debughub/pkg/hub"
	"github.com/insidr/debughub/pkg/logger"
	"github.com/insidr/debughub/pkg/metrics"
	"github.com/insidr/debughub/pkg/registry"
)

const shutdownTimeout = 5 * time.Second

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots the hub using the provided options and blocks until the context
// is cancelled or a listener fails.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	mainLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}

	log := mainLogger.WithComponent("app")

	reg := registry.New(cfg.EventBufferSize, mainLogger)

	promRegistry := prometheus.NewRegistry()
	hubMetrics := metrics.NewHubMetrics(promRegistry)

	h := hub.New(reg, hubMetrics, mainLogger)

	apiServer := api.NewAPIServer(cfg.CORS,
		api.WithQuerier(reg),
		api.WithMetricsHandler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
		api.WithLogger(mainLogger),
	)

	// Websocket listeners get no read/write timeouts; connections are
	// long-lived and kept alive by the hub's ping/pong cycle.
	deviceSrv := &http.Server{
		Addr:              listenAddr(cfg.Host, cfg.DevicePort),
		Handler:           h.DeviceHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	subscriberSrv := &http.Server{
		Addr:              listenAddr(cfg.Host, cfg.SubscriberPort),
		Handler:           h.SubscriberHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", deviceSrv.Addr).Msg("Device websocket listening")
		return ignoreServerClosed(deviceSrv.ListenAndServe())
	})

	g.Go(func() error {
		log.Info().Str("addr", subscriberSrv.Addr).Msg("Subscriber websocket listening")
		return ignoreServerClosed(subscriberSrv.ListenAndServe())
	})

	g.Go(func() error {
		addr := listenAddr(cfg.Host, cfg.HTTPPort)
		log.Info().Str("addr", addr).Msg("Query API listening")

		return ignoreServerClosed(apiServer.Start(addr))
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = deviceSrv.Shutdown(shutdownCtx)
		_ = subscriberSrv.Shutdown(shutdownCtx)
		_ = apiServer.Shutdown(shutdownCtx)

		return nil
	})

	return g.Wait()
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
