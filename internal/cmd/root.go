// SPDX-License-Identifier: AGPL-3.0-or-later
// rocon-gateway - a multi-master publish/subscribe bridge
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/config"
	"github.com/rocon-io/gateway/internal/flippedif"
	"github.com/rocon-io/gateway/internal/hubmanager"
	"github.com/rocon-io/gateway/internal/kv"
	"github.com/rocon-io/gateway/internal/masterapi/xmlrpc"
	"github.com/rocon-io/gateway/internal/metrics"
	"github.com/rocon-io/gateway/internal/mirror"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/rocon-io/gateway/internal/publicif"
	"github.com/rocon-io/gateway/internal/pulledif"
	"github.com/rocon-io/gateway/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	gcSweepInterval = 1 * time.Hour
	shutdownTimeout = 10 * time.Second
)

// NewCommand builds the rocon-gateway root command.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rocon-gateway",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("rocon-gateway - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	var cleanup func(context.Context) error
	if cfg.Metrics.OTLPEndpoint != "" {
		cleanup = initTracer(&cfg)
		defer func() {
			if err := cleanup(ctx); err != nil {
				slog.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.CreateMetricsServer(&cfg); err != nil {
				slog.Error("Failed to start metrics server", "error", err)
			}
		}()
	}

	mx := metrics.NewMetrics()

	pub, priv, err := codec.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate gateway keypair: %w", err)
	}

	name := gatewayName(cfg.Gateway.Name)
	rosIP := resolveROSIP(cfg.Gateway.MasterURI, cfg.Gateway.ROSIP, cfg.Gateway.ROSHostname)
	ownURI := fmt.Sprintf("http://%s:0/", rosIP)

	api := xmlrpc.NewMaster(cfg.Gateway.MasterURI, name, ownURI)
	m := mirror.New(api, cfg.Gateway.MasterURI)

	public := publicif.New()
	public.SetDefaultBlacklist(triplesToPatterns(cfg.Gateway.DefaultPublicBlacklist))
	if len(cfg.Gateway.DefaultPublicInterface) > 0 {
		public.Advertise(triplesToPatterns(cfg.Gateway.DefaultPublicInterface), false)
	} else {
		public.AdvertiseAll(nil, false)
	}

	flipped := flippedif.NewOutbound()
	pulled := pulledif.New()

	kvFactory := func(ctx context.Context, uri string) (kv.KV, error) {
		return kv.MakeKVAtAddr(ctx, uri, &cfg)
	}
	hubs := hubmanager.New(name, pub, priv, mx, cfg.Hub, cfg.Gateway.PingFrequency, cfg.Gateway.MaxTTL, kvFactory)

	result, err := hubs.ConnectWithRetry(ctx, cfg.Hub.URI, rosIP, cfg.Gateway.Firewall, cfg.Hub.ConnectTimeout)
	if err != nil || result != hubmanager.ConnectSuccess {
		return fmt.Errorf("failed to connect to hub %s: %s: %w", cfg.Hub.URI, result, err)
	}

	w := watcher.New(m, public, flipped, pulled, hubs, mx, logger, name, cfg.Gateway.Firewall, cfg.Gateway.WatcherPeriod, cfg.Hub.FlipPollInterval)
	go w.Run(ctx)
	defer w.Stop()

	_, err = scheduler.NewJob(
		gocron.DurationJob(gcSweepInterval),
		gocron.NewTask(func() {
			n, errs := hubs.GCStaleGateways(ctx)
			if n > 0 {
				slog.Info("Swept stale gateways from hubs", "count", n)
			}
			for _, e := range errs {
				slog.Error("Failed to sweep hub for stale gateways", "hub", e.HubURI, "error", e.Err)
			}
		}),
	)
	if err != nil {
		slog.Error("Failed to schedule stale gateway sweep", "error", err)
	}
	scheduler.Start()

	stop := func(sig os.Signal) {
		slog.Error("Shutting down due to signal", "signal", sig)
		wg := new(sync.WaitGroup)

		wg.Add(1)
		go func(wg *sync.WaitGroup) {
			defer wg.Done()
			if err := scheduler.StopJobs(); err != nil {
				slog.Error("Failed to stop scheduler jobs", "error", err)
			}
			if err := scheduler.Shutdown(); err != nil {
				slog.Error("Failed to stop scheduler", "error", err)
			}
		}(wg)

		wg.Add(1)
		go func(wg *sync.WaitGroup) {
			defer wg.Done()
			w.Stop()
			for _, uri := range hubs.ConnectedHubURIs() {
				if err := hubs.Disconnect(ctx, uri); err != nil {
					slog.Error("Failed to disconnect from hub", "hub", uri, "error", err)
				}
			}
		}(wg)

		if cleanup != nil {
			wg.Add(1)
			go func(wg *sync.WaitGroup) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(ctx, shutdownTimeout/2)
				defer cancel()
				if err := cleanup(ctx); err != nil {
					slog.Error("Failed to shutdown tracer", "error", err)
				}
			}(wg)
		}

		c := make(chan struct{})
		go func() {
			defer close(c)
			wg.Wait()
		}()
		select {
		case <-c:
			slog.Info("Shutdown safely completed")
			os.Exit(0)
		case <-time.After(shutdownTimeout):
			slog.Error("Shutdown timed out")
			os.Exit(1)
		}
	}
	defer stop(syscall.SIGINT)

	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGKILL, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return nil
}

// gatewayName appends a short, unique hash to base so the same configured
// name can run more than once against the same hub without colliding.
func gatewayName(base string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return base + "_" + suffix
}

// resolveROSIP mirrors mirror.Mirror.GetROSIP's fallback order, but against
// the gateway's own configuration rather than the process environment, so
// the advertised hub address can be set without ROS_IP/ROS_HOSTNAME.
func resolveROSIP(masterURI, rosIP, rosHostname string) string {
	u, err := url.Parse(masterURI)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	if u.Hostname() != "localhost" {
		return u.Hostname()
	}
	if rosIP != "" {
		return rosIP
	}
	if rosHostname != "" {
		return rosHostname
	}
	return "localhost"
}

// triplesToPatterns converts the (type, name, node) shorthand accepted from
// configuration into publicif match patterns.
func triplesToPatterns(triples []config.Triple) []publicif.Pattern {
	patterns := make([]publicif.Pattern, 0, len(triples))
	for _, t := range triples {
		patterns = append(patterns, publicif.Pattern{
			Type: model.ConnectionType(strings.ToUpper(t.Type)),
			Name: t.Name,
			Node: t.Node,
		})
	}
	return patterns
}

func initTracer(cfg *config.Config) func(context.Context) error {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		slog.Error("Failed tracing app", "error", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "rocon-gateway"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		slog.Error("Could not set resources", "error", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown
}
