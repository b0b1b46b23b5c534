// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"

	"github.com/ManuGH/matchvault/internal/api"
	"github.com/ManuGH/matchvault/internal/app"
	"github.com/ManuGH/matchvault/internal/config"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/telemetry"
)

func cmdServe(ctx context.Context, c *cli, args []string) int {
	fs := flag.NewFlagSet("matchvault serve", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	listen := fs.String("listen", "", "override api.listenAddr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listen != "" {
		c.cfg.API.ListenAddr = *listen
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        c.cfg.Telemetry.Enabled,
		ServiceName:    c.cfg.LogService,
		ServiceVersion: version,
		ExporterType:   c.cfg.Telemetry.Exporter,
		Endpoint:       c.cfg.Telemetry.Endpoint,
		SamplingRate:   c.cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return c.fail("telemetry: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Str(xglog.FieldEvent, "telemetry.shutdown_failed").Msg("failed to flush traces")
		}
	}()

	holder := config.NewHolder(c.cfg, c.loader)
	if err := holder.StartWatcher(ctx); err != nil {
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_failed").Msg("config hot reload unavailable")
	}

	a, err := c.openApp(app.WithConfigSource(holder.Get))
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	rep, err := a.Boot(ctx)
	if err != nil {
		c.logger.Error().Err(err).Str(xglog.FieldEvent, "boot.blocked").Msg("boot failed, not serving")
		return 1
	}
	c.logger.Info().
		Str(xglog.FieldEvent, "serve.ready").
		Str(xglog.FieldMode, string(rep.Status.Mode)).
		Str(xglog.FieldBackend, rep.Status.ActiveBackend).
		Msg("storage ready")

	tracing := ""
	if c.cfg.Telemetry.Enabled {
		tracing = c.cfg.LogService
	}
	srv := api.New(api.Deps{
		Backend:        a,
		Settings:       a.Settings(),
		Health:         a.Health(),
		Config:         c.cfg.API,
		TracingService: tracing,
	})
	if err := srv.Run(ctx); err != nil {
		return c.fail("serve: %v", err)
	}
	return 0
}
