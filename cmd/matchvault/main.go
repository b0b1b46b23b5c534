// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command matchvault runs the storage core of the coaching app: boot-time
// migrations, backend selection, settings, backups and cloud sync.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/matchvault/internal/app"
	"github.com/ManuGH/matchvault/internal/config"
	"github.com/ManuGH/matchvault/internal/health"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/rs/zerolog"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries the resolved configuration into the subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	loader *config.Loader
	cfg    config.AppConfig
	logger zerolog.Logger
}

type command func(ctx context.Context, c *cli, args []string) int

var commands = map[string]command{
	"boot":     cmdBoot,
	"status":   cmdStatus,
	"storage":  cmdStorage,
	"settings": cmdSettings,
	"backup":   cmdBackup,
	"sync":     cmdSync,
	"config":   cmdConfig,
	"serve":    cmdServe,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("matchvault", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	configPath := fs.String("config", "", "path to config file (YAML)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(stderr)
		if len(rest) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n\n", rest[0])
		printUsage(stderr)
		return 2
	}

	xglog.Configure(xglog.Config{Level: "info", Output: stderr, Service: "matchvault", Version: version})
	c := &cli{stdout: stdout, stderr: stderr, logger: xglog.WithComponent("cli")}
	if err := c.loadConfig(resolveConfigPath(*configPath)); err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	return cmd(ctx, c, rest[1:])
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: matchvault [--config PATH] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  boot                                   Run schema and backend migrations")
	_, _ = fmt.Fprintln(w, "  status                                 Print the migration status")
	_, _ = fmt.Fprintln(w, "  storage migrate [--dry-run] [--no-verify]")
	_, _ = fmt.Fprintln(w, "  storage retry                          Clear the failure pin and migrate again")
	_, _ = fmt.Fprintln(w, "  storage verify [--mode quick|full]     Check primary backend integrity")
	_, _ = fmt.Fprintln(w, "  settings get")
	_, _ = fmt.Fprintln(w, "  settings set key=value...")
	_, _ = fmt.Fprintln(w, "  backup export --out FILE")
	_, _ = fmt.Fprintln(w, "  backup import --in FILE")
	_, _ = fmt.Fprintln(w, "  sync push                              Push local data to the remote once")
	_, _ = fmt.Fprintln(w, "  config validate | config dump [--format yaml|json]")
	_, _ = fmt.Fprintln(w, "  serve                                  Boot, then serve the diagnostics API")
}

// resolveConfigPath prefers an explicit path, then config.yaml in the data
// directory when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", ""))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func (c *cli) loadConfig(path string) error {
	c.loader = config.NewLoader(path, version)
	cfg, err := c.loader.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Output:  c.stderr,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	c.logger = xglog.WithComponent("cli")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	c.logger.Debug().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Msg("configuration loaded")
	for _, key := range c.loader.UnknownEnvKeys(os.Environ()) {
		c.logger.Warn().
			Str(xglog.FieldEvent, "config.unknown_env").
			Str(xglog.FieldKey, key).
			Msg("ignoring unknown environment variable")
	}
	return nil
}

// openApp runs the pre-flight checks and opens the application.
func (c *cli) openApp(opts ...app.Option) (*app.App, error) {
	if err := health.PerformStartupChecks(c.cfg); err != nil {
		return nil, err
	}
	return app.New(c.cfg, opts...)
}

// bootedApp opens the application and runs the boot flow, as the app does
// before serving any user data.
func (c *cli) bootedApp(ctx context.Context) (*app.App, error) {
	a, err := c.openApp()
	if err != nil {
		return nil, err
	}
	if _, err := a.Boot(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (c *cli) closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "app.close_failed").Msg("failed to close storage")
	}
}

func (c *cli) printJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) fail(format string, args ...any) int {
	_, _ = fmt.Fprintf(c.stderr, "Error: "+format+"\n", args...)
	return 1
}

func cmdBoot(ctx context.Context, c *cli, _ []string) int {
	a, err := c.openApp()
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	rep, err := a.Boot(ctx)
	if err != nil {
		_ = c.printJSON(rep)
		return c.fail("boot blocked: %v", err)
	}
	return c.printJSON(rep)
}

func cmdStatus(ctx context.Context, c *cli, _ []string) int {
	a, err := c.openApp()
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)
	return c.printJSON(a.Status(ctx))
}
