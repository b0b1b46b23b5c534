// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ManuGH/matchvault/internal/config"
	"gopkg.in/yaml.v3"
)

const redacted = "***"

func cmdConfig(_ context.Context, c *cli, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.stderr, "Usage: matchvault config validate | config dump [--format yaml|json]")
		return 2
	}

	switch args[0] {
	case "validate":
		// Loading already validated; reaching here means the config is good.
		path := c.loader.Path()
		if path == "" {
			path = "environment and defaults"
		}
		_, _ = fmt.Fprintf(c.stdout, "%s is valid\n", path)
		return 0
	case "dump":
		fs := flag.NewFlagSet("matchvault config dump", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		format := fs.String("format", "yaml", "output format: yaml or json")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return dumpConfig(c, redact(c.cfg), *format)
	default:
		_, _ = fmt.Fprintf(c.stderr, "Unknown subcommand: %s\n", args[0])
		return 2
	}
}

// redact masks secrets before the config leaves the process.
func redact(cfg config.AppConfig) config.AppConfig {
	if cfg.Sync.Token != "" {
		cfg.Sync.Token = redacted
	}
	if cfg.Sync.RedisPassword != "" {
		cfg.Sync.RedisPassword = redacted
	}
	return cfg
}

func dumpConfig(c *cli, cfg config.AppConfig, format string) int {
	switch format {
	case "json":
		return c.printJSON(cfg)
	case "yaml":
		enc := yaml.NewEncoder(c.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return c.fail("%v", err)
		}
		if err := enc.Close(); err != nil {
			return c.fail("%v", err)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(c.stderr, "Error: unknown format %q\n", format)
		return 2
	}
}
