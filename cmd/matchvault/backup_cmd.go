// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

func cmdBackup(ctx context.Context, c *cli, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.stderr, "Usage: matchvault backup export --out FILE | backup import --in FILE")
		return 2
	}

	switch args[0] {
	case "export":
		fs := flag.NewFlagSet("matchvault backup export", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		out := fs.String("out", "", "destination file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *out == "" {
			_, _ = fmt.Fprintln(c.stderr, "Error: --out is required")
			return 2
		}

		a, err := c.bootedApp(ctx)
		if err != nil {
			return c.fail("%v", err)
		}
		defer c.closeApp(a)

		snap, err := a.Export(ctx, *out)
		if err != nil {
			return c.fail("export: %v", err)
		}
		_, _ = fmt.Fprintf(c.stdout, "Exported %d keys to %s (%s)\n", len(snap.Data), *out, snap.Timestamp.Format(time.RFC3339))
		return 0

	case "import":
		fs := flag.NewFlagSet("matchvault backup import", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		in := fs.String("in", "", "backup file to restore")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *in == "" {
			_, _ = fmt.Fprintln(c.stderr, "Error: --in is required")
			return 2
		}

		a, err := c.bootedApp(ctx)
		if err != nil {
			return c.fail("%v", err)
		}
		defer c.closeApp(a)

		snap, err := a.Import(ctx, *in)
		if err != nil {
			return c.fail("import: %v", err)
		}
		_, _ = fmt.Fprintf(c.stdout, "Restored %d keys from %s\n", len(snap.Data), *in)
		return 0

	default:
		_, _ = fmt.Fprintf(c.stderr, "Unknown subcommand: %s\n", args[0])
		return 2
	}
}
