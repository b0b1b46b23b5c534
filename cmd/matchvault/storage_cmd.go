// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ManuGH/matchvault/internal/app"
	"github.com/ManuGH/matchvault/internal/migration"
)

func cmdStorage(ctx context.Context, c *cli, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(c.stdout)
		return 0
	}

	switch args[0] {
	case "migrate":
		return runStorageMigrate(ctx, c, args[1:])
	case "retry":
		return runStorageRetry(ctx, c)
	case "verify":
		return runStorageVerify(ctx, c, args[1:])
	default:
		_, _ = fmt.Fprintf(c.stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(c.stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  matchvault storage migrate [--dry-run] [--no-verify]")
	_, _ = fmt.Fprintln(w, "  matchvault storage retry")
	_, _ = fmt.Fprintln(w, "  matchvault storage verify [--mode quick|full]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Subcommands:")
	_, _ = fmt.Fprintln(w, "  migrate   Copy data from the legacy backend to the primary backend")
	_, _ = fmt.Fprintln(w, "  retry     Reset the failure counter, clear the pin and migrate again")
	_, _ = fmt.Fprintln(w, "  verify    Check primary backend integrity")
}

func runStorageMigrate(ctx context.Context, c *cli, args []string) int {
	fs := flag.NewFlagSet("matchvault storage migrate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	dryRun := fs.Bool("dry-run", false, "snapshot and checksum without writing")
	noVerify := fs.Bool("no-verify", false, "skip read-back verification")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := c.openApp()
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	opts := app.MigrateOptions{DryRun: *dryRun}
	if *noVerify {
		verify := false
		opts.Verify = &verify
	}
	rep, err := a.MigrateBackend(ctx, opts)
	return c.reportMigration(rep, err)
}

func runStorageRetry(ctx context.Context, c *cli) int {
	a, err := c.openApp()
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	rep, err := a.RetryBackend(ctx)
	return c.reportMigration(rep, err)
}

// reportMigration prints rep. Partial and rolled-back runs leave the app
// usable and exit 3 so scripts can tell them from hard failures.
func (c *cli) reportMigration(rep migration.Report, err error) int {
	code := c.printJSON(rep)
	switch {
	case err == nil:
		return code
	case errors.Is(err, migration.ErrPartial), errors.Is(err, migration.ErrRolledBack):
		_, _ = fmt.Fprintf(c.stderr, "Warning: %v\n", err)
		return 3
	default:
		return c.fail("%v", err)
	}
}

func runStorageVerify(ctx context.Context, c *cli, args []string) int {
	fs := flag.NewFlagSet("matchvault storage verify", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	mode := fs.String("mode", "quick", "verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	m := strings.ToLower(strings.TrimSpace(*mode))
	if m != "quick" && m != "full" {
		_, _ = fmt.Fprintf(c.stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", *mode)
		return 2
	}

	a, err := c.openApp()
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	_, _ = fmt.Fprintf(c.stderr, "Verifying primary backend (mode: %s)...\n", m)
	issues, err := a.VerifyPrimary(ctx, m == "full")
	switch {
	case errors.Is(err, app.ErrNoPrimary):
		_, _ = fmt.Fprintln(c.stdout, "No primary backend yet; nothing to verify")
		return 0
	case err != nil:
		return c.fail("verification interrupted: %v", err)
	}
	if len(issues) > 0 {
		_, _ = fmt.Fprintln(c.stderr, "CORRUPTION DETECTED:")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(c.stderr, "  - %s\n", issue)
		}
		return 1
	}
	_, _ = fmt.Fprintln(c.stdout, "Integrity verified: ok")
	return 0
}
