// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/matchvault/internal/settings"
)

func cmdSettings(ctx context.Context, c *cli, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.stderr, "Usage: matchvault settings get | settings set key=value...")
		return 2
	}

	switch args[0] {
	case "get":
		a, err := c.bootedApp(ctx)
		if err != nil {
			return c.fail("%v", err)
		}
		defer c.closeApp(a)
		return c.printJSON(a.Settings().GetSettings(ctx))
	case "set":
		patch, err := parsePatch(args[1:])
		if err != nil {
			_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 2
		}
		a, err := c.bootedApp(ctx)
		if err != nil {
			return c.fail("%v", err)
		}
		defer c.closeApp(a)

		updated, err := a.Settings().UpdateSettings(ctx, patch)
		if err != nil {
			var verr *settings.ValidationError
			if errors.As(err, &verr) {
				_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
				return 2
			}
			return c.fail("%v", err)
		}
		return c.printJSON(updated)
	default:
		_, _ = fmt.Fprintf(c.stderr, "Unknown subcommand: %s\n", args[0])
		return 2
	}
}

// parsePatch turns key=value pairs into a settings patch. Values that are
// valid JSON (true, 12, null, "quoted") are used as-is; anything else is
// taken as a string.
func parsePatch(pairs []string) (settings.Patch, error) {
	var patch settings.Patch
	if len(pairs) == 0 {
		return patch, errors.New("settings set needs at least one key=value")
	}

	fields := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return patch, fmt.Errorf("malformed pair %q, want key=value", pair)
		}
		raw := json.RawMessage(value)
		if !json.Valid(raw) || value == "" {
			quoted, err := json.Marshal(value)
			if err != nil {
				return patch, err
			}
			raw = quoted
		}
		fields[key] = raw
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return patch, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return patch, fmt.Errorf("invalid settings: %w", err)
	}
	return patch, nil
}
