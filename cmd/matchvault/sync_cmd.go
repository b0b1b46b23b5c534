// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/matchvault/internal/app"
)

func cmdSync(ctx context.Context, c *cli, args []string) int {
	if len(args) != 1 || args[0] != "push" {
		_, _ = fmt.Fprintln(c.stderr, "Usage: matchvault sync push")
		return 2
	}

	a, err := c.bootedApp(ctx)
	if err != nil {
		return c.fail("%v", err)
	}
	defer c.closeApp(a)

	res, err := a.PushAll(ctx)
	if errors.Is(err, app.ErrSyncDisabled) {
		_, _ = fmt.Fprintln(c.stderr, "Sync is disabled; set sync.remote to http or redis")
		return 2
	}
	if err != nil {
		return c.fail("sync push: %v", err)
	}

	_, _ = fmt.Fprintf(c.stdout, "Pushed %d entities, %d failed\n", res.Pushed, res.FailureCount())
	if res.FailureCount() > 0 {
		return 3
	}
	return 0
}
