// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_HealthyBackends(t *testing.T) {
	ctx := context.Background()

	sq, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "primary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	bg, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bg.Close() })

	for _, v := range []interface {
		Adapter
		Verifier
	}{sq, bg} {
		t.Run(v.BackendName(), func(t *testing.T) {
			require.NoError(t, v.SetItem(ctx, "k", "v"))
			for _, full := range []bool{false, true} {
				problems, err := v.Verify(ctx, full)
				require.NoError(t, err)
				assert.Empty(t, problems)
			}
		})
	}
}
