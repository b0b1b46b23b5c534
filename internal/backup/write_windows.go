// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// writeFile uses temp file + rename; renameio does not support Windows.
func writeFile(_ context.Context, path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".matchvault-export-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write export data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync export file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename export file: %w", err)
	}
	return nil
}
