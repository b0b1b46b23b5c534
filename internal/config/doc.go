// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the matchvault configuration.
//
// Values are resolved with precedence ENV > File > Defaults. The YAML file is
// parsed strictly: unknown keys and trailing documents are errors. Holder
// watches the file and applies retry, sync and log-level changes live;
// storage settings take effect on the next start.
package config
