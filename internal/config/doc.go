// Package config loads runtime configuration for the fleet registry CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the registry backend
//	-d string   path of the local database file
//	-t string   path of the bearer token file
//	-i int      online status check interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_base_url": "https://sisgeo.bombeiros.example.br",
//	  "database_path": "fleetsync.db",
//	  "token_file": ".token",
//	  "online_check_interval": "3s",
//	  "probe_timeout": "2s",
//	  "list_retries": 3,
//	  "coalesce_pending": true
//	}
//
// Primary API
//
//   - type Config                     — runtime settings for the CLI
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
