package config

import "time"

// Config holds runtime settings for the fleet registry CLI.
//
// Fields:
//   - ServerBaseURL: base URL of the registry backend (scheme://host:port).
//   - DatabasePath: path of the local SQLite cache file.
//   - TokenFile: optional file holding the bearer token as-is;
//     when empty the session starts unauthenticated and the token is asked
//     for interactively.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - ProbeTimeout: per-probe deadline.
//   - ListRetries: extra attempts for full-collection downloads.
//   - CoalescePending: collapse repeated offline edits of one record into a
//     single pending mutation.
type Config struct {
	ServerBaseURL       string
	DatabasePath        string
	TokenFile           string
	OnlineCheckInterval time.Duration
	ProbeTimeout        time.Duration
	ListRetries         int
	CoalescePending     bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "fleetsync.db"
	c.TokenFile = ""
	c.OnlineCheckInterval = 3 * time.Second
	c.ProbeTimeout = 2 * time.Second
	c.ListRetries = 3
	c.CoalescePending = true
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
