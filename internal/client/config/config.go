// Package config handles configuration for the client component: defaults,
// optional JSON overlay, then command-line flags, in that order.
package config

import "time"

// Config holds runtime settings for the session client.
//
// Fields:
//   - ServerURL: base URL of the auth server.
//   - IdleFraction: fraction of the access-token window after which an idle
//     session is logged out. Outside (0,1] the idle timer is disabled.
//   - RefreshFraction: the proactive refresh fires when this fraction of the
//     window remains. Outside (0,1] the refresh timer is disabled.
//   - RequestTimeout: per-call HTTP timeout.
type Config struct {
	ServerURL       string
	IdleFraction    float64
	RefreshFraction float64
	RequestTimeout  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.IdleFraction = 1.0
	c.RefreshFraction = 0.1
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
