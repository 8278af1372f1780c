package config

import "time"

// Config holds runtime settings for the messaging CLI.
//
// Fields:
//   - ServerAddr: host:port of the message server.
//   - DialTimeout: how long to wait when connecting to the server or to
//     the local listener.
type Config struct {
	ServerAddr  string
	DialTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:6070"
	c.DialTimeout = 3 * time.Second
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
