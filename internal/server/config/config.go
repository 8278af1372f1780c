// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

// Config holds runtime settings for the message server.
//
// Fields:
//   - BindAddr: TCP address clients send requests to.
//   - DatabaseDSN: PostgreSQL DSN (pgx). When set, user records and pending
//     messages live in Postgres instead of the filesystem.
//   - DataDir: root directory of the filesystem store.
//   - QueueSize: capacity of the pending-connection queue.
//   - Workers: number of goroutines serving queued connections.
type Config struct {
	BindAddr    string
	DatabaseDSN string
	DataDir     string
	QueueSize   int
	Workers     int
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.BindAddr = ":6070"
	c.DatabaseDSN = ""
	c.DataDir = "users"
	c.QueueSize = 10
	c.Workers = 5
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
