package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/postbox/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   TCP bind address (e.g., ":6070")
//	-d string   PostgreSQL DSN; selects the SQL store when non-empty
//	-f string   filesystem store root directory
//	-q int      pending-connection queue capacity
//	-w int      worker pool size
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-f", "-q", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.BindAddr, "a", config.BindAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "filesystem store root")
	fs.IntVar(&config.QueueSize, "q", config.QueueSize, "connection queue capacity")
	fs.IntVar(&config.Workers, "w", config.Workers, "worker pool size")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
