package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/postbox/internal/flagx"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into the
// runtime Config struct.
type JsonConfig struct {
	BindAddr    string `json:"bind_addr"`
	DatabaseDSN string `json:"database_dsn"`
	DataDir     string `json:"data_dir"`
	QueueSize   int    `json:"queue_size"`
	Workers     int    `json:"workers"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.BindAddr = c.BindAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.DataDir = c.DataDir
	config.QueueSize = c.QueueSize
	config.Workers = c.Workers
}
