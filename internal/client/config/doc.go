// Package config loads runtime configuration for the messaging CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the message server
//	-t int      dial timeout (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for the timeout, so values can be
// either strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_addr": "127.0.0.1:6070",
//	  "dial_timeout": "3s"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
