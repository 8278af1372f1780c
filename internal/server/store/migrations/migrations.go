// Package migrations embeds the goose migrations for the Postgres store
// backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
