// Package migrations embeds the sqlite schema migration files so the binary
// can migrate its own database on startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
