// Package migrations embeds the SiteWatch SQL schema into the binary.
package migrations

import "embed"

// FS holds the NNNN_name.sql migration files, applied by database.Migrate.
//
//go:embed *.sql
var FS embed.FS
