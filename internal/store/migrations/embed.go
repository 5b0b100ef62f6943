// Package migrations embeds the SQL schema migrations for huddle.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
