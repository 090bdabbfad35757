// Package migrations embeds the SQL migration files for the metromsg store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
