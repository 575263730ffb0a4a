// Package migrations embeds the local collection schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
