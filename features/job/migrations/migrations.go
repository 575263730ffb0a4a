// Package migrations embeds the failed job log schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
