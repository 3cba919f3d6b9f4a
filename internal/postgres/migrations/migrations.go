// Package migrations embeds the goose-managed schema for every table the
// core's repositories query, so postgres.Migrate has a filesystem to run
// against without the caller wiring up its own embed directive.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
