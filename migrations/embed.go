// Package migrations embeds the readings schema into the binary.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS that database.Migrate should read.
const Dir = "."
