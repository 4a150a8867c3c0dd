// Package migrations holds the PostgreSQL schema for the rule store.
package migrations

import "embed"

// FS contains the golang-migrate SQL files.
//
//go:embed *.sql
var FS embed.FS
