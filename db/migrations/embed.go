// Package dbmigrations exposes embedded SQL migrations for carte binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into carte binaries.
//
//go:embed *.sql
var Files embed.FS
