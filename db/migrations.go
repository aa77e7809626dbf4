// Package db embeds the goose migrations so binaries and tests can apply
// the schema without a checkout.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"
