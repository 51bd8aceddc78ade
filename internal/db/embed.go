package db

import "embed"

// Migrations holds the goose migrations that create the engine schema and
// its security label table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const migrationsDir = "migrations"
