package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the ledger schema, applied by `migrate` and on `start`.
var Migrations = migrate.NewMigrations()
