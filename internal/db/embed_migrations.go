package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations: the tenant,
// user, session and audit tables with their row-level security policies.
// Used by the migrate runner (cmd/migrate) and the integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
