package storage

// ---------------------------------------------------------------------------
// Schema version
// ---------------------------------------------------------------------------

// SchemaVersion is the current database schema version.
const SchemaVersion = 2

// SchemaSQL creates the snapshot history table.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    id           TEXT PRIMARY KEY,
    incident_id  TEXT NOT NULL,
    version      INTEGER NOT NULL,
    node_count   INTEGER NOT NULL DEFAULT 0,
    edge_count   INTEGER NOT NULL DEFAULT 0,
    root_cause   TEXT,
    payload      TEXT NOT NULL,
    received_at  DATETIME NOT NULL,
    UNIQUE (incident_id, version)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_incident ON snapshots(incident_id, version DESC);
`

// ---------------------------------------------------------------------------
// Migration support
// ---------------------------------------------------------------------------

// Migration describes a single schema migration that can be applied to the
// database. Migrations are ordered by Version and are idempotent.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of all schema migrations.
// Apply them sequentially; skip any whose Version is already recorded
// in the schema_migrations table.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: snapshots",
		SQL:         SchemaSQL,
	},
	{
		Version:     2,
		Description: "Index snapshots by receive time for retention sweeps",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_snapshots_received ON snapshots(received_at);`,
	},
}
