package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateVersion is returned when an incident already has a snapshot
// with the same version.
var ErrDuplicateVersion = errors.New("storage: duplicate version")

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// SnapshotRecord is one stored snapshot with its bookkeeping columns.
type SnapshotRecord struct {
	ID         string             `json:"id"`
	IncidentID string             `json:"incidentId"`
	Version    int64              `json:"version"`
	NodeCount  int                `json:"nodeCount"`
	EdgeCount  int                `json:"edgeCount"`
	RootCause  string             `json:"rootCauseId,omitempty"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Snapshot   *topology.Snapshot `json:"snapshot,omitempty"`
}

// IncidentSummary describes the stored history of one incident.
type IncidentSummary struct {
	IncidentID    string    `json:"incidentId"`
	LatestVersion int64     `json:"latestVersion"`
	Snapshots     int       `json:"snapshots"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// Storage is a thread-safe wrapper around a SQLite database that keeps the
// snapshot history of every incident. Layouts are never stored; they are
// recomputed from snapshots.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// ============================= LIFECYCLE ==================================

// New opens (or creates) the SQLite database at dbPath, applies the
// recommended PRAGMAs, runs any pending migrations and returns a ready
// *Storage.
func New(dbPath string) (*Storage, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open db %q: %w", dbPath, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &Storage{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// ============================ MIGRATIONS ==================================

// migrate ensures the schema_migrations table exists, then applies every
// unapplied Migration from the package-level Migrations slice.
func (s *Storage) migrate() error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := s.db.Exec(createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// AppliedVersion returns the highest applied migration version.
func (s *Storage) AppliedVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("storage: applied version: %w", err)
	}
	return int(v.Int64), nil
}

// ======================== SNAPSHOT OPERATIONS =============================

// SaveSnapshot stores snap as the given incident's snapshot for its
// version. A second snapshot with the same version fails with
// ErrDuplicateVersion.
func (s *Storage) SaveSnapshot(ctx context.Context, incidentID string, snap *topology.Snapshot) (*SnapshotRecord, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal snapshot: %w", err)
	}

	rec := &SnapshotRecord{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Version:    snap.Version,
		NodeCount:  len(snap.Nodes),
		EdgeCount:  len(snap.Edges),
		RootCause:  snap.RootCauseID,
		ReceivedAt: time.Now().UTC(),
		Snapshot:   snap,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `INSERT INTO snapshots
		(id, incident_id, version, node_count, edge_count, root_cause, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.IncidentID, rec.Version, rec.NodeCount, rec.EdgeCount,
		rec.RootCause, string(payload), rec.ReceivedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: incident %q v%d", ErrDuplicateVersion, incidentID, snap.Version)
		}
		return nil, fmt.Errorf("storage: save snapshot %q v%d: %w", incidentID, snap.Version, err)
	}
	return rec, nil
}

const snapshotColumns = `id, incident_id, version, node_count, edge_count, root_cause, payload, received_at`

// scanSnapshot is a shared helper that scans one row, decoding the payload
// when withPayload is set.
func scanSnapshot(row interface{ Scan(...any) error }, withPayload bool) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{}
	var rootCause sql.NullString
	var payload string
	if err := row.Scan(
		&rec.ID, &rec.IncidentID, &rec.Version, &rec.NodeCount, &rec.EdgeCount,
		&rootCause, &payload, &rec.ReceivedAt,
	); err != nil {
		return nil, err
	}
	rec.RootCause = rootCause.String
	if withPayload {
		var snap topology.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("storage: unmarshal snapshot %q: %w", rec.ID, err)
		}
		rec.Snapshot = &snap
	}
	return rec, nil
}

// GetLatestSnapshot returns the highest-version snapshot for incidentID.
func (s *Storage) GetLatestSnapshot(ctx context.Context, incidentID string) (*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE incident_id = ? ORDER BY version DESC LIMIT 1`
	rec, err := scanSnapshot(s.db.QueryRowContext(ctx, q, incidentID), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: incident %q", ErrNotFound, incidentID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest snapshot %q: %w", incidentID, err)
	}
	return rec, nil
}

// GetSnapshot returns a specific version of an incident's snapshot.
func (s *Storage) GetSnapshot(ctx context.Context, incidentID string, version int64) (*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE incident_id = ? AND version = ?`
	rec, err := scanSnapshot(s.db.QueryRowContext(ctx, q, incidentID, version), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: incident %q v%d", ErrNotFound, incidentID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get snapshot %q v%d: %w", incidentID, version, err)
	}
	return rec, nil
}

// ListSnapshots returns the history of an incident, newest first, without
// payloads. limit <= 0 means no limit.
func (s *Storage) ListSnapshots(ctx context.Context, incidentID string, limit int) ([]*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE incident_id = ? ORDER BY version DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots %q: %w", incidentID, err)
	}
	defer rows.Close()

	var result []*SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows, false)
		if err != nil {
			return nil, fmt.Errorf("storage: scan snapshot row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ListIncidents summarises every incident with stored snapshots, most
// recently updated first.
func (s *Storage) ListIncidents(ctx context.Context) ([]IncidentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const q = `SELECT incident_id, MAX(version), COUNT(*), MAX(received_at)
		FROM snapshots GROUP BY incident_id ORDER BY MAX(received_at) DESC, incident_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list incidents: %w", err)
	}
	defer rows.Close()

	var result []IncidentSummary
	for rows.Next() {
		var sum IncidentSummary
		var updated string
		if err := rows.Scan(&sum.IncidentID, &sum.LatestVersion, &sum.Snapshots, &updated); err != nil {
			return nil, fmt.Errorf("storage: scan incident row: %w", err)
		}
		sum.UpdatedAt = parseTime(updated)
		result = append(result, sum)
	}
	return result, rows.Err()
}

// DeleteIncident removes every snapshot of incidentID and reports how many
// rows were removed.
func (s *Storage) DeleteIncident(ctx context.Context, incidentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE incident_id = ?", incidentID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete incident %q: %w", incidentID, err)
	}
	return res.RowsAffected()
}

// PruneSnapshots keeps the newest keep snapshots of incidentID and deletes
// the rest.
func (s *Storage) PruneSnapshots(ctx context.Context, incidentID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `DELETE FROM snapshots WHERE incident_id = ? AND version NOT IN (
		SELECT version FROM snapshots WHERE incident_id = ? ORDER BY version DESC LIMIT ?
	)`
	res, err := s.db.ExecContext(ctx, q, incidentID, incidentID, keep)
	if err != nil {
		return 0, fmt.Errorf("storage: prune snapshots %q: %w", incidentID, err)
	}
	return res.RowsAffected()
}

// parseTime handles the textual timestamp formats SQLite aggregates return.
func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
