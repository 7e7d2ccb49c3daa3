// Package incident tracks the latest topology snapshot of every incident,
// lays it out, keeps its history and announces changes to subscribers.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Arvo-AI/aurora-sub002/internal/cache"
	"github.com/Arvo-AI/aurora-sub002/internal/events"
	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/render"
	"github.com/Arvo-AI/aurora-sub002/internal/storage"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

var (
	// ErrNotFound is returned for an incident (or version) with no stored
	// snapshot.
	ErrNotFound = errors.New("incident: not found")

	// ErrStaleSnapshot is returned when a snapshot's version is not newer
	// than the one already accepted for the incident.
	ErrStaleSnapshot = errors.New("incident: stale snapshot")
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType names a change announced on the event bus.
type EventType string

const (
	EventTopologyUpdated EventType = "topology_updated"
	EventTopologyCleared EventType = "topology_cleared"
	EventTopologyError   EventType = "topology_error"
)

// Event is published for every accepted snapshot, cleared incident and
// reported failure.
type Event struct {
	Type       EventType     `json:"type"`
	IncidentID string        `json:"incidentId"`
	Version    int64         `json:"version"`
	Graph      *render.Graph `json:"graph,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// Store persists snapshot history. *storage.Storage satisfies it.
type Store interface {
	SaveSnapshot(ctx context.Context, incidentID string, snap *topology.Snapshot) (*storage.SnapshotRecord, error)
	GetLatestSnapshot(ctx context.Context, incidentID string) (*storage.SnapshotRecord, error)
	GetSnapshot(ctx context.Context, incidentID string, version int64) (*storage.SnapshotRecord, error)
	ListSnapshots(ctx context.Context, incidentID string, limit int) ([]*storage.SnapshotRecord, error)
	ListIncidents(ctx context.Context) ([]storage.IncidentSummary, error)
	DeleteIncident(ctx context.Context, incidentID string) (int64, error)
	PruneSnapshots(ctx context.Context, incidentID string, keep int) (int64, error)
	Ping(ctx context.Context) error
}

// Archiver receives every accepted snapshot. *archive.Archiver satisfies it.
type Archiver interface {
	Enqueue(incidentID string, snap *topology.Snapshot) error
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// State is a laid-out snapshot ready to serve.
type State struct {
	IncidentID string             `json:"incidentId"`
	Version    int64              `json:"version"`
	Snapshot   *topology.Snapshot `json:"-"`
	Layout     *layout.Result     `json:"-"`
	Graph      render.Graph       `json:"graph"`
	ComputedAt time.Time          `json:"computedAt"`
}

// Config tunes the manager.
type Config struct {
	// HistoryLimit is the number of snapshots kept per incident; 0 keeps
	// everything.
	HistoryLimit int
	CacheSize    int
	CacheTTL     time.Duration
}

// Manager is safe for concurrent use.
type Manager struct {
	engine   *layout.Engine
	store    Store
	archiver Archiver
	bus      *events.Bus[Event]
	states   *cache.Store[string, *State]
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// mu serialises acceptance so version checks, writes and the update
	// event happen in version order.
	mu     sync.Mutex
	latest map[string]int64
	// gen is bumped by Clear; a Get that started before the bump must not
	// cache what it read.
	gen map[string]uint64
}

// NewManager wires a manager. archiver may be nil.
func NewManager(engine *layout.Engine, store Store, archiver Archiver, bus *events.Bus[Event], cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	states, err := cache.New[string, *State](cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("incident: create cache: %w", err)
	}
	return &Manager{
		engine:   engine,
		store:    store,
		archiver: archiver,
		bus:      bus,
		states:   states,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		latest:   make(map[string]int64),
		gen:      make(map[string]uint64),
	}, nil
}

// Events returns the bus topology changes are published on.
func (m *Manager) Events() *events.Bus[Event] { return m.bus }

// Engine returns the layout engine.
func (m *Manager) Engine() *layout.Engine { return m.engine }

// Ping reports whether the snapshot store is reachable.
func (m *Manager) Ping(ctx context.Context) error { return m.store.Ping(ctx) }

// CachedLayouts returns the number of incidents with a cached layout.
func (m *Manager) CachedLayouts() int { return m.states.Len() }

// Submit accepts snap as the newest snapshot of incidentID. Layout runs
// outside the lock; if a newer snapshot is accepted in the meantime the
// result is discarded and ErrStaleSnapshot returned.
func (m *Manager) Submit(ctx context.Context, incidentID string, snap *topology.Snapshot) (*State, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("%w: missing incident id", topology.ErrInvalidSnapshot)
	}
	if err := snap.Check(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	current, err := m.currentVersion(ctx, incidentID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if snap.Version <= current {
		return nil, fmt.Errorf("%w: incident %q v%d <= v%d", ErrStaleSnapshot, incidentID, snap.Version, current)
	}

	st, err := m.compute(ctx, incidentID, snap)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	current, err = m.currentVersion(ctx, incidentID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if snap.Version <= current {
		m.mu.Unlock()
		m.logger.Info("discarding superseded layout", "incident", incidentID, "version", snap.Version, "current", current)
		return nil, fmt.Errorf("%w: incident %q v%d superseded by v%d", ErrStaleSnapshot, incidentID, snap.Version, current)
	}
	if _, err := m.store.SaveSnapshot(ctx, incidentID, snap); err != nil {
		m.mu.Unlock()
		if errors.Is(err, storage.ErrDuplicateVersion) {
			return nil, fmt.Errorf("%w: %v", ErrStaleSnapshot, err)
		}
		return nil, fmt.Errorf("incident: persist snapshot: %w", err)
	}
	m.latest[incidentID] = snap.Version
	m.states.Put(incidentID, st)
	// Publish never blocks, so it stays under the lock and subscribers
	// see updates in version order.
	graph := st.Graph
	m.publish(Event{Type: EventTopologyUpdated, IncidentID: incidentID, Version: snap.Version, Graph: &graph})
	m.mu.Unlock()

	m.logger.Info("snapshot accepted",
		"incident", incidentID,
		"version", snap.Version,
		"nodes", len(st.Layout.Nodes),
		"edges", len(st.Layout.Edges),
		"diagnostics", len(st.Layout.Diagnostics),
	)

	if m.archiver != nil {
		if err := m.archiver.Enqueue(incidentID, snap); err != nil {
			m.logger.Warn("snapshot not archived", "incident", incidentID, "version", snap.Version, "error", err)
		}
	}
	if m.cfg.HistoryLimit > 0 {
		if n, err := m.store.PruneSnapshots(ctx, incidentID, m.cfg.HistoryLimit); err != nil {
			m.logger.Warn("prune snapshots failed", "incident", incidentID, "error", err)
		} else if n > 0 {
			m.logger.Debug("pruned snapshots", "incident", incidentID, "removed", n)
		}
	}
	return st, nil
}

// Get returns the latest laid-out snapshot. A missing or stale cache entry
// is rebuilt from storage.
func (m *Manager) Get(ctx context.Context, incidentID string) (*State, error) {
	if st, fresh, ok := m.states.Get(incidentID); ok && fresh {
		return st, nil
	}

	m.mu.Lock()
	gen := m.gen[incidentID]
	m.mu.Unlock()

	rec, err := m.store.GetLatestSnapshot(ctx, incidentID)
	if err != nil {
		return nil, m.mapStoreErr(err, incidentID)
	}
	st, err := m.compute(ctx, incidentID, rec.Snapshot)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	latest, known := m.latest[incidentID]
	if m.gen[incidentID] == gen && (!known || rec.Version >= latest) {
		m.latest[incidentID] = rec.Version
		m.states.Put(incidentID, st)
	}
	m.mu.Unlock()
	return st, nil
}

// At lays out a historical version. Historical layouts are not cached.
func (m *Manager) At(ctx context.Context, incidentID string, version int64) (*State, error) {
	rec, err := m.store.GetSnapshot(ctx, incidentID, version)
	if err != nil {
		return nil, m.mapStoreErr(err, incidentID)
	}
	return m.compute(ctx, incidentID, rec.Snapshot)
}

// History lists stored versions of incidentID, newest first.
func (m *Manager) History(ctx context.Context, incidentID string, limit int) ([]*storage.SnapshotRecord, error) {
	recs, err := m.store.ListSnapshots(ctx, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("incident: history: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	return recs, nil
}

// Incidents lists every incident with stored snapshots.
func (m *Manager) Incidents(ctx context.Context) ([]storage.IncidentSummary, error) {
	list, err := m.store.ListIncidents(ctx)
	if err != nil {
		return nil, fmt.Errorf("incident: list: %w", err)
	}
	if list == nil {
		list = []storage.IncidentSummary{}
	}
	return list, nil
}

// Clear forgets incidentID entirely.
func (m *Manager) Clear(ctx context.Context, incidentID string) error {
	m.mu.Lock()
	n, err := m.store.DeleteIncident(ctx, incidentID)
	if err == nil {
		delete(m.latest, incidentID)
		m.gen[incidentID]++
		m.states.Delete(incidentID)
		if n > 0 {
			m.publish(Event{Type: EventTopologyCleared, IncidentID: incidentID})
		}
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("incident: clear %q: %w", incidentID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	m.logger.Info("incident cleared", "incident", incidentID, "snapshots", n)
	return nil
}

// ReportFailure tells subscribers that a snapshot for incidentID could not
// be loaded, so they can show an error state instead of a stale graph.
func (m *Manager) ReportFailure(incidentID string, version int64, cause error) {
	m.logger.Error("topology load failed", "incident", incidentID, "version", version, "error", cause)
	g := render.Failed(version, cause)
	m.publish(Event{
		Type:       EventTopologyError,
		IncidentID: incidentID,
		Version:    version,
		Graph:      &g,
		Error:      cause.Error(),
	})
}

// ============================ INTERNALS ===================================

// currentVersion returns the newest accepted version, consulting storage
// the first time an incident is seen. -1 means none. Callers hold m.mu.
func (m *Manager) currentVersion(ctx context.Context, incidentID string) (int64, error) {
	if v, ok := m.latest[incidentID]; ok {
		return v, nil
	}
	rec, err := m.store.GetLatestSnapshot(ctx, incidentID)
	if errors.Is(err, storage.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incident: load latest %q: %w", incidentID, err)
	}
	m.latest[incidentID] = rec.Version
	return rec.Version, nil
}

func (m *Manager) compute(ctx context.Context, incidentID string, snap *topology.Snapshot) (*State, error) {
	res, err := m.engine.Compute(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("incident: layout %q: %w", incidentID, err)
	}
	return &State{
		IncidentID: incidentID,
		Version:    snap.Version,
		Snapshot:   snap,
		Layout:     res,
		Graph:      render.Build(snap, res, m.engine.Options()),
		ComputedAt: m.now().UTC(),
	}, nil
}

func (m *Manager) mapStoreErr(err error, incidentID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("incident: load %q: %w", incidentID, err)
}

func (m *Manager) publish(ev Event) {
	if m.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = m.now().UTC()
	}
	m.bus.Publish(ev)
}
