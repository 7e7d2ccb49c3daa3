package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "topology.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snap(version int64, ids ...string) *topology.Snapshot {
	s := &topology.Snapshot{Version: version}
	for _, id := range ids {
		s.Nodes = append(s.Nodes, topology.Node{ID: id, Type: "pod", Label: id, Status: topology.StatusHealthy})
	}
	if len(ids) > 1 {
		s.Edges = append(s.Edges, topology.Edge{Source: ids[0], Target: ids[1], Type: topology.EdgeTypeCausation})
		s.RootCauseID = ids[0]
	}
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := newTestStorage(t)
	v, err := s.AppliedVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.db")
	s, err := New(path)
	require.NoError(t, err)
	_, err = s.SaveSnapshot(context.Background(), "inc-1", snap(1, "a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetLatestSnapshot(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
}

func TestSaveAndGetSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	rec, err := s.SaveSnapshot(ctx, "inc-1", snap(1, "db", "api"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 2, rec.NodeCount)
	assert.Equal(t, 1, rec.EdgeCount)

	_, err = s.SaveSnapshot(ctx, "inc-1", snap(3, "db", "api", "cache"))
	require.NoError(t, err)

	latest, err := s.GetLatestSnapshot(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	require.NotNil(t, latest.Snapshot)
	assert.Len(t, latest.Snapshot.Nodes, 3)
	assert.Equal(t, "db", latest.RootCause)
	assert.Equal(t, "db", latest.Snapshot.RootCauseID)
	assert.False(t, latest.ReceivedAt.IsZero())

	first, err := s.GetSnapshot(ctx, "inc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, topology.EdgeTypeCausation, first.Snapshot.Edges[0].Type)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.GetLatestSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSnapshot(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.SaveSnapshot(ctx, "inc-1", snap(2, "a"))
	require.NoError(t, err)
	_, err = s.SaveSnapshot(ctx, "inc-1", snap(2, "b"))
	assert.ErrorIs(t, err, ErrDuplicateVersion)

	// Same version on another incident is fine.
	_, err = s.SaveSnapshot(ctx, "inc-2", snap(2, "b"))
	assert.NoError(t, err)
}

func TestListSnapshotsAndIncidents(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for v := int64(1); v <= 4; v++ {
		_, err := s.SaveSnapshot(ctx, "inc-1", snap(v, "a"))
		require.NoError(t, err)
	}
	_, err := s.SaveSnapshot(ctx, "inc-2", snap(9, "x"))
	require.NoError(t, err)

	hist, err := s.ListSnapshots(ctx, "inc-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, int64(4), hist[0].Version)
	assert.Nil(t, hist[0].Snapshot, "history omits payloads")

	limited, err := s.ListSnapshots(ctx, "inc-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	incidents, err := s.ListIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	byID := map[string]IncidentSummary{}
	for _, inc := range incidents {
		byID[inc.IncidentID] = inc
	}
	assert.Equal(t, int64(4), byID["inc-1"].LatestVersion)
	assert.Equal(t, 4, byID["inc-1"].Snapshots)
	assert.Equal(t, int64(9), byID["inc-2"].LatestVersion)
}

func TestPruneAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for v := int64(1); v <= 5; v++ {
		_, err := s.SaveSnapshot(ctx, "inc-1", snap(v, "a"))
		require.NoError(t, err)
	}

	n, err := s.PruneSnapshots(ctx, "inc-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	hist, err := s.ListSnapshots(ctx, "inc-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(5), hist[0].Version)
	assert.Equal(t, int64(4), hist[1].Version)

	n, err = s.PruneSnapshots(ctx, "inc-1", 0)
	require.NoError(t, err)
	assert.Zero(t, n, "keep <= 0 disables pruning")

	n, err = s.DeleteIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = s.GetLatestSnapshot(ctx, "inc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
