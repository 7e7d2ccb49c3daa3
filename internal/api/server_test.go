package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arvo-AI/aurora-sub002/internal/archive"
	"github.com/Arvo-AI/aurora-sub002/internal/events"
	"github.com/Arvo-AI/aurora-sub002/internal/incident"
	"github.com/Arvo-AI/aurora-sub002/internal/layout"
	"github.com/Arvo-AI/aurora-sub002/internal/render"
	"github.com/Arvo-AI/aurora-sub002/internal/storage"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	store   *storage.Storage
	manager *incident.Manager
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus[incident.Event](16, nil)
	m, err := incident.NewManager(layout.NewEngine(layout.DefaultOptions(), nil, nil), store, nil, bus, incident.Config{}, nil)
	require.NoError(t, err)

	srv := NewServer(m, cfg, nil)
	srv.RegisterRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &testEnv{srv: srv, ts: ts, store: store, manager: m}
}

const incidentSnapshot = `{
  "version": %d,
  "nodes": [
    {"id": "db", "type": "database", "label": "orders-db", "status": "failed"},
    {"id": "api", "type": "deployment", "label": "api", "status": "degraded"},
    {"id": "api-pod", "type": "pod", "label": "api-7f9", "status": "degraded", "parentId": "api"}
  ],
  "edges": [
    {"source": "db", "target": "api", "type": "causation"}
  ],
  "rootCauseId": "db"
}`

func snapshotBody(version int) string {
	return strings.Replace(incidentSnapshot, "%d", strconv.Itoa(version), 1)
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) submit(t *testing.T, id string, version int) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/incidents/"+id+"/snapshots", "application/json", snapshotBody(version))
}

func decodeData(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	code, _ := body["code"].(string)
	return code
}

type fixedArchive struct{ stats archive.Stats }

func (a fixedArchive) Stats() archive.Stats { return a.stats }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["cachedLayouts"])
	assert.NotContains(t, body, "archive")

	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)
	resp = env.do(t, http.MethodGet, "/health", "", "")
	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["cachedLayouts"])
}

func TestHealthReportsArchive(t *testing.T) {
	env := newTestEnv(t, Config{Archive: fixedArchive{stats: archive.Stats{Uploaded: 3, Failed: 1}}})
	resp := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Archive archive.Stats `json:"archive"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(3), body.Archive.Uploaded)
	assert.Equal(t, int64(1), body.Archive.Failed)
}

func TestHealthStorageDown(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, env.store.Close())

	resp := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/incidents", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "STORAGE_UNAVAILABLE", errorCode(t, resp))
}

func TestSubmitAndFetchTopology(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.submit(t, "inc-1", 1)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/incidents/inc-1/topology", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var g render.Graph
	decodeData(t, resp, &g)
	assert.Equal(t, int64(1), g.Version)
	assert.Equal(t, render.StateReady, g.State)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, "db", g.RootCauseID)
	require.Len(t, g.Edges, 1)
	assert.True(t, g.Edges[0].Animated)

	resp = env.do(t, http.MethodGet, "/api/incidents/inc-1/topology", "", "")
	var withStats struct {
		Stats topology.IndexStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&withStats))
	assert.Equal(t, 3, withStats.Stats.TotalNodes)
	assert.Equal(t, 1, withStats.Stats.Groups)
	assert.Equal(t, 1, withStats.Stats.EdgesByType["causation"])

	resp = env.do(t, http.MethodGet, "/api/incidents", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []storage.IncidentSummary
	decodeData(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "inc-1", list[0].IncidentID)
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 5).StatusCode)

	resp := env.submit(t, "inc-1", 4)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "STALE_SNAPSHOT", errorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/api/incidents/inc-1/snapshots", "application/json", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/incidents/inc-1/snapshots", "application/json", `{"version":9,"nodes":[{"id":""}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_SNAPSHOT", errorCode(t, resp))

	resp = env.do(t, http.MethodGet, "/api/incidents/missing/topology", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitYAML(t *testing.T) {
	env := newTestEnv(t, Config{})
	body := `
version: 2
nodes:
  - id: lb
    type: loadbalancer
    label: edge-lb
    status: healthy
  - id: svc
    type: service
    label: checkout
    status: investigating
edges:
  - source: lb
    target: svc
`
	resp := env.do(t, http.MethodPost, "/api/incidents/inc-y/snapshots", "application/yaml", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/incidents/inc-y/topology", "", "")
	var g render.Graph
	decodeData(t, resp, &g)
	assert.Len(t, g.Nodes, 2)
}

func TestHistoryAndVersions(t *testing.T) {
	env := newTestEnv(t, Config{})
	for v := 1; v <= 3; v++ {
		require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", v).StatusCode)
	}

	resp := env.do(t, http.MethodGet, "/api/incidents/inc-1/snapshots?limit=2", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []storage.SnapshotRecord
	decodeData(t, resp, &hist)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(3), hist[0].Version)

	resp = env.do(t, http.MethodGet, "/api/incidents/inc-1/snapshots/2", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var g render.Graph
	decodeData(t, resp, &g)
	assert.Equal(t, int64(2), g.Version)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/incidents/inc-1/snapshots/two", "", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/incidents/inc-1/snapshots?limit=-1", "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/incidents/inc-1/snapshots/9", "", "").StatusCode)
}

func TestTopologyExports(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)

	resp := env.do(t, http.MethodGet, "/api/incidents/inc-1/topology/dot", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "graphviz")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "digraph")

	resp = env.do(t, http.MethodGet, "/api/incidents/inc-1/topology?format=table", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "api-pod")
}

func TestClearIncident(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/incidents/inc-1", "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/incidents/inc-1/topology", "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/incidents/inc-1", "", "").StatusCode)
}

func TestStatelessLayout(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/layout", "application/json", snapshotBody(4))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var g render.Graph
	decodeData(t, resp, &g)
	assert.Equal(t, int64(4), g.Version)
	assert.Len(t, g.Nodes, 3)

	list, err := env.manager.Incidents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "layout endpoint stores nothing")

	resp = env.do(t, http.MethodPost, "/api/layout", "application/json", `{"version":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, Config{IngestRate: 0.001, IngestBurst: 1})

	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)
	resp := env.submit(t, "inc-1", 2)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{})
	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/incidents", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSSEStreamsTopologyEvents(t *testing.T) {
	env := newTestEnv(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/events?incident=inc-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.manager.Events().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, http.StatusCreated, env.submit(t, "other", 1).StatusCode)
	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: topology_updated\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var ev incident.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "inc-1", ev.IncidentID, "filtered to the requested incident")
	require.NotNil(t, ev.Graph)
	assert.Len(t, ev.Graph.Nodes, 3)
}

func TestWebsocketStreamAndDrag(t *testing.T) {
	env := newTestEnv(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/incidents/inc-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgTopology, msg.Type)
	require.NotNil(t, msg.Graph)
	assert.Equal(t, render.StateEmpty, msg.Graph.State)

	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 1).StatusCode)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgTopology, msg.Type)
	require.NotNil(t, msg.Graph)
	assert.Equal(t, int64(1), msg.Graph.Version)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgMove, Node: "db", Position: layout.Position{X: 500, Y: 500}}))
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgMoved, msg.Type)
	assert.Equal(t, "db", msg.Node)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgMove, Node: "ghost"}))
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgError, msg.Type)

	// A new snapshot discards the drag.
	require.Equal(t, http.StatusCreated, env.submit(t, "inc-1", 2).StatusCode)
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Graph)
	for _, n := range msg.Graph.Nodes {
		if n.ID == "db" {
			assert.NotEqual(t, layout.Position{X: 500, Y: 500}, n.Position)
		}
	}
}

func TestWatchFeed(t *testing.T) {
	env := newTestEnv(t, Config{})

	feed := filepath.Join(t.TempDir(), "feed.ndjson")
	var buf bytes.Buffer
	for v := 1; v <= 2; v++ {
		var snap map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(snapshotBody(v)), &snap))
		line, err := json.Marshal(map[string]interface{}{"incidentId": "inc-feed", "snapshot": snap})
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(feed, buf.Bytes(), 0o644))

	resp := env.do(t, http.MethodPost, "/api/ingest/watch", "application/json",
		`{"filePath":"`+feed+`","fromStart":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		st, err := env.manager.Get(context.Background(), "inc-feed")
		return err == nil && st.Version == 2
	}, 3*time.Second, 20*time.Millisecond)

	var status struct {
		Active   bool  `json:"active"`
		Accepted int64 `json:"accepted"`
	}
	require.Eventually(t, func() bool {
		resp := env.do(t, http.MethodGet, "/api/ingest/watch", "", "")
		decodeData(t, resp, &status)
		return status.Active && status.Accepted == 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/ingest/watch", "", "").StatusCode)
	resp = env.do(t, http.MethodGet, "/api/ingest/watch", "", "")
	decodeData(t, resp, &status)
	assert.False(t, status.Active)

	resp = env.do(t, http.MethodPost, "/api/ingest/watch", "application/json", `{"filePath":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
