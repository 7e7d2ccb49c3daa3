package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Arvo-AI/aurora-sub002/internal/render"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// decodeSnapshot reads a JSON or YAML snapshot from the request body,
// chosen by Content-Type.
func decodeSnapshot(w http.ResponseWriter, r *http.Request) (*topology.Snapshot, error) {
	format := topology.FormatJSON
	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "yaml") {
		format = topology.FormatYAML
	}
	body := http.MaxBytesReader(w, r.Body, maxSnapshotBytes)
	snap, err := topology.Decode(body, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", topology.ErrInvalidSnapshot, err)
	}
	return snap, nil
}

// ---------------------------------------------------------------------------
// POST /api/incidents/{id}/snapshots
// ---------------------------------------------------------------------------

func (s *Server) handleSubmitSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := decodeSnapshot(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	st, err := s.manager.Submit(r.Context(), id, snap)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": st,
	})
}

// ---------------------------------------------------------------------------
// GET /api/incidents
// ---------------------------------------------------------------------------

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.Incidents(r.Context())
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  list,
		"total": len(list),
	})
}

// ---------------------------------------------------------------------------
// GET /api/incidents/{id}/topology[?format=table]
// ---------------------------------------------------------------------------

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "table" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, render.Table(st.Graph))
		return
	}
	stats := topology.NewIndex(st.Snapshot.Nodes, st.Snapshot.Edges).Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  st.Graph,
		"stats": stats,
	})
}

// ---------------------------------------------------------------------------
// GET /api/incidents/{id}/topology/dot
// ---------------------------------------------------------------------------

func (s *Server) handleTopologyDOT(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	out, err := render.DOT(st.Graph)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DOT_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ---------------------------------------------------------------------------
// GET /api/incidents/{id}/snapshots[?limit=N]
// ---------------------------------------------------------------------------

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.manager.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  recs,
		"total": len(recs),
	})
}

// ---------------------------------------------------------------------------
// GET /api/incidents/{id}/snapshots/{version}
// ---------------------------------------------------------------------------

func (s *Server) handleSnapshotVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.PathValue("version"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be an integer")
		return
	}

	st, err := s.manager.At(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": st.Graph,
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/incidents/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleClearIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Clear(r.Context(), id); err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"status":     "cleared",
			"incidentId": id,
		},
	})
}

// ---------------------------------------------------------------------------
// POST /api/layout
// ---------------------------------------------------------------------------

// handleLayout lays out a posted snapshot without storing it.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	snap, err := decodeSnapshot(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := snap.Check(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SNAPSHOT", err.Error())
		return
	}

	engine := s.manager.Engine()
	res, err := engine.Compute(r.Context(), snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LAYOUT_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": render.Build(snap, res, engine.Options()),
	})
}
