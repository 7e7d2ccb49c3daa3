package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/Arvo-AI/aurora-sub002/internal/incident"
	"github.com/Arvo-AI/aurora-sub002/internal/ingest"
)

type watchRequest struct {
	FilePath  string `json:"filePath"`
	FromStart bool   `json:"fromStart"`
}

// ---------------------------------------------------------------------------
// POST /api/ingest/watch: start tailing a snapshot feed
// ---------------------------------------------------------------------------

func (s *Server) handleWatchStart(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON",
			"invalid request body: "+err.Error())
		return
	}

	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FILE_PATH",
			"filePath is required")
		return
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "FILE_NOT_FOUND",
			"file not found or not accessible: "+err.Error())
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, "NOT_A_FILE",
			"path is a directory, not a file")
		return
	}

	tailer, err := s.StartWatch(req.FilePath, req.FromStart)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TAILER_START_ERROR",
			"failed to start feed tailer: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"status": "watching",
			"file":   tailer.FilePath(),
		},
	})
}

// StartWatch replaces the active feed tailer with one following filePath.
// Records go through the same Submit path as HTTP pushes.
func (s *Server) StartWatch(filePath string, fromStart bool) (*ingest.Tailer, error) {
	s.stopActiveTailer()

	ingestor := ingest.NewIngestor(func(ctx context.Context, rec ingest.Record) error {
		_, err := s.manager.Submit(ctx, rec.IncidentID, rec.Snapshot)
		return err
	})

	opts := []ingest.TailerOption{
		ingest.WithLogger(s.logger),
		ingest.OnFailure(s.reportFeedFailure),
	}
	if fromStart {
		opts = append(opts, ingest.FromStart())
	}
	tailer := ingest.NewTailer(filePath, ingestor, opts...)

	// The tailer must outlive the request that started it.
	if err := tailer.Start(s.ctx); err != nil {
		return nil, err
	}

	s.tailerMu.Lock()
	s.activeTailer = tailer
	s.tailerMu.Unlock()

	s.logger.Info("feed watch started", "file", filePath)
	return tailer, nil
}

// reportFeedFailure surfaces rejected feed records to stream clients. Stale
// versions are expected when a feed is replayed and are not reported.
func (s *Server) reportFeedFailure(rec ingest.Record, err error) {
	if errors.Is(err, incident.ErrStaleSnapshot) || rec.IncidentID == "" {
		return
	}
	var version int64
	if rec.Snapshot != nil {
		version = rec.Snapshot.Version
	}
	s.manager.ReportFailure(rec.IncidentID, version, err)
}

// ---------------------------------------------------------------------------
// DELETE /api/ingest/watch: stop tailing
// ---------------------------------------------------------------------------

func (s *Server) handleWatchStop(w http.ResponseWriter, r *http.Request) {
	s.stopActiveTailer()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"status": "stopped",
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/ingest/watch: get tailer status
// ---------------------------------------------------------------------------

func (s *Server) handleWatchStatus(w http.ResponseWriter, r *http.Request) {
	s.tailerMu.Lock()
	tailer := s.activeTailer
	s.tailerMu.Unlock()

	if tailer == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"active": false,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": tailer.Status(),
	})
}

// stopActiveTailer stops and clears the current tailer, if any.
func (s *Server) stopActiveTailer() {
	s.tailerMu.Lock()
	tailer := s.activeTailer
	s.activeTailer = nil
	s.tailerMu.Unlock()

	if tailer != nil {
		tailer.Stop()
		s.logger.Info("feed watch stopped", "file", tailer.FilePath())
	}
}
