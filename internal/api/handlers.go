package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/tempo/internal/cache"
	"github.com/MikeSquared-Agency/tempo/internal/processor"
	"github.com/MikeSquared-Agency/tempo/internal/store"
)

// BulkRequest starts a bulk run. Empty SessionIDs selects all sessions for the mode.
type BulkRequest struct {
	Mode       string   `json:"mode"`
	SessionIDs []string `json:"session_ids,omitempty"`
}

// getSession handles GET /api/v1/sessions/{id}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := cache.SessionKey(id)

	var gen uint64
	if s.deps.Cache != nil {
		v, g, ok := s.deps.Cache.Get(key)
		if ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
		gen = g
	}

	detail, err := s.deps.Sessions.GetSessionDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	// A recompute that finished during the load makes detail stale; skip caching it.
	if s.deps.Cache != nil {
		s.deps.Cache.PutIfCurrent(key, gen, detail)
	}
	writeJSON(w, http.StatusOK, detail)
}

// processSession handles POST /api/v1/sessions/{id}/process?mode=core|full.
func (s *Server) processSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(processor.ModeCoreOnly)
	}
	mode, err := processor.ParseMode(modeParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Processor.Process(r.Context(), processor.Request{
		SessionID: id,
		Mode:      mode,
		Trigger:   processor.TriggerManual,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// bulkStatus handles GET /api/v1/bulk.
func (s *Server) bulkStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Bulk.Snapshot())
}

// startBulk handles POST /api/v1/bulk. The run continues after the response.
func (s *Server) startBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = string(processor.ModeCoreOnly)
	}
	mode, err := processor.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.deps.Bulk.Prepare(r.Context(), mode, req.SessionIDs)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	go func() {
		if _, err := s.deps.Bulk.Run(s.deps.Background); err != nil {
			s.logger.Error("bulk run failed to start", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"mode":     mode,
		"selected": n,
	})
}

// cancelBulk handles POST /api/v1/bulk/cancel.
func (s *Server) cancelBulk(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Bulk.Cancel(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Bulk.Snapshot())
}

// ackBulk handles POST /api/v1/bulk/ack.
func (s *Server) ackBulk(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Bulk.Acknowledge(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Bulk.Snapshot())
}

// syncStatus handles GET /api/v1/sync/{provider}.
func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sync.SyncStatus(chi.URLParam(r, "provider")))
}

func (s *Server) syncScan(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	s.syncAction(w, provider, s.deps.Sync.Scan(r.Context(), provider))
}

func (s *Server) syncStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	s.syncAction(w, provider, s.deps.Sync.Sync(r.Context(), provider))
}

func (s *Server) syncReset(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	s.syncAction(w, provider, s.deps.Sync.Reset(r.Context(), provider))
}

// syncAction replies with the tracked state; a failed call also carries its error.
func (s *Server) syncAction(w http.ResponseWriter, provider string, err error) {
	progress := s.deps.Sync.SyncStatus(provider)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "progress": progress})
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
