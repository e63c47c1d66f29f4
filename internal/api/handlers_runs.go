package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/gdocs"
	"github.com/go-chi/chi/v5"
)

type submitRunRequest struct {
	Document string `json:"document"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	ref := strings.TrimSpace(req.Document)
	if ref == "" {
		ref = s.cfg.DocumentRef
	}
	if ref == "" {
		jsonError(w, "document is required", http.StatusBadRequest)
		return
	}
	// Reject malformed references before they take a queue slot.
	if _, err := gdocs.ResolveDocumentID(ref); err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			jsonError(w, cerr.Problem, http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.orchestrator.Submit(ref)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := run.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   snap.ID,
		"document": snap.DocumentRef,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/runs/%s", snap.ID),
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run := s.orchestrator.GetRun(runID)
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}
