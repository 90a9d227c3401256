package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cisco-netmig/script-push-board/internal/dispatch"
	"github.com/cisco-netmig/script-push-board/internal/job"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Counters:      s.batches.Counters(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSubmitBatch handles POST /api/v1/batches.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	specs := make([]job.Spec, 0, len(req.Jobs))
	for _, sj := range req.Jobs {
		selected := true
		if sj.Selected != nil {
			selected = *sj.Selected
		}
		specs = append(specs, job.Spec{
			Target:   sj.Target,
			Payload:  sj.Payload,
			Selected: selected,
		})
	}

	handle, err := s.batches.Submit(specs)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidBatch) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("batch submit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	s.writeJSON(w, http.StatusAccepted, SubmitResponse{BatchID: handle, Jobs: len(specs)})
}

// handleBatchStatus handles GET /api/v1/batches/{batchID}.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "batchID")

	snap, err := s.batches.Status(handle)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownBatch) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("batch status failed", "batch_id", handle, "error", err)
		s.writeError(w, http.StatusInternalServerError, "status failed")
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// handleAbortBatch handles POST /api/v1/batches/{batchID}/abort.
func (s *Server) handleAbortBatch(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "batchID")

	if err := s.batches.Abort(handle); err != nil {
		if errors.Is(err, dispatch.ErrUnknownBatch) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("batch abort failed", "batch_id", handle, "error", err)
		s.writeError(w, http.StatusInternalServerError, "abort failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
