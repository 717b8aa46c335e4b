package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/audit"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, clubos.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, clubos.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, clubos.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, clubos.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, clubos.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, clubos.ErrCredential), errors.Is(err, clubos.ErrDispatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	// Security: Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req clubos.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		log.Printf("[WARN] Bad submit body from %s: %v", r.RemoteAddr, err)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.dispatcher.Submit(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	jobID := mux.Vars(r)["jobID"]
	if jobID == "" || len(jobID) > maxJobIDLength {
		s.incrementErrorCount()
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.dispatcher.Status(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()
	s.writeJSON(w, http.StatusOK, s.dispatcher.Jobs())
}

func (s *Server) handleActionCatalog(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()
	s.writeJSON(w, http.StatusOK, s.actions.All())
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()
	s.writeJSON(w, http.StatusOK, s.devices.Locations())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	query := r.URL.Query()
	filter := audit.Filter{
		Location: query.Get("location"),
		Action:   query.Get("action"),
	}

	if state := query.Get("state"); state != "" {
		if !knownJobState(state) {
			s.incrementErrorCount()
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state))
			return
		}
		filter.State = clubos.JobState(state)
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.incrementErrorCount()
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	s.writeJSON(w, http.StatusOK, s.audit.Records(filter))
}

func knownJobState(state string) bool {
	switch clubos.JobState(state) {
	case clubos.StateDispatched, clubos.StatePolling, clubos.StateCompleted,
		clubos.StateFailed, clubos.StateTimedOut:
		return true
	default:
		return false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()

	s.statsMu.RLock()
	requestCount := s.requestCount
	errorCount := s.errorCount
	s.statsMu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"mode":          s.mode,
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"jobs":          len(s.dispatcher.Jobs()),
		"audit_records": s.audit.Size(),
		"requests":      requestCount,
		"errors":        errorCount,
	})
}
