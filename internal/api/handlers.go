package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/policy"
	"github.com/pruner-io/pruner/internal/tuning"
)

// ----------------------------------------------------------------------
// Studies
// ----------------------------------------------------------------------

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var study domain.Study
	if err := decode(r, &study); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.CreateStudy(r.Context(), &study); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, study)
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	studies, err := s.svc.ListStudies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, studies)
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	study, err := s.svc.GetStudy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, study)
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteStudy(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStudyState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State domain.StudyState `json:"state"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.svc.SetStudyState(r.Context(), id, req.State); err != nil {
		writeError(w, err)
		return
	}
	study, err := s.svc.GetStudy(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, study)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.svc.ListOperations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// ----------------------------------------------------------------------
// Trials
// ----------------------------------------------------------------------

func (s *Server) handleCreateTrial(w http.ResponseWriter, r *http.Request) {
	var trial domain.Trial
	if err := decode(r, &trial); err != nil {
		writeError(w, err)
		return
	}
	trial.StudyID = r.PathValue("id")
	if err := s.svc.CreateTrial(r.Context(), &trial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trial)
}

func (s *Server) handleListTrials(w http.ResponseWriter, r *http.Request) {
	var states []domain.TrialState
	for _, raw := range r.URL.Query()["state"] {
		states = append(states, domain.TrialState(raw))
	}
	trials, err := s.svc.ListTrials(r.Context(), r.PathValue("id"), states...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trials)
}

func (s *Server) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	trialID, err := pathTrialID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	trial, err := s.svc.GetTrial(r.Context(), r.PathValue("id"), trialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}

func (s *Server) handleAddMeasurement(w http.ResponseWriter, r *http.Request) {
	trialID, err := pathTrialID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var m domain.Measurement
	if err := decode(r, &m); err != nil {
		writeError(w, err)
		return
	}
	trial, err := s.svc.AddMeasurement(r.Context(), r.PathValue("id"), trialID, m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}

func (s *Server) handleCompleteTrial(w http.ResponseWriter, r *http.Request) {
	trialID, err := pathTrialID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		State  domain.TrialState   `json:"state"`
		Final  *domain.Measurement `json:"final,omitempty"`
		Reason string              `json:"reason,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.State == "" {
		req.State = domain.TrialSucceeded
	}
	trial, err := s.svc.CompleteTrial(r.Context(), r.PathValue("id"), trialID, req.State, req.Final, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}

func (s *Server) handleStopTrial(w http.ResponseWriter, r *http.Request) {
	trialID, err := pathTrialID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	trial, err := s.svc.StopTrial(r.Context(), r.PathValue("id"), trialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}

func (s *Server) handleSuggestTrials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count    int    `json:"count"`
		ClientID string `json:"client_id,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	trials, err := s.svc.SuggestTrials(r.Context(), policy.SuggestRequest{
		StudyID:  r.PathValue("id"),
		Count:    req.Count,
		ClientID: req.ClientID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trials)
}

func (s *Server) handleCheckStopping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrialIDs     []int64 `json:"trial_ids,omitempty"`
		CheckpointNS string  `json:"checkpoint_ns,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	op, err := s.svc.CheckStopping(r.Context(), domain.StopRequest{
		StudyID:      r.PathValue("id"),
		TrialIDs:     req.TrialIDs,
		CheckpointNS: req.CheckpointNS,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ----------------------------------------------------------------------
// Health
// ----------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	status := http.StatusOK
	if report.Status == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// ----------------------------------------------------------------------
// Plumbing
// ----------------------------------------------------------------------

// errBadRequest marks malformed input that never reached the service.
var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathTrialID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("tid"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid trial id %q", errBadRequest, r.PathValue("tid"))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrStudyNotFound),
		errors.Is(err, storage.ErrTrialNotFound),
		errors.Is(err, storage.ErrOperationNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStudyExists),
		errors.Is(err, storage.ErrStateConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, tuning.ErrStudyNotActive),
		errors.Is(err, tuning.ErrEvaluationInFlight):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, tuning.ErrInvalidStudy),
		errors.Is(err, tuning.ErrInvalidTrial),
		errors.Is(err, tuning.ErrInvalidMeasurement),
		errors.Is(err, policy.ErrUnknownPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
