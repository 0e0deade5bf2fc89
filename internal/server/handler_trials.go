package server

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/gotune/pkg/model"
)

// reportRequest is the body of POST /trials/{id}/reports. A pointer and a
// raw message tell a missing field from a zero value. A null metric stands
// for NaN, which JSON cannot carry.
type reportRequest struct {
	Resource *int            `json:"resource"`
	Metric   json.RawMessage `json:"metric"`
}

func (r reportRequest) metric() (float64, error) {
	if string(r.Metric) == "null" {
		return math.NaN(), nil
	}
	var m float64
	err := json.Unmarshal(r.Metric, &m)
	return m, err
}

func (s *Server) handleRequestTrial(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	a, err := s.ctrl.RequestTrial(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if a.Kind.HasTrial() {
		s.logger.Info("trial handed out", "trial_id", a.Trial.ID, "kind", a.Kind)
	}
	respondOK(w, reqID, a)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	var missing []model.FieldError
	if req.Resource == nil {
		missing = append(missing, model.FieldError{Field: "resource", Message: "resource is required"})
	}
	if len(req.Metric) == 0 {
		missing = append(missing, model.FieldError{Field: "metric", Message: "metric is required"})
	}
	if len(missing) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("missing required field", missing...))
		return
	}
	metric, err := req.metric()
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid metric", model.FieldError{Field: "metric", Message: err.Error()}))
		return
	}

	res, err := s.ctrl.Report(r.Context(), id, *req.Resource, metric)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, res)
}

func (s *Server) handleStopTrial(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	t, err := s.ctrl.StopTrial(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("trial stopped by request", "trial_id", id)
	respondOK(w, reqID, t)
}

func (s *Server) handleListTrials(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	trials, err := s.ctrl.ListTrials(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	filtered := make([]*model.Trial, 0, len(trials))
	for _, t := range trials {
		if opts.Matches(t) {
			filtered = append(filtered, t)
		}
	}
	page, pg := model.Page(filtered, opts)
	respondList(w, reqID, page, pg)
}

func (s *Server) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	t, err := s.ctrl.Trial(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, t)
}
