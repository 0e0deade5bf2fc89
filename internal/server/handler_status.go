package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/gotune/pkg/model"
)

type statusResponse struct {
	*model.Status
	Run *model.Run `json:"run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	sum, err := s.ctrl.Summary(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, statusResponse{Status: sum, Run: s.run})
}

type checkpointResponse struct {
	RunID   string    `json:"run_id"`
	SavedAt time.Time `json:"saved_at"`
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.checkpointer == nil {
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "no checkpoint store configured",
		})
		return
	}
	if err := s.checkpointer.Tick(r.Context()); err != nil {
		respondErr(w, reqID, err)
		return
	}
	resp := checkpointResponse{SavedAt: time.Now().UTC()}
	if s.run != nil {
		resp.RunID = s.run.ID
	}
	s.logger.Info("checkpoint saved on request", "run_id", resp.RunID)
	respondOK(w, reqID, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store == nil {
		respondList(w, reqID, []*model.Run{}, &model.Pagination{Limit: model.DefaultListOptions().Limit})
		return
	}

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.store == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

// handleListRunTrials serves the trial copies saved with the checkpoints,
// which outlive the scheduler that produced them.
func (s *Server) handleListRunTrials(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.store == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err == nil && run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	var trials []*model.Trial
	var total int
	if err == nil {
		trials, total, err = s.store.ListTrials(r.Context(), id, opts)
	}
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if trials == nil {
		trials = []*model.Trial{}
	}
	respondList(w, reqID, trials, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}
