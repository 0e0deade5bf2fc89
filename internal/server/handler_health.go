package server

import (
	"net/http"
	"runtime"
	"time"
)

// Version is the API server version reported by /health.
const Version = "0.1.0"

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Store     string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	sched := "running"
	if finished, err := s.ctrl.IsFinished(r.Context()); err != nil {
		sched = "failed"
	} else if finished {
		sched = "finished"
	}
	st := "none"
	if s.store != nil || s.checkpointer != nil {
		st = "configured"
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: sched,
		Store:     st,
	})
}
