package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "gotune API",
		Version:     "v1",
		Description: "Asynchronous successive halving trial scheduler",
		Endpoints: []endpointInfo{
			{"/api/v1/status", []string{"GET"}, "Run progress and best trial so far"},
			{"/api/v1/trials", []string{"GET"}, "List trials. Accepts ?state=, ?limit= and ?offset="},
			{"/api/v1/trials/{id}", []string{"GET"}, "Single trial with its observations"},
			{"/api/v1/trials/request", []string{"POST"}, "Ask for the next trial to run (worker)"},
			{"/api/v1/trials/{id}/reports", []string{"POST"}, "Report an intermediate result and receive a decision (worker)"},
			{"/api/v1/trials/{id}/stop", []string{"PUT"}, "Stop a trial (worker)"},
			{"/api/v1/checkpoint", []string{"POST"}, "Save a scheduler checkpoint now"},
			{"/api/v1/runs", []string{"GET"}, "List recorded runs"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single recorded run"},
			{"/api/v1/runs/{id}/trials", []string{"GET"}, "Trials as of the run's last checkpoint. Accepts ?state=, ?limit= and ?offset="},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
