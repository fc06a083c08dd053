package buildapi

import (
	"encoding/json"
	"net/http"

	"github.com/gantryci/gantry/internal/socket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// router returns a chi router with the build API routes and appropriate
// middlewares mounted.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	if s.debug {
		r.Use(socket.LoggerMiddleware("Build API", s.logger.Debug))
	}
	r.Use(
		middleware.Recoverer,
		s.metrics.countRequests,
		socket.AuthMiddleware(s.token, s.logger.Error),
	)

	r.Route("/api/build/v0", func(r chi.Router) {
		r.Use(socket.HeadersMiddleware(http.Header{"Content-Type": []string{"application/json"}}))
		r.Get("/", s.getBuild)
		r.Get("/jobs", s.getJobs)
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) getBuild(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()

	resp := BuildResponse{
		ID:         st.BuildID,
		RunnerName: st.RunnerName,
		Slug:       st.Slug,
		Branch:     st.Branch,
		State:      st.State,
		StartedAt:  st.StartedAt,
	}
	for _, j := range st.Jobs {
		resp.JobStates = append(resp.JobStates, j.State)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Build API: marshalling build response: %v", err)
	}
}

func (s *Server) getJobs(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()

	resp := JobsResponse{Jobs: make([]JobResponse, 0, len(st.Jobs))}
	for _, j := range st.Jobs {
		jr := JobResponse{
			ID:           j.ID,
			Name:         j.Name,
			State:        j.State,
			AllowFailure: j.AllowFailure,
			ExitStatus:   j.ExitStatus,
		}
		if !j.StartedAt.IsZero() {
			jr.StartedAt = &j.StartedAt
		}
		if !j.FinishedAt.IsZero() {
			jr.FinishedAt = &j.FinishedAt
		}
		resp.Jobs = append(resp.Jobs, jr)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Build API: marshalling jobs response: %v", err)
	}
}
