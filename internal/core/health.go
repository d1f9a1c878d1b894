package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// readinessBudget bounds one /readyz request across all probes.
const readinessBudget = 2 * time.Second

// HealthProbe checks one dependency of the worker.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc turns a closure into a HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Build      string                     `json:"build,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeResult struct {
	name    string
	err     error
	latency time.Duration
}

// HandleLiveness answers 200 while the process serves HTTP.
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{Status: "ok", Build: s.Build})
}

// HandleHealth is the readiness check. Probes run in parallel; one that has
// not answered when readinessBudget runs out counts as unhealthy and is
// abandoned.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessBudget)
	defer cancel()

	components := make(map[string]componentStatus, len(s.HealthProbes))
	for _, p := range s.HealthProbes {
		components[p.Name()] = componentStatus{
			Status:    "unhealthy",
			Message:   "health check timed out",
			LatencyMS: readinessBudget.Milliseconds(),
		}
	}

	// Buffered so abandoned probes can still deliver and exit.
	results := make(chan probeResult, len(s.HealthProbes))
	for _, p := range s.HealthProbes {
		go func() { results <- runProbe(ctx, p) }()
	}

	healthy := true
collect:
	for range s.HealthProbes {
		select {
		case res := <-results:
			c := componentStatus{Status: "healthy", LatencyMS: res.latency.Milliseconds()}
			if res.err != nil {
				c.Status, c.Message = "unhealthy", res.err.Error()
				healthy = false
			}
			components[res.name] = c
		case <-ctx.Done():
			healthy = false
			break collect
		}
	}

	resp := healthResponse{Status: "healthy", Build: s.Build, Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status, status = "unhealthy", http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (res probeResult) {
	res.name = p.Name()
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			res.err = fmt.Errorf("probe panicked: %v", v)
		}
		res.latency = time.Since(start)
	}()
	res.err = p.Check(ctx)
	return res
}
