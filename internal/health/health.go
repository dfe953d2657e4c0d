// Package health serves the liveness and readiness probes.
//
//   - GET /healthz answers 200 whenever the process can serve HTTP at all.
//   - GET /readyz answers 200 only while every registered [Checker] passes;
//     a failing dependency flips it to 503 so the load balancer stops
//     routing documentation traffic here.
//
// Probe bodies are JSON: {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds each individual readiness check. A hanging database
// ping must not stall the probe past the orchestrator's own deadline.
const checkTimeout = 5 * time.Second

// Checker is one named readiness dependency.
type Checker struct {
	// Name keys the check's entry in the JSON response, e.g. "database".
	Name string

	// Check probes the dependency and must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// Handler evaluates a fixed set of checkers. Safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a probe handler over the given checkers. Readiness evaluates
// them in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. It never fails: reaching this handler is
// the proof of life.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz is the readiness probe. Each checker runs with its own
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := probeResult{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeProbe(w, status, res)
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeProbe(w http.ResponseWriter, status int, res probeResult) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
