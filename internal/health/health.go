// Package health serves liveness and readiness probes over the memory
// backends.
//
//   - /healthz — liveness; always 200 for a process that can serve HTTP.
//   - /readyz  — readiness; 200 only when every required backend check
//     passes. Backends with an in-process fallback are registered as
//     optional: their failure degrades the reported status without
//     failing readiness, since saves and searches still complete.
//
// Responses are JSON with a top-level "status" of "ok", "degraded" or
// "fail", and a "checks" map with each named result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named backend probe. Check returns nil when the backend is
// reachable and must respect context cancellation.
type Checker struct {
	// Name keys the check in the JSON response, e.g. "keyword", "vector",
	// "graph", "embedder".
	Name string

	// Check probes the backend.
	Check func(ctx context.Context) error

	// Optional marks a backend whose outage is covered by a fallback.
	// Its failure reports "degraded" instead of failing readiness.
	Optional bool
}

// CountChecker adapts a backend exposing a Count method, which all three
// indexes do, into a Checker.
func CountChecker(name string, optional bool, count func(ctx context.Context) (int, error)) Checker {
	return Checker{
		Name:     name,
		Optional: optional,
		Check: func(ctx context.Context) error {
			_, err := count(ctx)
			return err
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 while every required checker passes. Optional checker
// failures downgrade the status to "degraded" but keep the 200.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := "ok"

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err == nil {
			checks[c.Name] = "ok"
			continue
		}
		if c.Optional {
			checks[c.Name] = "degraded: " + err.Error()
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks[c.Name] = "fail: " + err.Error()
			status = "fail"
		}
	}

	code := http.StatusOK
	if status == "fail" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result{Status: status, Checks: checks})
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
