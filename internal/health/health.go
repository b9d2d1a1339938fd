// Package health serves the admin HTTP surface of voxrelay: liveness and
// readiness probes ([Handler]), the operator endpoints ([Admin]) and the
// [Server] mounting both next to /metrics.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is one readiness condition. Check returns nil when the condition
// holds and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type liveness struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type probe struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type readiness struct {
	Ready  bool    `json:"ready"`
	Checks []probe `json:"checks"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler evaluating checkers, concurrently, on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers), started: time.Now()}
}

// Healthz answers 200 for as long as the process serves HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status: "alive",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Readyz answers 200 when every checker passes and 503 otherwise. Checks
// are reported in registration order.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := readiness{Ready: true, Checks: make([]probe, len(h.checkers))}

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			p := probe{Name: c.Name, OK: err == nil, DurationMs: time.Since(start).Milliseconds()}
			if err != nil {
				p.Error = err.Error()
			}
			rep.Checks[i] = p
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for _, p := range rep.Checks {
		if !p.OK {
			rep.Ready = false
			status = http.StatusServiceUnavailable
			slog.Debug("health: check failed", "check", p.Name, "err", p.Error)
		}
	}
	writeJSON(w, status, rep)
}

// Register mounts the probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
