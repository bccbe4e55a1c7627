// Package health serves the duel server's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// runs the registered checkers and, when a load reporter is attached,
// includes a snapshot of live rooms and queue depth so an operator can tell
// why an instance dropped out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check; a stuck dependency must not
// hold the probe past the kubelet's own timeout.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when the
// dependency can serve duels and an error describing the failure otherwise.
type Checker struct {
	// Name keys this check in the JSON body ("hub", "spellbook").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Load is the duel-server load snapshot attached to readiness responses.
type Load struct {
	// Rooms is the number of live rooms, finished or not.
	Rooms int `json:"rooms"`

	// QueueDepth is the number of quick-match waiters not yet paired.
	QueueDepth int `json:"queueDepth"`
}

// result is the JSON body for both probes.
type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Load   *Load             `json:"load,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; a load reporter may be attached before [Handler.Register].
type Handler struct {
	checkers []Checker
	load     func() Load
	started  time.Time
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// ReportLoad attaches a load snapshot source, usually backed by the hub. It
// returns h for chaining at the wiring site.
func (h *Handler) ReportLoad(fn func() Load) *Handler {
	h.load = fn
	return h
}

// Healthz is the liveness probe. A process that reaches this handler can
// serve HTTP, which is the whole bar.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe: 200 only when every checker passes. Each
// checker gets its own [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	if h.load != nil {
		l := h.load()
		res.Load = &l
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status, falling back to a plain 500 if
// encoding itself fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
