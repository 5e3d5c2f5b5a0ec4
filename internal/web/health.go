// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/aocbot/internal/util/syncx"
)

const (
	healthPattern = "GET /health"
	checkTimeout  = 5 * time.Second
)

// Health returns the [HealthHandler] registered on mux, registering a new one
// at GET /health if there is none yet.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == healthPattern {
		return hh
	}
	hh := &HealthHandler{checks: syncx.Protect(make(map[string]HealthFunc))}
	mux.Handle(healthPattern, hh)
	return hh
}

// HealthHandler reports the state of the service subsystems as JSON. The
// service is healthy when every registered check is.
type HealthHandler struct {
	checks *syncx.Protected[map[string]HealthFunc]
}

// HealthFunc reports the state of a subsystem. It must be safe for concurrent
// use and should return once ctx is done.
type HealthFunc func(ctx context.Context) (status string, ok bool)

// RegisterFunc adds the check f under name. It panics if name is taken.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks map[string]HealthFunc) {
		if _, dup := checks[name]; dup {
			panic("web: health check " + name + " is already registered")
		}
		checks[name] = f
	})
}

// HealthResponse is the body of the /health response.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the result of a single check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	// Copy the checks so slow ones don't block registration.
	checks := make(map[string]HealthFunc)
	h.checks.RAccess(func(m map[string]HealthFunc) {
		for name, f := range m {
			checks[name] = f
		}
	})

	resp := &HealthResponse{OK: true, Checks: make(map[string]CheckResponse, len(checks))}
	for name, f := range checks {
		status, ok := f(ctx)
		resp.OK = resp.OK && ok
		resp.Checks[name] = CheckResponse{Status: status, OK: ok}
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	RespondJSON(w, resp)
}
