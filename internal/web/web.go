// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web contains the HTTP server and JSON helpers used by long-running
// services.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.astrophena.name/aocbot/internal/logger"
)

// StatusErr is an error carrying an HTTP status code. Wrap it to choose the
// status [RespondJSONError] uses:
//
//	web.RespondJSONError(logf, w, fmt.Errorf("%w: %w", web.ErrBadGateway, err))
type StatusErr int

func (se StatusErr) Error() string { return strings.ToLower(http.StatusText(int(se))) }

const (
	ErrBadRequest          StatusErr = http.StatusBadRequest
	ErrNotFound            StatusErr = http.StatusNotFound
	ErrInternalServerError StatusErr = http.StatusInternalServerError
	// ErrBadGateway reports a failure of an upstream service.
	ErrBadGateway StatusErr = http.StatusBadGateway
)

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RespondJSON writes response as indented JSON. If response can't be
// marshaled, it responds with an internal server error instead.
func RespondJSON(w http.ResponseWriter, response any) {
	b, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		// errorResponse always marshals.
		b, _ = json.MarshalIndent(&errorResponse{Status: "error", Error: "JSON marshal error: " + err.Error()}, "", "  ")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(append(b, '\n'))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(append(b, '\n'))
}

// RespondJSONError responds with err as a JSON error. The status code comes
// from a [StatusErr] in err's chain, defaulting to 500. Server-side failures
// (5xx) are also logged with logf.
func RespondJSONError(logf logger.Logf, w http.ResponseWriter, err error) {
	var se StatusErr
	if !errors.As(err, &se) {
		se = ErrInternalServerError
	}
	if se >= 500 && logf != nil {
		logf("Error %d (%s): %v", se, http.StatusText(int(se)), err)
	}
	b, _ := json.MarshalIndent(&errorResponse{Status: "error", Error: err.Error()}, "", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(se))
	w.Write(append(b, '\n'))
}
