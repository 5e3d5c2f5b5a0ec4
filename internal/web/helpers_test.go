// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// send serves a request through h and returns the response body, failing the
// test on an unexpected status code.
func send(t testing.TB, h http.Handler, method, path string, wantStatus int) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: want status %d, got %d (%s)", method, path, wantStatus, rec.Code, rec.Body.String())
	}
	return rec.Body.String()
}
