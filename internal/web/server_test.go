// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.astrophena.name/aocbot/internal/logger"
	"go.astrophena.name/aocbot/internal/testutil"
)

func TestListenAndServeConfig(t *testing.T) {
	cases := map[string]struct {
		c       *ListenAndServeConfig
		wantErr error
	}{
		"no Addr": {
			c:       &ListenAndServeConfig{Mux: http.NewServeMux()},
			wantErr: errNoAddr,
		},
		"nil Mux": {
			c:       &ListenAndServeConfig{Addr: "localhost:3000"},
			wantErr: errNilMux,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ListenAndServe(context.Background(), tc.c)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestListenAndServe(t *testing.T) {
	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	addr := fmt.Sprintf("localhost:%d", port)

	var (
		wg    sync.WaitGroup
		ready = make(chan struct{})
		errCh = make(chan error, 1)
		logs  syncBuffer
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /leaderboard/summary", func(w http.ResponseWriter, r *http.Request) {
		logger.Get(r.Context()).Info("handling summary")
		RespondJSON(w, map[string]string{"event": "2024"})
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:   addr,
			Mux:    mux,
			Logf:   t.Logf,
			Logger: debugLogger(&logs),
			Ready:  func() { close(ready) },
		}); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during startup: %v", err)
	case <-ready:
	}

	for _, path := range []string{"/health", "/leaderboard/summary"} {
		res, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		testutil.AssertEqual(t, res.StatusCode, http.StatusOK)
	}

	cancel()
	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during shutdown: %v", err)
	default:
	}

	out := logs.String()
	for _, want := range []string{"msg=\"handling summary\" request_id=", "path=/leaderboard/summary status=200"} {
		if !strings.Contains(out, want) {
			t.Errorf("logs must contain %q, got:\n%s", want, out)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var logs syncBuffer
	h := withRequestLogger(debugLogger(&logs), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("response writer must implement http.Flusher")
		}
		http.Error(w, "nope", http.StatusTeapot)
	}))

	send(t, h, http.MethodGet, "/debug/log", http.StatusTeapot)
	if !strings.Contains(logs.String(), "status=418") {
		t.Fatalf("status is not logged: %s", logs.String())
	}
}

func TestRequestIDsDiffer(t *testing.T) {
	var logs syncBuffer
	h := withRequestLogger(debugLogger(&logs), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		for _, field := range strings.Fields(line) {
			if id, ok := strings.CutPrefix(field, "request_id="); ok {
				ids = append(ids, id)
			}
		}
	}
	testutil.AssertEqual(t, len(ids), 2)
	if ids[0] == ids[1] {
		t.Fatalf("requests share the ID %q", ids[0])
	}
}

func debugLogger(w io.Writer) *logger.Logger {
	l := logger.New(w)
	l.Level.Set(slog.LevelDebug)
	return l
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// getFreePort asks the kernel for a free open port that is ready to use.
func getFreePort() (port int, err error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
