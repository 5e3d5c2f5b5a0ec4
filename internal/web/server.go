// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.astrophena.name/aocbot/internal/logger"

	"github.com/google/uuid"
)

// DefaultShutdownTimeout is how long [ListenAndServe] waits for in-flight
// requests after ctx is canceled.
const DefaultShutdownTimeout = 30 * time.Second

// ListenAndServeConfig configures [ListenAndServe]. It must not be modified
// after ListenAndServe is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve. A /health endpoint is always added to
	// it (see [Health]).
	Mux *http.ServeMux
	// Logf receives server lifecycle messages. If nil, log.Printf is used.
	Logf logger.Logf
	// Logger, if not nil, is attached to the context of each request with a
	// request_id attribute and logs served requests at debug level.
	Logger *logger.Logger
	// Ready is called, if not nil, once the server is listening.
	Ready func()
	// ShutdownTimeout overrides DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe serves c.Mux on c.Addr and shuts the server down gracefully
// when ctx is canceled.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}
	logf := c.Logf
	if logf == nil {
		logf = log.Printf
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	logf("Listening on %s...", l.Addr().String())

	Health(c.Mux)
	var h http.Handler = c.Mux
	if c.Logger != nil {
		h = withRequestLogger(c.Logger, h)
	}
	s := &http.Server{
		ErrorLog:          log.New(logf, "", 0),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logf("Gracefully shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmp.Or(c.ShutdownTimeout, DefaultShutdownTimeout))
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func withRequestLogger(base *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := base.With(slog.String("request_id", uuid.NewString()))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(logger.Put(r.Context(), &logger.Logger{Logger: l, Level: base.Level})))

		l.Debug("served request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// statusRecorder remembers the response status code. It keeps streaming
// responses working by passing flushes through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
