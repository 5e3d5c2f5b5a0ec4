// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger provides the printf-style [Logf], a structured [Logger]
// carried in a context, and a [Streamer] exposing recent log lines over HTTP.
package logger

import (
	"container/ring"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Logger is a structured logger with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// New returns a Logger that writes text records to w.
func New(w io.Writer) *Logger {
	lvl := new(slog.LevelVar)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})),
		Level:  lvl,
	}
}

type ctxKey struct{}

// Put returns a copy of ctx that carries l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger attached to ctx by [Put], or a Logger writing to
// standard error if there is none.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New(os.Stderr)
}

// Streamer is an io.Writer that keeps the last logged lines in a ring buffer
// and serves them over HTTP.
//
// A GET request receives the buffered lines as plain text. If the request
// asks for text/event-stream or sets the follow query parameter, new lines
// are streamed to it until the client goes away.
type Streamer struct {
	mu        sync.Mutex
	size      int
	r         *ring.Ring
	remainder string
	streams   map[chan string]struct{}
}

// NewStreamer returns a Streamer that keeps up to size lines.
func NewStreamer(size int) *Streamer {
	return &Streamer{
		size:    size,
		r:       ring.New(size),
		streams: make(map[chan string]struct{}),
	}
}

// Write implements the [io.Writer] interface. Incomplete lines are held back
// until their newline arrives.
func (s *Streamer) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.remainder + string(b)
	for {
		line, rest, ok := strings.Cut(text, "\n")
		if !ok {
			break
		}
		line += "\n"
		s.r.Value = line
		s.r = s.r.Next()
		for stream := range s.streams {
			select {
			case stream <- line:
			default:
				// Slow readers miss lines rather than block logging.
			}
		}
		text = rest
	}
	s.remainder = text
	return len(b), nil
}

// Lines returns the buffered lines, oldest first.
func (s *Streamer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines()
}

func (s *Streamer) lines() []string {
	lines := make([]string, 0, s.size)
	s.r.Do(func(x any) {
		if x != nil {
			lines = append(lines, x.(string))
		}
	})
	return lines
}

// Stream returns the buffered lines and a channel receiving lines logged
// after them. Call stop to release the channel.
func (s *Streamer) Stream() (backlog []string, lines <-chan string, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, s.size+1)
	s.streams[ch] = struct{}{}
	return s.lines(), ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.streams[ch]; ok {
			delete(s.streams, ch)
			close(ch)
		}
	}
}

func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	sse := strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
	if !sse && !r.URL.Query().Has("follow") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range s.Lines() {
			io.WriteString(w, line)
		}
		return
	}

	write := func(line string) {
		if sse {
			// See https://html.spec.whatwg.org/multipage/server-sent-events.html.
			fmt.Fprintf(w, "event: logline\ndata: %s\n\n", strings.TrimSuffix(line, "\n"))
			return
		}
		io.WriteString(w, line)
	}

	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	rc := http.NewResponseController(w)

	backlog, lines, stop := s.Stream()
	defer stop()
	for _, line := range backlog {
		write(line)
	}
	rc.Flush()

	for {
		select {
		case line := <-lines:
			write(line)
			rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
