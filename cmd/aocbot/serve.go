// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
	"go.astrophena.name/aocbot/internal/cli"
	"go.astrophena.name/aocbot/internal/logger"
	"go.astrophena.name/aocbot/internal/systemd"
	"go.astrophena.name/aocbot/internal/web"

	"github.com/robfig/cron/v3"
)

const logLines = 300

// serve runs both jobs on their schedules and serves HTTP until ctx is
// canceled.
func (b *bot) serve(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	streamer := logger.NewStreamer(logLines)
	l := &logger.Logger{
		Logger: slog.New(slog.NewTextHandler(io.MultiWriter(env.Stderr, streamer), &slog.HandlerOptions{Level: b.slogLevel})),
		Level:  b.slogLevel,
	}
	b.slog = l.Logger
	ctx = logger.Put(ctx, l)

	c, err := b.scheduler(ctx)
	if err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /leaderboard/summary", b.handleSummary)
	mux.Handle("GET /debug/log", streamer)

	health := web.Health(mux)
	health.RegisterFunc("scheduler", func(context.Context) (string, bool) {
		var next time.Time
		for _, e := range c.Entries() {
			if next.IsZero() || e.Next.Before(next) {
				next = e.Next
			}
		}
		if next.IsZero() {
			return "no jobs scheduled", false
		}
		return "next run at " + next.Format(time.RFC3339), true
	})
	health.RegisterFunc("store", func(ctx context.Context) (string, bool) {
		if _, err := b.store.Get(ctx, snapshotKey); err != nil {
			return err.Error(), false
		}
		return "ok", true
	})
	for _, name := range []string{"summary", "check"} {
		health.RegisterFunc(name, b.jobHealth(name))
	}

	sd := &systemd.Notifier{Getenv: env.Getenv, Logf: b.logf}
	go sd.WatchdogLoop(ctx)
	defer sd.Notify(systemd.Stopping)

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:   b.addr,
		Mux:    mux,
		Logf:   b.logf,
		Logger: l,
		Ready: func() {
			sd.Notify(systemd.Ready)
			if b.ready != nil {
				b.ready()
			}
		},
	})
}

func (b *bot) scheduler(ctx context.Context) (*cron.Cron, error) {
	cl := cronLogger{b.slog.With(slog.String("component", "cron"))}
	c := cron.New(
		cron.WithLocation(b.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"summary", b.dailySchedule, b.summary},
		{"check", b.checkSchedule, b.check},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(job.schedule, func() {
			// Errors are logged by runJob; the scheduler keeps going.
			b.runJob(ctx, job.name, job.run)
		}); err != nil {
			return nil, fmt.Errorf("%w: invalid %s schedule %q: %v", cli.ErrInvalidArgs, job.name, job.schedule, err)
		}
	}
	return c, nil
}

func (b *bot) jobHealth(name string) web.HealthFunc {
	return func(context.Context) (string, bool) {
		var (
			st  runStatus
			ran bool
		)
		b.runs.RAccess(func(runs map[string]runStatus) { st, ran = runs[name] })
		switch {
		case !ran:
			return "not run yet", true
		case st.Err != nil:
			return fmt.Sprintf("failed at %s: %v", st.At.Format(time.RFC3339), st.Err), false
		default:
			return "succeeded at " + st.At.Format(time.RFC3339), true
		}
	}
}

type summaryResponse struct {
	Event     string         `json:"event"`
	Year      int            `json:"year"`
	Standings []aoc.Standing `json:"standings"`
}

func (b *bot) handleSummary(w http.ResponseWriter, r *http.Request) {
	lb, err := b.client.Leaderboard(r.Context(), b.year, b.leaderboardID)
	if err != nil {
		web.RespondJSONError(b.logf, w, fmt.Errorf("%w: %w", web.ErrBadGateway, err))
		return
	}
	web.RespondJSON(w, &summaryResponse{
		Event:     lb.Event,
		Year:      b.year,
		Standings: lb.Ranked(),
	})
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
