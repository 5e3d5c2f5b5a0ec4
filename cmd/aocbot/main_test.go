// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
	"go.astrophena.name/aocbot/internal/cli"
	"go.astrophena.name/aocbot/internal/cli/clitest"
	"go.astrophena.name/aocbot/internal/store"
	"go.astrophena.name/aocbot/internal/testutil"
	"go.astrophena.name/aocbot/internal/web"
)

const (
	sessionToken = "53616c7465645f5f0123456789abcdef"
	boardID      = "1001"
	webhookURL   = "https://hooks.slack.com/services/T000/B000/XXXX"
	tgToken      = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
)

var (
	//go:embed testdata/before.json
	beforeJSON []byte
	//go:embed testdata/after.json
	afterJSON []byte
	//go:embed testdata/check.golden
	checkGolden string
)

var baseEnv = map[string]string{
	"AOC_SESSION_TOKEN":  sessionToken,
	"AOC_LEADERBOARD_ID": boardID,
	"AOC_YEAR":           "2024",
}

func withEnv(extra map[string]string) map[string]string {
	env := make(map[string]string, len(baseEnv)+len(extra))
	for k, v := range baseEnv {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func TestCLI(t *testing.T) {
	t.Parallel()

	clitest.Run(t, func(t *testing.T) *bot {
		return testBot(testMux(t, nil))
	}, map[string]clitest.Case[*bot]{
		"no command": {
			Args:    []string{},
			WantErr: cli.ErrInvalidArgs,
		},
		"unknown command": {
			Args:    []string{"dance"},
			Env:     baseEnv,
			WantErr: cli.ErrInvalidArgs,
		},
		"extra arguments": {
			Args:    []string{"summary", "now"},
			Env:     baseEnv,
			WantErr: cli.ErrInvalidArgs,
		},
		"version": {
			Args:    []string{"-version"},
			WantErr: cli.ErrExitVersion,
		},
		"no session token": {
			Args:    []string{"summary"},
			Env:     map[string]string{"AOC_LEADERBOARD_ID": boardID},
			WantErr: errNoToken,
		},
		"no leaderboard": {
			Args:    []string{"summary"},
			Env:     map[string]string{"AOC_SESSION_TOKEN": sessionToken},
			WantErr: cli.ErrInvalidArgs,
		},
		"no notifier": {
			Args:    []string{"check"},
			Env:     baseEnv,
			WantErr: errNoNotifier,
		},
		"invalid year": {
			Args:    []string{"summary"},
			Env:     withEnv(map[string]string{"AOC_YEAR": "next"}),
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid time zone": {
			Args:    []string{"-tz", "Mars/Olympus_Mons", "summary"},
			Env:     baseEnv,
			WantErr: cli.ErrInvalidArgs,
		},
		"missing config": {
			Args:    []string{"-dry", "-config", "testdata/missing.star", "summary"},
			Env:     baseEnv,
			WantErr: os.ErrNotExist,
		},
		"summary (dry run)": {
			Args:         []string{"-dry", "summary"},
			Env:          baseEnv,
			WantInStdout: "*Daily Leaderboard Summary - Friday, December 6, 2024*",
			WantInStderr: "run_id=",
		},
		"summary with config (dry run)": {
			Args:         []string{"-dry", "-config", "testdata/config.star", "summary"},
			Env:          baseEnv,
			WantInStdout: "Alice leads with 120 points and 10 stars.",
		},
		"check (dry run)": {
			Args:         []string{"-dry", "check"},
			Env:          baseEnv,
			WantInStdout: "joined and started their Advent of Code journey!",
			WantInStderr: "comparing against an empty leaderboard",
			CheckFunc: func(t *testing.T, b *bot) {
				snap, err := b.store.Get(t.Context(), snapshotKey)
				if err != nil {
					t.Fatal(err)
				}
				if snap != nil {
					t.Fatalf("dry run must not save a snapshot, got %s", snap)
				}
			},
		},
		"invalid schedule": {
			Args:    []string{"-every", "every minute", "serve"},
			Env:     withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}),
			WantErr: cli.ErrInvalidArgs,
		},
		"snapshot (empty store)": {
			Args:    []string{"snapshot"},
			WantErr: errNoSnapshot,
		},
		"snapshot (invalid flag)": {
			Args:    []string{"snapshot", "-x"},
			WantErr: cli.ErrInvalidArgs,
		},
	})
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	b := testBot(tm)
	env := withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL})

	// First check compares against an empty leaderboard, so everybody is
	// a newcomer.
	tm.setBoard(beforeJSON)
	b.now = fixedTime("2024-12-06T03:00:00Z")
	if _, _, err := run(t, b, env, "check"); err != nil {
		t.Fatal(err)
	}
	sent := tm.sent()
	testutil.AssertEqual(t, len(sent), 1)
	for _, want := range []string{
		"*New Advent of Code Completions (Since Last Check)",
		"*Alice* joined and started their Advent of Code journey!",
		"*Dave* joined and started their Advent of Code journey!",
	} {
		if !strings.Contains(sent[0], want) {
			t.Errorf("first check message must contain %q, got:\n%s", want, sent[0])
		}
	}
	testutil.AssertEqual(t, loadSnapshot(t, b).LastSync, parseTime(t, "2024-12-06T03:00:00Z"))

	// Second check announces completions and moves the snapshot forward.
	tm.setBoard(afterJSON)
	b.now = fixedTime("2024-12-06T05:00:00Z")
	if _, _, err := run(t, b, env, "check"); err != nil {
		t.Fatal(err)
	}
	sent = tm.sent()
	testutil.AssertEqual(t, len(sent), 2)
	testutil.AssertEqual(t, sent[1], checkGolden)
	snap := loadSnapshot(t, b)
	testutil.AssertEqual(t, snap.LastSync, parseTime(t, "2024-12-06T05:00:00Z"))
	testutil.AssertEqual(t, len(snap.Members), 5)

	// Nothing changed, nothing to announce.
	b.now = fixedTime("2024-12-06T05:15:00Z")
	if _, _, err := run(t, b, env, "check"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(tm.sent()), 2)
	testutil.AssertEqual(t, loadSnapshot(t, b).LastSync, parseTime(t, "2024-12-06T05:15:00Z"))
}

func TestCheckBaseline(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	b := testBot(tm)
	env := withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL})

	tm.setBoard(beforeJSON)
	b.now = fixedTime("2024-12-06T03:00:00Z")
	_, stderr, err := run(t, b, env, "-baseline", "check")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "storing a baseline") {
		t.Fatalf("baseline is not logged: %q", stderr)
	}
	testutil.AssertEqual(t, len(tm.sent()), 0)
	testutil.AssertEqual(t, len(loadSnapshot(t, b).Members), 4)

	// Once a snapshot exists, the flag changes nothing.
	tm.setBoard(afterJSON)
	b.now = fixedTime("2024-12-06T05:00:00Z")
	if _, _, err := run(t, b, env, "-baseline", "check"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, tm.sent(), []string{checkGolden})
}

func TestCheckNotifyFailure(t *testing.T) {
	t.Parallel()

	tm := testMux(t, map[string]http.HandlerFunc{
		postSlack: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no_service", http.StatusNotFound)
		},
	})
	b := testBot(tm)
	env := withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL})

	tm.setBoard(beforeJSON)
	b.now = fixedTime("2024-12-06T03:00:00Z")
	if _, _, err := run(t, b, env, "-baseline", "check"); err != nil {
		t.Fatal(err)
	}

	tm.setBoard(afterJSON)
	b.now = fixedTime("2024-12-06T05:00:00Z")
	_, stderr, err := run(t, b, env, "check")
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), webhookURL) {
		t.Fatalf("webhook URL is not scrubbed: %v", err)
	}
	if !strings.Contains(stderr, "job failed") {
		t.Fatalf("failure is not logged: %q", stderr)
	}

	// The snapshot is kept, so the next check announces the same completions.
	testutil.AssertEqual(t, loadSnapshot(t, b).LastSync, parseTime(t, "2024-12-06T03:00:00Z"))
}

func TestUpstreamErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		handler http.HandlerFunc
		wantErr error
	}{
		"expired session": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "https://adventofcode.com/2024/leaderboard/private", http.StatusFound)
			},
			wantErr: aoc.ErrInvalidSession,
		},
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusInternalServerError)
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tm := testMux(t, map[string]http.HandlerFunc{getLeaderboard: tc.handler})
			b := testBot(tm)
			_, _, err := run(t, b, withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}), "check")
			if err == nil {
				t.Fatal("want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if strings.Contains(err.Error(), sessionToken) {
				t.Fatalf("session token is not scrubbed: %v", err)
			}
			testutil.AssertEqual(t, len(tm.sent()), 0)
		})
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	tm.setBoard(afterJSON)
	b := testBot(tm)
	if _, _, err := run(t, b, withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}), "summary"); err != nil {
		t.Fatal(err)
	}

	sent := tm.sent()
	testutil.AssertEqual(t, len(sent), 1)
	for _, want := range []string{
		"*Daily Leaderboard Summary - Friday, December 6, 2024*",
		" 1. 🎅 *Alice* 120 (10)\n 2. 🎄 *(anonymous user #1003)* 100 (9)\n 3. 🎁 *Bob* 100 (8)\n 4. 🧝 Eve 10 (2)\n 5. 🧝 Dave 0 (0)\n",
		"\n19 Days left\n",
	} {
		if !strings.Contains(sent[0], want) {
			t.Errorf("summary must contain %q, got:\n%s", want, sent[0])
		}
	}
}

func TestSummaryTelegram(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	b := testBot(tm)
	env := withEnv(map[string]string{
		"TELEGRAM_TOKEN":   tgToken,
		"TELEGRAM_CHAT_ID": "-100123",
	})
	if _, _, err := run(t, b, env, "summary"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(tm.sent()), 1)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	b := testBot(tm)
	tm.setBoard(beforeJSON)
	if _, _, err := run(t, b, withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}), "check"); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := run(t, b, nil, "snapshot")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, `"lastSync": "2024-12-06T05:00:00Z"`) {
		t.Fatalf("snapshot must contain the sync time, got:\n%s", stdout)
	}

	out := filepath.Join(t.TempDir(), "snapshot.json")
	stdout, _, err = run(t, b, nil, "snapshot", "-o", out)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stdout, "")
	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	snap := testutil.UnmarshalJSON[aoc.Snapshot](t, written)
	testutil.AssertEqual(t, len(snap.Members), 4)
}

func TestStoreFromEnv(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	tm.setBoard(beforeJSON)
	stateDir := t.TempDir()
	env := withEnv(map[string]string{
		"SLACK_WEBHOOK_URL": webhookURL,
		"STATE_DIRECTORY":   stateDir,
	})

	b := testBot(tm)
	b.store = nil
	if _, _, err := run(t, b, env, "check"); err != nil {
		t.Fatal(err)
	}

	st, err := store.Open(t.Context(), filepath.Join(stateDir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	data, err := st.Get(t.Context(), snapshotKey)
	if err != nil {
		t.Fatal(err)
	}
	if data == nil {
		t.Fatal("snapshot is not saved to the state directory")
	}
}

func TestHandleSummary(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		tm := testMux(t, nil)
		tm.setBoard(afterJSON)
		b := initBot(t, testBot(tm), withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}))

		w := httptest.NewRecorder()
		b.handleSummary(w, httptest.NewRequest(http.MethodGet, "/leaderboard/summary", nil))

		testutil.AssertEqual(t, w.Code, http.StatusOK)
		resp := testutil.UnmarshalJSON[summaryResponse](t, w.Body.Bytes())
		testutil.AssertEqual(t, resp.Event, "2024")
		testutil.AssertEqual(t, resp.Year, 2024)
		testutil.AssertEqual(t, len(resp.Standings), 5)
		testutil.AssertEqual(t, resp.Standings[0], aoc.Standing{Position: 1, ID: 1001, Name: "Alice", LocalScore: 120, Stars: 10})
	})

	t.Run("upstream error", func(t *testing.T) {
		tm := testMux(t, map[string]http.HandlerFunc{
			getLeaderboard: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "down", http.StatusServiceUnavailable)
			},
		})
		b := initBot(t, testBot(tm), withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}))

		w := httptest.NewRecorder()
		b.handleSummary(w, httptest.NewRequest(http.MethodGet, "/leaderboard/summary", nil))

		testutil.AssertEqual(t, w.Code, http.StatusBadGateway)
		resp := testutil.UnmarshalJSON[map[string]string](t, w.Body.Bytes())
		testutil.AssertEqual(t, resp["status"], "error")
		if resp["error"] == "" || strings.Contains(resp["error"], sessionToken) {
			t.Fatalf("unexpected error: %q", resp["error"])
		}
	})
}

func TestScheduler(t *testing.T) {
	t.Parallel()

	b := initBot(t, testBot(testMux(t, nil)), withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}))
	c, err := b.scheduler(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(c.Entries()), 2)

	// Schedules are interpreted in the configured time zone.
	next := c.Entries()[0].Schedule.Next(parseTime(t, "2024-12-06T03:00:00Z").In(b.loc))
	testutil.AssertEqual(t, next.UTC(), parseTime(t, "2024-12-06T05:00:00Z"))
}

func TestJobHealth(t *testing.T) {
	t.Parallel()

	tm := testMux(t, map[string]http.HandlerFunc{
		getLeaderboard: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		},
	})
	b := initBot(t, testBot(tm), withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}))

	status, ok := b.jobHealth("summary")(t.Context())
	testutil.AssertEqual(t, status, "not run yet")
	testutil.AssertEqual(t, ok, true)

	ctx := cli.WithEnv(t.Context(), &cli.Env{Stderr: io.Discard, Stdout: io.Discard, Getenv: func(string) string { return "" }})
	if err := b.runJob(ctx, "summary", b.summary); err == nil {
		t.Fatal("want error")
	}
	status, ok = b.jobHealth("summary")(t.Context())
	testutil.AssertEqual(t, ok, false)
	if !strings.HasPrefix(status, "failed at 2024-12-06T05:00:00Z") {
		t.Fatalf("unexpected status: %q", status)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	tm := testMux(t, nil)
	b := testBot(tm)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	b.ready = cancel

	out, err := clitest.Exec(ctx, b, withEnv(map[string]string{
		"SLACK_WEBHOOK_URL": webhookURL,
		"ADDR":              "127.0.0.1:0",
	}), "serve")
	if err != nil {
		t.Fatal(err)
	}
	stderr := out.Stderr.String()
	testutil.AssertEqual(t, strings.Contains(stderr, "Listening on 127.0.0.1:"), true)
	testutil.AssertEqual(t, strings.Contains(stderr, "Gracefully shutting down..."), true)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	b := initBot(t, testBot(testMux(t, nil)), withEnv(map[string]string{"SLACK_WEBHOOK_URL": webhookURL}))
	mux := http.NewServeMux()
	health := web.Health(mux)
	health.RegisterFunc("summary", b.jobHealth("summary"))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[web.HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.Checks["summary"], web.CheckResponse{Status: "not run yet", OK: true})
}

func run(t *testing.T, b *bot, env map[string]string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out, err := clitest.Exec(t.Context(), b, env, args...)
	return out.Stdout.String(), out.Stderr.String(), err
}

func initBot(t *testing.T, b *bot, env map[string]string) *bot {
	t.Helper()
	cenv := &cli.Env{Getenv: getenv(env), Stdout: io.Discard, Stderr: io.Discard}
	if err := b.configure(cenv); err != nil {
		t.Fatal(err)
	}
	if err := b.doInit(cli.WithEnv(t.Context(), cenv), "serve"); err != nil {
		t.Fatal(err)
	}
	return b
}

func getenv(env map[string]string) func(string) string {
	return func(name string) string { return env[name] }
}

func loadSnapshot(t *testing.T, b *bot) *aoc.Snapshot {
	t.Helper()
	data, err := b.store.Get(t.Context(), snapshotKey)
	if err != nil {
		t.Fatal(err)
	}
	if data == nil {
		t.Fatal("no snapshot saved")
	}
	snap := testutil.UnmarshalJSON[aoc.Snapshot](t, data)
	return &snap
}

func parseTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func fixedTime(s string) func() time.Time {
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return tm }
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (s roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return s(r)
}

func testBot(m *mux) *bot {
	return &bot{
		httpc: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				m.mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
		now:   fixedTime("2024-12-06T05:00:00Z"),
		pick:  func(int) int { return 0 },
		store: store.NewMemStore(),
	}
}

type mux struct {
	mux *http.ServeMux

	mu       sync.Mutex
	board    []byte
	messages []string
}

const (
	getLeaderboard = "GET adventofcode.com/{year}/leaderboard/private/view/{file}"
	postSlack      = "POST hooks.slack.com/services/T000/B000/XXXX"
	sendTelegram   = "POST api.telegram.org/{token}/sendMessage"
)

func (m *mux) setBoard(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.board = b
}

func (m *mux) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func testMux(t *testing.T, overrides map[string]http.HandlerFunc) *mux {
	m := &mux{mux: http.NewServeMux(), board: afterJSON}
	m.mux.HandleFunc(getLeaderboard, orHandler(overrides[getLeaderboard], func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.PathValue("year"), "2024")
		testutil.AssertEqual(t, r.PathValue("file"), boardID+".json")
		testutil.AssertEqual(t, r.Header.Get("Cookie"), "session="+sessionToken)
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "aocbot/") {
			t.Errorf("unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Write(m.board)
	}))
	m.mux.HandleFunc(postSlack, orHandler(overrides[postSlack], func(w http.ResponseWriter, r *http.Request) {
		body := testutil.UnmarshalJSON[map[string]string](t, read(t, r.Body))
		m.mu.Lock()
		defer m.mu.Unlock()
		m.messages = append(m.messages, body["text"])
		w.Write([]byte("ok"))
	}))
	m.mux.HandleFunc(sendTelegram, orHandler(overrides[sendTelegram], func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, strings.TrimPrefix(r.PathValue("token"), "bot"), tgToken)
		body := testutil.UnmarshalJSON[map[string]any](t, read(t, r.Body))
		testutil.AssertEqual(t, body["chat_id"], "-100123")
		m.mu.Lock()
		defer m.mu.Unlock()
		m.messages = append(m.messages, body["text"].(string))
		w.Write([]byte(`{"ok":true}`))
	}))
	return m
}

func orHandler(h, fallback http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return fallback
}

func read(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
