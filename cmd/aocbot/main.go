// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/completions"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/format"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/motivation"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/notify"
	"go.astrophena.name/aocbot/internal/atomicio"
	"go.astrophena.name/aocbot/internal/cli"
	"go.astrophena.name/aocbot/internal/httplogger"
	"go.astrophena.name/aocbot/internal/logger"
	"go.astrophena.name/aocbot/internal/request"
	"go.astrophena.name/aocbot/internal/store"
	"go.astrophena.name/aocbot/internal/util/syncx"

	"github.com/google/uuid"
)

// snapshotKey is the store key of the leaderboard saved by the last check.
const snapshotKey = "previous_state"

const (
	defaultAddr          = "localhost:3000"
	defaultDailySchedule = "0 0 * * *"
	defaultCheckSchedule = "*/15 * * * *"
)

var (
	errNoSnapshot = errors.New("no snapshot stored yet")
	errNoNotifier = errors.New("no notifier configured: set SLACK_WEBHOOK_URL, or TELEGRAM_TOKEN and TELEGRAM_CHAT_ID")
	errNoToken    = errors.New("AOC_SESSION_TOKEN is not set")
	errNoBoard    = errors.New("leaderboard ID is not set: pass -leaderboard or set AOC_LEADERBOARD_ID")
)

func main() { cli.Main(new(bot)) }

func (b *bot) Flags(fs *flag.FlagSet) {
	fs.StringVar(&b.leaderboardID, "leaderboard", "", "Private leaderboard `ID`. Defaults to AOC_LEADERBOARD_ID.")
	fs.IntVar(&b.year, "year", 0, "Event `year`. Defaults to AOC_YEAR or the current year.")
	fs.StringVar(&b.storeDSN, "store", "", "State store `DSN`. Defaults to AOC_STORE or a JSON file in the state directory.")
	fs.StringVar(&b.tz, "tz", "", "Time `zone` for schedules and dates. Defaults to AOC_TIMEZONE or "+format.DefaultLocation+".")
	fs.StringVar(&b.dailySchedule, "daily", "", "Cron `schedule` of the daily summary. Defaults to AOC_DAILY_SCHEDULE or \""+defaultDailySchedule+"\".")
	fs.StringVar(&b.checkSchedule, "every", "", "Cron `schedule` of the completion check. Defaults to AOC_CHECK_SCHEDULE or \""+defaultCheckSchedule+"\".")
	fs.StringVar(&b.addr, "addr", "", "Listen on `host:port` in serve mode. Defaults to ADDR or "+defaultAddr+".")
	fs.StringVar(&b.configPath, "config", "", "Starlark config `file` with message overrides. Defaults to AOC_CONFIG.")
	fs.BoolVar(&b.dry, "dry", false, "Enable dry-run mode: print messages instead of sending them and don't save state.")
	fs.BoolVar(&b.baseline, "baseline", false, "When no snapshot is stored yet, save the leaderboard silently instead of announcing every member.")
}

func (b *bot) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command, args := env.Args[0], env.Args[1:]

	var run func(context.Context) error
	switch command {
	case "summary":
		run = func(ctx context.Context) error { return b.runJob(ctx, "summary", b.summary) }
	case "check":
		run = func(ctx context.Context) error { return b.runJob(ctx, "check", b.check) }
	case "serve":
		run = b.serve
	case "snapshot":
		run = func(ctx context.Context) error { return b.snapshot(ctx, args) }
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
	if command != "snapshot" && len(args) > 0 {
		return fmt.Errorf("%w: %s command takes no arguments", cli.ErrInvalidArgs, command)
	}

	if err := b.configure(env); err != nil {
		return err
	}
	if err := b.doInit(ctx, command); err != nil {
		return err
	}
	defer b.close()

	return run(ctx)
}

type bot struct {
	// configuration
	addr          string
	baseline      bool
	checkSchedule string
	configPath    string
	dailySchedule string
	dry           bool
	leaderboardID string
	storeDSN      string
	tz            string
	year          int

	// secrets
	geminiKey    string
	sessionToken string
	slackURL     string
	tgChatID     string
	tgToken      string

	// can be mocked for testing
	aocURL string
	tgURL  string
	httpc  *http.Client
	now    func() time.Time
	pick   format.Picker
	store  store.Store
	ready  func()

	// initialized by doInit
	client    *aoc.Client
	formatter *format.Formatter
	gemini    *motivation.Gemini
	loc       *time.Location
	logf      logger.Logf
	notifier  notify.Notifier
	slog      *slog.Logger
	slogLevel *slog.LevelVar

	runs syncx.Protected[map[string]runStatus]
}

// configure resolves flags that weren't set from the environment.
func (b *bot) configure(env *cli.Env) error {
	b.leaderboardID = cmp.Or(b.leaderboardID, env.Getenv("AOC_LEADERBOARD_ID"))
	if b.year == 0 {
		if s := env.Getenv("AOC_YEAR"); s != "" {
			year, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%w: invalid AOC_YEAR %q", cli.ErrInvalidArgs, s)
			}
			b.year = year
		}
	}
	b.storeDSN = cmp.Or(b.storeDSN, env.Getenv("AOC_STORE"))
	b.tz = cmp.Or(b.tz, env.Getenv("AOC_TIMEZONE"), format.DefaultLocation)
	b.dailySchedule = cmp.Or(b.dailySchedule, env.Getenv("AOC_DAILY_SCHEDULE"), defaultDailySchedule)
	b.checkSchedule = cmp.Or(b.checkSchedule, env.Getenv("AOC_CHECK_SCHEDULE"), defaultCheckSchedule)
	b.addr = cmp.Or(b.addr, env.Getenv("ADDR"), defaultAddr)
	b.configPath = cmp.Or(b.configPath, env.Getenv("AOC_CONFIG"))

	b.sessionToken = cmp.Or(b.sessionToken, env.Getenv("AOC_SESSION_TOKEN"))
	b.slackURL = cmp.Or(b.slackURL, env.Getenv("SLACK_WEBHOOK_URL"))
	b.tgToken = cmp.Or(b.tgToken, env.Getenv("TELEGRAM_TOKEN"))
	b.tgChatID = cmp.Or(b.tgChatID, env.Getenv("TELEGRAM_CHAT_ID"))
	b.geminiKey = cmp.Or(b.geminiKey, env.Getenv("GEMINI_API_KEY"))

	if b.storeDSN == "" && b.store == nil {
		dir, err := stateDir(env)
		if err != nil {
			return err
		}
		b.storeDSN = filepath.Join(dir, "state.json")
	}
	return nil
}

func stateDir(env *cli.Env) (string, error) {
	if dir := env.Getenv("STATE_DIRECTORY"); dir != "" {
		return dir, nil
	}
	xdgStateHome := env.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		xdgStateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(xdgStateHome, "aocbot"), nil
}

func (b *bot) doInit(ctx context.Context, command string) error {
	env := cli.GetEnv(ctx)

	l := logger.Get(ctx)
	b.slog = l.Logger
	b.slogLevel = l.Level
	b.logf = env.Logf
	if b.dry {
		b.slogLevel.Set(slog.LevelDebug)
	}

	if b.now == nil {
		b.now = time.Now
	}
	if b.httpc == nil {
		b.httpc = request.DefaultClient
	}
	if b.pick == nil {
		b.pick = rand.IntN
	}
	b.runs.Store(make(map[string]runStatus))

	loc, err := time.LoadLocation(b.tz)
	if err != nil {
		return fmt.Errorf("%w: invalid time zone %q: %v", cli.ErrInvalidArgs, b.tz, err)
	}
	b.loc = loc
	if b.year == 0 {
		b.year = b.now().In(b.loc).Year()
	}

	if b.store == nil {
		st, err := store.Open(ctx, b.storeDSN)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		b.store = st
	}

	if command == "snapshot" {
		return nil
	}

	if b.sessionToken == "" {
		return errNoToken
	}
	if b.leaderboardID == "" {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, errNoBoard)
	}
	hc := *b.httpc
	hc.Transport = httplogger.New(hc.Transport, b.slog.With(slog.String("component", "http")))
	b.client = &aoc.Client{
		SessionToken: b.sessionToken,
		BaseURL:      b.aocURL,
		HTTPClient:   &hc,
		Now:          b.now,
	}

	switch {
	case b.dry:
		b.notifier = &notify.Dry{Out: env.Stdout}
	case b.slackURL != "":
		b.notifier = &notify.Slack{WebhookURL: b.slackURL, HTTPClient: &hc}
	case b.tgToken != "" && b.tgChatID != "":
		b.notifier = &notify.Telegram{Token: b.tgToken, ChatID: b.tgChatID, APIURL: b.tgURL, HTTPClient: &hc}
	default:
		return errNoNotifier
	}

	var cfg *format.Config
	if b.configPath != "" {
		src, err := os.ReadFile(b.configPath)
		if err != nil {
			return err
		}
		cfg, err = format.LoadConfig(ctx, b.configPath, src)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	var source motivation.Source = &motivation.List{Pick: b.pick}
	if cfg != nil {
		source = &motivation.List{Messages: cfg.Motivation, Pick: b.pick}
	}
	if b.geminiKey != "" {
		b.gemini, err = motivation.NewGemini(ctx, b.geminiKey, "", source, b.slog)
		if err != nil {
			return fmt.Errorf("creating Gemini client: %w", err)
		}
		source = b.gemini
	}

	b.formatter = &format.Formatter{
		Location:   b.loc,
		Pick:       b.pick,
		Motivation: source,
		Config:     cfg,
	}
	return nil
}

func (b *bot) close() {
	if b.gemini != nil {
		if err := b.gemini.Close(); err != nil {
			b.slog.Warn("closing Gemini client", "error", err)
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.slog.Warn("closing store", "error", err)
		}
	}
}

type runStatus struct {
	At       time.Time
	Duration time.Duration
	Err      error
}

// runJob runs job with a logger that identifies this particular run.
func (b *bot) runJob(ctx context.Context, name string, job func(context.Context) error) error {
	l := b.slog.With(slog.String("job", name), slog.String("run_id", uuid.NewString()))
	ctx = logger.Put(ctx, &logger.Logger{Logger: l, Level: b.slogLevel})

	start := b.now()
	l.Debug("job started")
	err := job(ctx)
	duration := b.now().Sub(start)

	b.runs.Access(func(runs map[string]runStatus) {
		runs[name] = runStatus{At: start, Duration: duration, Err: err}
	})
	if err != nil {
		l.Error("job failed", slog.Any("error", err), slog.Duration("duration", duration))
		return err
	}
	l.Info("job finished", slog.Duration("duration", duration))
	return nil
}

func (b *bot) summary(ctx context.Context) error {
	lb, err := b.client.Leaderboard(ctx, b.year, b.leaderboardID)
	if err != nil {
		return err
	}
	msg, err := b.formatter.Summary(ctx, lb, b.now())
	if err != nil {
		return fmt.Errorf("formatting summary: %w", err)
	}
	return b.notifier.Notify(ctx, msg)
}

func (b *bot) check(ctx context.Context) error {
	l := logger.Get(ctx)

	lb, err := b.client.Leaderboard(ctx, b.year, b.leaderboardID)
	if err != nil {
		return err
	}
	prev, err := b.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	now := b.now()

	if prev == nil {
		if b.baseline {
			l.Info("no previous snapshot, storing a baseline", slog.Int("members", len(lb.Members)))
			return b.saveSnapshot(ctx, lb, now)
		}
		l.Info("no previous snapshot, comparing against an empty leaderboard")
		prev = &aoc.Snapshot{Leaderboard: aoc.Leaderboard{Members: map[string]*aoc.Member{}}}
	}

	cs := completions.Compute(&prev.Leaderboard, lb)
	if len(cs) == 0 {
		l.Debug("no new completions")
	} else {
		l.Info("found new completions", slog.Any("members", completions.Names(cs)))
		msg, err := b.formatter.Completions(ctx, lb, cs, prev.LastSync, now)
		if err != nil {
			return fmt.Errorf("formatting completions: %w", err)
		}
		if err := b.notifier.Notify(ctx, msg); err != nil {
			return err
		}
	}

	return b.saveSnapshot(ctx, lb, now)
}

func (b *bot) loadSnapshot(ctx context.Context) (*aoc.Snapshot, error) {
	data, err := b.store.Get(ctx, snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var snap aoc.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func (b *bot) saveSnapshot(ctx context.Context, lb *aoc.Leaderboard, now time.Time) error {
	if b.dry {
		logger.Get(ctx).Debug("dry run, not saving snapshot")
		return nil
	}
	data, err := json.Marshal(&aoc.Snapshot{Leaderboard: *lb, LastSync: now})
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (b *bot) snapshot(ctx context.Context, args []string) error {
	env := cli.GetEnv(ctx)

	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	out := fs.String("o", "", "Write the snapshot to `file` instead of standard output.")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: snapshot command takes no arguments", cli.ErrInvalidArgs)
	}

	data, err := b.store.Get(ctx, snapshotKey)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if data == nil {
		return errNoSnapshot
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	buf.WriteByte('\n')

	if *out != "" {
		return atomicio.WriteFile(*out, buf.Bytes(), 0o644)
	}
	_, err = env.Stdout.Write(buf.Bytes())
	return err
}
