// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cli provides utilities for building command-line applications.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.astrophena.name/aocbot/internal/logger"
	"go.astrophena.name/aocbot/internal/util/syncx"
	"go.astrophena.name/aocbot/internal/version"
)

// Main runs app in the operating system environment and exits with a status
// reflecting its result. The context passed to app is canceled on SIGINT or
// SIGTERM, which is how service managers ask a process to stop.
func Main(app App) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(WithEnv(ctx, OSEnv()), app)
	cancel()

	if err != nil && isPrintableError(err) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode follows the convention of returning 2 for usage errors.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, ErrExitVersion):
		return 0
	case errors.Is(err, ErrInvalidArgs):
		return 2
	default:
		return 1
	}
}

// unprintableError marks errors that were already reported to the user.
type unprintableError struct{ err error }

func (e *unprintableError) Error() string { return e.err.Error() }
func (e *unprintableError) Unwrap() error { return e.err }

func isPrintableError(err error) bool {
	var ue *unprintableError
	return !errors.As(err, &ue)
}

// ErrExitVersion is returned by [Run] after printing the version.
var ErrExitVersion = &unprintableError{errors.New("version flag exit")}

// ErrInvalidArgs indicates that the command-line arguments or the environment
// are invalid or insufficient. Wrap it to explain what is wrong:
//
//	return fmt.Errorf("%w: AOC_LEADERBOARD_ID is not set", cli.ErrInvalidArgs)
var ErrInvalidArgs = errors.New("invalid arguments")

// App is a command-line application.
type App interface {
	// Run runs the application. The environment is available with [GetEnv]
	// and a logger with [logger.Get].
	Run(context.Context) error
}

// HasFlags is an [App] that defines flags.
type HasFlags interface {
	App
	Flags(*flag.FlagSet)
}

// AppFunc turns a function into an [App] without flags.
type AppFunc func(context.Context) error

// Run calls f(ctx).
func (f AppFunc) Run(ctx context.Context) error { return f(ctx) }

// Env is the environment an application runs in. Tests substitute it to run
// applications without touching the process state.
type Env struct {
	Args   []string
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	logf syncx.Lazy[logger.Logf]
}

// Logf writes the formatted message to standard error of this environment.
func (e *Env) Logf(format string, args ...any) {
	e.logf.Get(func() logger.Logf {
		return log.New(e.Stderr, "", 0).Printf
	})(format, args...)
}

// OSEnv returns the environment of the current process.
func OSEnv() *Env {
	return &Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type envKey struct{}

// WithEnv returns a copy of ctx that carries env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// GetEnv returns the environment attached to ctx by [WithEnv], or the
// environment of the current process if there is none.
func GetEnv(ctx context.Context) *Env {
	if env, ok := ctx.Value(envKey{}).(*Env); ok {
		return env
	}
	return OSEnv()
}

// Run parses flags from the environment attached to ctx and runs app with
// the remaining arguments. A [logger.Logger] writing to standard error of the
// environment is attached to the context app receives.
//
// Every application gets a -version flag unless it defines its own.
func Run(ctx context.Context, app App) error {
	env := GetEnv(ctx)

	flags := flag.NewFlagSet(version.CmdName(), flag.ContinueOnError)
	if fa, ok := app.(HasFlags); ok {
		fa.Flags(flags)
	}
	var showVersion bool
	if flags.Lookup("version") == nil {
		flags.BoolVar(&showVersion, "version", false, "Show version.")
	}
	flags.SetOutput(env.Stderr)
	flags.Usage = func() {
		if doc := docComment.Get(parseDocComment); doc != "" {
			fmt.Fprintln(env.Stderr, doc)
		}
		fmt.Fprint(env.Stderr, "Available flags:\n\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(env.Args); err != nil {
		// The flag package has already printed the error and usage.
		if errors.Is(err, flag.ErrHelp) {
			return &unprintableError{err}
		}
		return &unprintableError{fmt.Errorf("%w: %w", ErrInvalidArgs, err)}
	}
	if showVersion {
		fmt.Fprint(env.Stderr, version.Version())
		return ErrExitVersion
	}

	env.Args = flags.Args()
	return app.Run(logger.Put(WithEnv(ctx, env), logger.New(env.Stderr)))
}

var (
	docSrc     []byte
	docComment syncx.Lazy[string]
)

// SetDocComment sets the Go source whose /* ... */ package comment is printed
// as the help message. Applications embed their doc.go for this:
//
//	//go:embed doc.go
//	var doc []byte
//
//	func init() { cli.SetDocComment(doc) }
func SetDocComment(src []byte) { docSrc = src }

func parseDocComment() string { return parseDocCommentFrom(docSrc) }

// parseDocCommentFrom returns the text between the first line consisting of
// "/*" and the following line consisting of "*/".
func parseDocCommentFrom(src []byte) string {
	var (
		b         strings.Builder
		inComment bool
	)
	for line := range strings.Lines(string(src)) {
		switch strings.TrimRight(line, "\r\n") {
		case "/*":
			inComment = true
			continue
		case "*/":
			if inComment {
				return b.String()
			}
		}
		if inComment {
			b.WriteString(strings.TrimRight(line, "\r\n") + "\n")
		}
	}
	return b.String()
}
