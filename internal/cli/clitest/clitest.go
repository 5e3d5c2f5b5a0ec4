// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest provides utilities for testing command-line applications.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.astrophena.name/aocbot/internal/cli"
)

// Case is a single invocation of a command-line application.
type Case[App cli.App] struct {
	// Args are the command-line arguments.
	Args []string
	// Env holds the environment variables visible to the application.
	Env map[string]string
	// WantErr is the expected error, checked with errors.Is.
	WantErr error
	// WantInStdout is a substring expected in standard output.
	WantInStdout string
	// WantInStderr is a substring expected in standard error.
	WantInStderr string
	// CheckFunc, if not nil, runs after the application with its final state.
	CheckFunc func(*testing.T, App)
}

// Run runs each case in parallel against a fresh App returned by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := setup(t)
			out, err := Exec(t.Context(), app, tc.Env, tc.Args...)

			switch {
			case tc.WantErr == nil && err != nil:
				t.Fatalf("unexpected error: %v\nstderr:\n%s", err, out.Stderr.String())
			case tc.WantErr != nil && !errors.Is(err, tc.WantErr):
				t.Fatalf("want error %v, got %v", tc.WantErr, err)
			}

			if tc.WantInStdout != "" && !strings.Contains(out.Stdout.String(), tc.WantInStdout) {
				t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, out.Stdout.String())
			}
			if tc.WantInStderr != "" && !strings.Contains(out.Stderr.String(), tc.WantInStderr) {
				t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, out.Stderr.String())
			}

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app)
			}
		})
	}
}

// Output captures what an application printed.
type Output struct {
	Stdout bytes.Buffer
	Stderr bytes.Buffer
}

// Env returns an environment with the given arguments and variables whose
// output goes to out. Standard input is empty.
func Env(out *Output, env map[string]string, args ...string) *cli.Env {
	return &cli.Env{
		Args:   args,
		Getenv: func(name string) string { return env[name] },
		Stdin:  strings.NewReader(""),
		Stdout: &out.Stdout,
		Stderr: &out.Stderr,
	}
}

// Exec runs app once with the given environment variables and arguments.
func Exec(ctx context.Context, app cli.App, env map[string]string, args ...string) (*Output, error) {
	out := new(Output)
	err := cli.Run(cli.WithEnv(ctx, Env(out, env, args...)), app)
	return out, err
}
