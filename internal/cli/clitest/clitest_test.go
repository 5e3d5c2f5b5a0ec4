// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package clitest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.astrophena.name/aocbot/internal/cli"
)

var errNoName = errors.New("NAME is not set")

type greeter struct{ greeted string }

func (g *greeter) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	name := env.Getenv("NAME")
	if name == "" {
		return errNoName
	}
	if len(env.Args) > 0 {
		name += " " + env.Args[0]
	}
	g.greeted = name
	fmt.Fprintf(env.Stdout, "Hello, %s!\n", name)
	env.Logf("greeted %s", name)
	return nil
}

func TestRun(t *testing.T) {
	Run(t, func(*testing.T) *greeter { return new(greeter) }, map[string]Case[*greeter]{
		"no name": {
			WantErr: errNoName,
		},
		"greets": {
			Env:          map[string]string{"NAME": "Alice"},
			Args:         []string{"and Bob"},
			WantInStdout: "Hello, Alice and Bob!",
			WantInStderr: "greeted Alice and Bob",
			CheckFunc: func(t *testing.T, g *greeter) {
				if g.greeted != "Alice and Bob" {
					t.Errorf("greeted = %q", g.greeted)
				}
			},
		},
	})
}
