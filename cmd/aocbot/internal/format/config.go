// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package format

import (
	"context"
	"errors"
	"fmt"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/completions"
	"go.astrophena.name/aocbot/internal/logger"
	"go.astrophena.name/aocbot/internal/starlark/go2star"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const maxExecutionSteps = 1_000_000

// Config holds message overrides defined in a Starlark file.
//
// A config file may define any of these globals:
//
//	motivation = ["Keep going!", "..."]
//	closure = "Sent from the North Pole"
//
//	def format_summary(board):
//	    return "\n".join(["%d. %s" % (s.position, s.name) for s in board])
//
//	def format_completions(board, completions):
//	    return ", ".join([c.name for c in completions])
//
// board is a list of standings with position, id, name, local_score and
// stars attributes. completions is a list with member_id, name, completed
// and first attributes.
type Config struct {
	Motivation        []string
	Closure           string
	FormatSummary     *starlark.Function
	FormatCompletions *starlark.Function
}

// ValidationError is returned when a config file or a formatter defined in it
// produces an invalid value.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// LoadConfig executes the Starlark source src and collects overrides from it.
func LoadConfig(ctx context.Context, filename string, src []byte) (*Config, error) {
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		newThread(ctx, "config"),
		filename,
		src,
		nil,
	)
	if err != nil {
		return nil, err
	}

	c := &Config{}

	if v, ok := globals["motivation"]; ok {
		list, ok := v.(*starlark.List)
		if !ok {
			return nil, &ValidationError{Name: "motivation", Reason: "must be a list of strings, got " + v.Type()}
		}
		for elem := range list.Elements() {
			s, ok := starlark.AsString(elem)
			if !ok || s == "" {
				return nil, &ValidationError{Name: "motivation", Reason: "must contain only non-empty strings"}
			}
			c.Motivation = append(c.Motivation, s)
		}
	}

	if v, ok := globals["closure"]; ok {
		s, ok := starlark.AsString(v)
		if !ok {
			return nil, &ValidationError{Name: "closure", Reason: "must be a string, got " + v.Type()}
		}
		c.Closure = s
	}

	for name, dst := range map[string]**starlark.Function{
		"format_summary":     &c.FormatSummary,
		"format_completions": &c.FormatCompletions,
	} {
		v, ok := globals[name]
		if !ok {
			continue
		}
		fn, ok := v.(*starlark.Function)
		if !ok {
			return nil, &ValidationError{Name: name, Reason: "must be a function, got " + v.Type()}
		}
		*dst = fn
	}

	return c, nil
}

func (f *Formatter) callSummary(ctx context.Context, fn *starlark.Function, lb *aoc.Leaderboard) (string, error) {
	board, err := go2star.To(lb.Ranked())
	if err != nil {
		return "", err
	}
	return call(ctx, fn, board)
}

func (f *Formatter) callCompletions(ctx context.Context, fn *starlark.Function, lb *aoc.Leaderboard, cs []completions.Completion) (string, error) {
	board, err := go2star.To(lb.Ranked())
	if err != nil {
		return "", err
	}
	list, err := go2star.To(cs)
	if err != nil {
		return "", err
	}
	return call(ctx, fn, board, list)
}

func call(ctx context.Context, fn *starlark.Function, args ...starlark.Value) (string, error) {
	val, err := starlark.Call(newThread(ctx, fn.Name()), fn, starlark.Tuple(args), nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return "", fmt.Errorf("%s: %s", fn.Name(), evalErr.Backtrace())
		}
		return "", err
	}
	s, ok := starlark.AsString(val)
	if !ok {
		return "", &ValidationError{Name: fn.Name(), Reason: "must return a string, got " + val.Type()}
	}
	if s == "" {
		return "", &ValidationError{Name: fn.Name(), Reason: "returned an empty string"}
	}
	return s, nil
}

func newThread(ctx context.Context, name string) *starlark.Thread {
	log := logger.Get(ctx)
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) { log.Info(msg, "thread", name) },
	}
	thread.SetMaxExecutionSteps(maxExecutionSteps)
	return thread
}
