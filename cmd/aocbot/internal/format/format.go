// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package format renders leaderboard messages in Slack mrkdwn.
package format

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.astrophena.name/aocbot/cmd/aocbot/internal/aoc"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/completions"
	"go.astrophena.name/aocbot/cmd/aocbot/internal/motivation"
)

// Picker returns a number in [0, n).
type Picker func(n int) int

// DefaultClosure ends every message.
const DefaultClosure = "Sent from Santa's sleigh! 🎅"

// DefaultLocation is the time zone Advent of Code puzzles unlock in.
const DefaultLocation = "America/Montreal"

var (
	podium = []string{"🎅", "🎄", "🎁"}
	emojis = []string{"🎅", "🎄", "🎁", "🧝", "⛄", "🦌", "🔔", "🕯️", "🍪", "🥛", "🎶"}
)

// Formatter renders summary and completion messages.
type Formatter struct {
	// Location is the time zone dates are shown in. Defaults to UTC.
	Location *time.Location
	// Pick selects random emojis and the "next" member. Required.
	Pick Picker
	// Motivation provides the line under the header. Required.
	Motivation motivation.Source
	// Config holds optional overrides loaded by LoadConfig.
	Config *Config
}

// Summary renders the daily standings of lb as of now.
func (f *Formatter) Summary(ctx context.Context, lb *aoc.Leaderboard, now time.Time) (string, error) {
	if fn := f.config().FormatSummary; fn != nil {
		return f.callSummary(ctx, fn, lb)
	}

	now = now.In(f.location())
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Daily Leaderboard Summary - %s*\n\n", now.Format("Monday, January 2, 2006"))
	sb.WriteString(f.Motivation.Line(ctx) + "\n")

	for i, m := range lb.Sorted() {
		emoji, name := "🧝", m.DisplayName()
		if i < len(podium) {
			emoji, name = podium[i], "*"+name+"*"
		}
		fmt.Fprintf(&sb, "%2d. %s %s %d (%d)\n", i+1, emoji, name, m.LocalScore, m.Stars)
	}

	left := DaysLeft(now)
	fmt.Fprintf(&sb, "\n%d %s left\n", left, plural(left, "Day", "Days"))
	sb.WriteString("\n_" + f.closure() + "_")
	return sb.String(), nil
}

// Completions renders cs, the completions found on lb since lastSync.
// It returns an empty string when cs is empty.
func (f *Formatter) Completions(ctx context.Context, lb *aoc.Leaderboard, cs []completions.Completion, lastSync, now time.Time) (string, error) {
	if len(cs) == 0 {
		return "", nil
	}
	if fn := f.config().FormatCompletions; fn != nil {
		return f.callCompletions(ctx, fn, lb, cs)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*New Advent of Code Completions (%s) - %s*\n\n", Window(lastSync, now), now.In(f.location()).Format("3:04 PM"))
	sb.WriteString(f.Motivation.Line(ctx) + "\n")

	for i, c := range cs {
		emoji := emojis[f.Pick(len(emojis))]
		if c.First {
			fmt.Fprintf(&sb, "%2d. %s *%s* joined and started their Advent of Code journey! 🎄🎉\n", i+1, emoji, c.Name)
			continue
		}
		noun := "challenges"
		if c.Completed <= 1 {
			noun = "challenge"
		}
		fmt.Fprintf(&sb, "%2d. %s %s just completed %d %s!\n", i+1, emoji, c.Name, c.Completed, noun)
	}

	if next := f.next(lb, cs); next != "" {
		fmt.Fprintf(&sb, "\n_Will %s be the next to complete a challenge? 🤔_", next)
	} else {
		sb.WriteString("\n_Who's next? 🎄_")
	}
	sb.WriteString("\n\n_" + f.closure() + "_")
	return sb.String(), nil
}

// next picks a random member of lb that is not among cs.
func (f *Formatter) next(lb *aoc.Leaderboard, cs []completions.Completion) string {
	var rest []string
	for _, m := range lb.Sorted() {
		if slices.ContainsFunc(cs, func(c completions.Completion) bool { return c.MemberID == m.ID }) {
			continue
		}
		rest = append(rest, m.DisplayName())
	}
	if len(rest) == 0 {
		return ""
	}
	return rest[f.Pick(len(rest))]
}

// DaysLeft returns the number of days left until December 25.
func DaysLeft(now time.Time) int {
	return max(25-now.Day(), 0)
}

// Window describes the time elapsed since the previous check.
func Window(lastSync, now time.Time) string {
	if lastSync.IsZero() || !now.After(lastSync) {
		return "Since Last Check"
	}
	d := now.Sub(lastSync)
	if d < time.Hour {
		n := max(int(d.Round(time.Minute)/time.Minute), 1)
		return fmt.Sprintf("Last %d %s", n, plural(n, "Minute", "Minutes"))
	}
	n := int(d.Round(time.Hour) / time.Hour)
	return fmt.Sprintf("Last %d %s", n, plural(n, "Hour", "Hours"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (f *Formatter) location() *time.Location {
	return cmp.Or(f.Location, time.UTC)
}

func (f *Formatter) closure() string {
	return cmp.Or(f.config().Closure, DefaultClosure)
}

func (f *Formatter) config() *Config {
	if f.Config == nil {
		return &Config{}
	}
	return f.Config
}
