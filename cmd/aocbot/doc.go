// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Aocbot posts Advent of Code private leaderboard updates to a chat.

# Usage

	$ aocbot [flags...] <command>

Commands:

  - summary: post today's standings, sorted by local score.
  - check: post members that earned stars since the previous check and save
    the fetched leaderboard for the next one.
  - serve: run summary and check on their schedules and serve HTTP.
  - snapshot [-o file]: print the leaderboard saved by the last check, or
    write it to a file.

When no snapshot is stored yet, check compares against an empty leaderboard
and announces every member as a newcomer. Pass -baseline to save the first
snapshot silently instead.

# Environment Variables

  - AOC_SESSION_TOKEN: value of the "session" cookie of an Advent of Code user
    that has access to the leaderboard. Required.
  - AOC_LEADERBOARD_ID: ID of the private leaderboard.
  - SLACK_WEBHOOK_URL: Slack incoming webhook to post messages to.
  - TELEGRAM_TOKEN and TELEGRAM_CHAT_ID: Telegram bot token and chat to post
    messages to, if SLACK_WEBHOOK_URL is not set.
  - GEMINI_API_KEY: if set, motivational lines are generated by Gemini.

Flags can also be set with AOC_YEAR, AOC_STORE, AOC_TIMEZONE,
AOC_DAILY_SCHEDULE, AOC_CHECK_SCHEDULE, AOC_CONFIG and ADDR. Flags take
precedence over the environment.

# State

The leaderboard saved by the last check is stored under the "previous_state"
key. The -store flag selects where:

	mem:                      in memory, lost on exit
	file:/path/state.json     JSON file
	sqlite:/path/state.db     SQLite database
	postgres://...            PostgreSQL database
	redis://...               Redis server

By default, the state is kept in state.json inside $STATE_DIRECTORY or
$XDG_STATE_HOME/aocbot.

Advent of Code asks to not poll private leaderboards more often than every 15
minutes, so fetched leaderboards are cached for a bit less than that, and jobs
that fire together share one request.

# Configuration

The optional Starlark file passed with -config can override parts of the
messages:

	motivation = [
	    "Keep going!",
	    "The elves believe in you.",
	]

	closure = "Sent from the North Pole"

	def format_summary(board):
	    return "\n".join(["%d. %s %d" % (s.position, s.name, s.local_score) for s in board])

	def format_completions(board, completions):
	    return "New stars: " + ", ".join([c.name for c in completions])

Formatting functions must return a non-empty string.

# HTTP

In serve mode, aocbot listens on -addr and serves:

  - /health: status of the scheduler, the state store and the last run of
    each job.
  - /leaderboard/summary: current standings as JSON.
  - /debug/log: stream of log lines.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/aocbot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
