// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package motivation provides the motivational line that opens every message.
package motivation

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

//go:embed messages.json
var messagesJSON []byte

// Messages returns the built-in motivational lines.
var Messages = sync.OnceValue(func() []string {
	var data struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(messagesJSON, &data); err != nil {
		panic(err)
	}
	return data.Messages
})

// Source produces a motivational line.
type Source interface {
	Line(ctx context.Context) string
}

// List picks a random line from Messages.
type List struct {
	// Messages to pick from. If empty, built-in messages are used.
	Messages []string
	// Pick returns a number in [0, n). Required.
	Pick func(n int) int
}

// Line implements the [Source] interface.
func (l *List) Line(context.Context) string {
	msgs := l.Messages
	if len(msgs) == 0 {
		msgs = Messages()
	}
	return msgs[l.Pick(len(msgs))]
}

// DefaultModel is the Gemini model used by [NewGemini].
const DefaultModel = "gemini-1.5-flash"

const maxLineLen = 200

const systemInstruction = `You write a single short, upbeat, festive line to motivate a group of
programmers solving Advent of Code puzzles. Reply with the line only: no
quotes, no markdown, at most one emoji, under 150 characters.`

// Gemini generates lines with a Gemini model, falling back to another
// [Source] when generation fails.
type Gemini struct {
	Fallback Source
	Logger   *slog.Logger

	generate func(ctx context.Context, prompt string) (string, error)
	close    func() error
}

// NewGemini returns a Gemini source authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey, model string, fallback Source, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(1)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	return &Gemini{
		Fallback: fallback,
		Logger:   logger,
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := m.GenerateContent(ctx, genai.Text(prompt))
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if text, ok := part.(genai.Text); ok {
						sb.WriteString(string(text))
					}
				}
				break
			}
			return sb.String(), nil
		},
		close: client.Close,
	}, nil
}

// Line implements the [Source] interface.
func (g *Gemini) Line(ctx context.Context) string {
	text, err := g.generate(ctx, "Write today's line.")
	if err != nil {
		g.warn("motivation generation failed, using fallback", "error", err)
		return g.Fallback.Line(ctx)
	}
	line := cleanLine(text)
	if line == "" {
		g.warn("motivation generation returned an empty or overlong line, using fallback", "length", utf8.RuneCountInString(text))
		return g.Fallback.Line(ctx)
	}
	return line
}

func (g *Gemini) warn(msg string, args ...any) {
	if g.Logger != nil {
		g.Logger.Warn(msg, args...)
	}
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s, _, _ = strings.Cut(s, "\n")
	s = strings.Trim(strings.TrimSpace(s), `"*_`)
	if utf8.RuneCountInString(s) > maxLineLen {
		return ""
	}
	return s
}
