// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package notify

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/aocbot/internal/request"
)

const (
	tgAPI       = "https://api.telegram.org"
	maxRuneSize = 4096
)

// Telegram sends messages to a chat via the Telegram Bot API.
type Telegram struct {
	Token  string
	ChatID string
	// APIURL overrides the Bot API address.
	APIURL     string
	HTTPClient *http.Client
}

type tgMessage struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Notify implements the [Notifier] interface. Messages longer than Telegram
// allows are sent in several parts.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.Token == "" || t.ChatID == "" {
		return errors.New("telegram: token and chat ID are required")
	}
	for _, chunk := range splitMessage(text) {
		msg := &tgMessage{ChatID: t.ChatID, Text: chunk}
		msg.LinkPreviewOptions.IsDisabled = true
		if _, err := request.Make[request.IgnoreResponse](ctx, request.Params{
			Method:     http.MethodPost,
			URL:        cmp.Or(t.APIURL, tgAPI) + "/bot" + t.Token + "/sendMessage",
			Body:       msg,
			HTTPClient: t.HTTPClient,
			Scrubber:   strings.NewReplacer(t.Token, "[EXPUNGED]"),
		}); err != nil {
			return fmt.Errorf("failed to send to Telegram: %w", err)
		}
	}
	return nil
}

// splitMessage splits text into chunks of at most maxRuneSize runes,
// preferring to break on newlines, then on other whitespace.
func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxRuneSize {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)
		for i, r := range text {
			if runeCount == maxRuneSize {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}
