// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.astrophena.name/aocbot/internal/request"
)

// Slack posts messages to a Slack incoming webhook.
type Slack struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Notify implements the [Notifier] interface.
func (s *Slack) Notify(ctx context.Context, text string) error {
	if s.WebhookURL == "" {
		return errors.New("slack: webhook URL is empty")
	}
	if _, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.WebhookURL,
		Body:       map[string]string{"text": text},
		HTTPClient: s.HTTPClient,
		Scrubber:   strings.NewReplacer(s.WebhookURL, "[EXPUNGED]"),
	}); err != nil {
		return fmt.Errorf("failed to post to Slack: %w", err)
	}
	return nil
}
