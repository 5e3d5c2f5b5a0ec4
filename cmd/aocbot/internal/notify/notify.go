// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package notify delivers rendered messages to chat services.
package notify

import (
	"context"
	"fmt"
	"io"

	"go.astrophena.name/aocbot/internal/logger"
)

// Notifier delivers a message to a configured destination.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Dry writes messages to Out instead of sending them.
type Dry struct {
	Out io.Writer
}

// Notify implements the [Notifier] interface.
func (d *Dry) Notify(ctx context.Context, text string) error {
	logger.Get(ctx).Info("dry run, not sending message", "length", len(text))
	if d.Out == nil {
		return nil
	}
	_, err := fmt.Fprintln(d.Out, text)
	return err
}
