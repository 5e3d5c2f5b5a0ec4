// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd implements the parts of the sd_notify protocol used by
// long-running services: readiness and watchdog notifications.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.astrophena.name/aocbot/internal/logger"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notifier sends notifications to the service manager. The zero value does
// nothing.
type Notifier struct {
	// Getenv looks up NOTIFY_SOCKET and WATCHDOG_USEC.
	Getenv func(string) string
	// Logf receives notification errors.
	Logf logger.Logf
}

func (n *Notifier) getenv(key string) string {
	if n.Getenv == nil {
		return ""
	}
	return n.Getenv(key)
}

// Notify sends state to the service manager. It does nothing when the process
// isn't running under systemd.
func (n *Notifier) Notify(state State) {
	name := n.getenv("NOTIFY_SOCKET")
	if name == "" {
		return
	}
	if err := send(name, state); err != nil && n.Logf != nil {
		n.Logf("systemd: failed when notifying: %v", err)
	}
}

func send(socket string, state State) error {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: socket})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(state))
	return err
}

// WatchdogLoop updates the watchdog timestamp at half of the interval systemd
// expects until ctx is canceled. It returns immediately if the watchdog is
// not enabled.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	usec := n.getenv("WATCHDOG_USEC")
	if usec == "" {
		return
	}
	interval, err := watchdogInterval(usec)
	if err != nil {
		if n.Logf != nil {
			n.Logf("%v", err)
		}
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(usec string) (time.Duration, error) {
	s, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("systemd: error converting WATCHDOG_USEC: %v", err)
	}
	if s <= 0 {
		return 0, errors.New("systemd: WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(s) * time.Microsecond, nil
}
