// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package daemonctl

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxConnectAttempts and connectRetryDelay bound the wait for a
	// freshly spawned daemon's control socket: the spawn is
	// fire-and-forget, so socket reachability is the only readiness
	// signal, polled on a fixed budget.
	maxConnectAttempts = 10
	connectRetryDelay  = 500 * time.Millisecond
)

// Spawn starts a daemon process for the named endpoint, detached from
// the caller, and waits for its control socket to accept connections.
// The daemon outlives the caller: its exit status is never collected,
// and liveness is inferred purely from a successful probe.
// Exhausting the retry budget yields [ErrSpawnTimeout].
func (c *Client) Spawn(endpoint string) error {
	command := exec.Command(c.daemonBinary, endpoint)
	// New session: the daemon must not die with the caller's
	// terminal or process group.
	command.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := command.Start(); err != nil {
		return fmt.Errorf("spawning %s for endpoint %q: %w", c.daemonBinary, endpoint, err)
	}
	pid := command.Process.Pid
	// No Wait will ever be issued; release the process record.
	if err := command.Process.Release(); err != nil {
		return fmt.Errorf("releasing daemon process %d: %w", pid, err)
	}
	c.logger.Debug("daemon spawned", "binary", c.daemonBinary, "endpoint", endpoint, "pid", pid)

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, err := c.connect()
		if err == nil {
			conn.Close()
			c.logger.Debug("daemon control socket reachable",
				"endpoint", endpoint, "attempts", attempt)
			return nil
		}
		c.clock.Sleep(connectRetryDelay)
	}

	return fmt.Errorf("daemon for endpoint %q not reachable after %d attempts: %w",
		endpoint, maxConnectAttempts, ErrSpawnTimeout)
}

// Start spawns the first-stage daemon and waits for it to become
// reachable.
func (c *Client) Start() error {
	return c.Spawn(c.firstStage)
}
