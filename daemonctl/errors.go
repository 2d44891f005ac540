// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package daemonctl

import "errors"

// Error classes for control exchanges. Specific failures wrap one of
// these so callers can classify with errors.Is. OS-level socket and
// process errors are wrapped directly and carry no class of their
// own: they may be transient and the caller may retry the whole
// operation.
var (
	// ErrDaemonFailure marks a reply containing the protocol's
	// failure token: the daemon executed the command and reports it
	// failed.
	ErrDaemonFailure = errors.New("daemon reported failure")

	// ErrDaemonPassive marks a probe of a daemon that has yielded
	// authority. The daemon is alive but must not be given new
	// work; the caller should try the other endpoint.
	ErrDaemonPassive = errors.New("daemon is passive")

	// ErrUnexpectedReply marks reply text outside the protocol
	// vocabulary for the command sent. Recoverable: the caller
	// decides whether to fail over, retry, or abort.
	ErrUnexpectedReply = errors.New("unexpected daemon reply")

	// ErrReplyTimeout marks a command exchange where no reply
	// arrived within the fixed wait window.
	ErrReplyTimeout = errors.New("timed out waiting for daemon reply")

	// ErrSpawnTimeout marks a spawned daemon whose control socket
	// never became reachable within the connect retry budget.
	ErrSpawnTimeout = errors.New("spawned daemon never became reachable")

	// ErrNoActiveDaemon marks a connect attempt that found no
	// active daemon on either endpoint.
	ErrNoActiveDaemon = errors.New("no active daemon")
)
