// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemonctl drives the lifecycle of the out-of-process
// snapshot daemon over its Unix-socket control protocol.
//
// The daemon serves live reads against COW-backed devices while a
// merge is in progress. It exposes a line-oriented text protocol on a
// named control socket: "query" answers with an authority state
// (active or passive), "start,<cow>,<backing>,<control>" binds the
// daemon to a device triple, "terminate-request" demotes an active
// daemon to passive without killing it, and "stop" requests shutdown.
//
// Two stable endpoint identities exist, first-stage and second-stage,
// because a daemon restart is a live handoff between two daemon
// instances rather than a stop/start: the old instance keeps serving
// in-flight I/O until the external caller swaps the device tables.
// [Client.Restart] implements the client half of that handoff.
//
// Every control operation owns its connection for the duration of one
// exchange and releases it on all exit paths. Replies are awaited
// with a fixed two-second deadline; an unresponsive daemon yields
// [ErrReplyTimeout] rather than a hang. Unexpected reply text is
// reported as [ErrUnexpectedReply] so callers can fail over or retry
// instead of crashing.
package daemonctl
