// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package daemonctl

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/snapfold/snapfold/lib/clock"
	"github.com/snapfold/snapfold/lib/testutil"
)

func TestSpawnReachableDaemon(t *testing.T) {
	client := newTestClient(t)
	// The daemon binary exits immediately; a pre-started fake
	// provides the socket the readiness poll is looking for.
	startFakeDaemon(t, client.SocketPath(client.FirstStageEndpoint()), alwaysReply("active"))

	if err := client.Spawn(client.FirstStageEndpoint()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
}

func TestStartSpawnsFirstStage(t *testing.T) {
	client := newTestClient(t)
	startFakeDaemon(t, client.SocketPath(client.FirstStageEndpoint()), alwaysReply("active"))

	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestSpawnExhaustsRetryBudget(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	client := NewClient(Config{
		RunDir:       testutil.SocketDir(t),
		DaemonBinary: "/bin/true",
		Clock:        fake,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	// No socket ever appears: every connect attempt fails fast and
	// the poll burns its whole budget.
	result := make(chan error, 1)
	go func() {
		result <- client.Spawn(client.FirstStageEndpoint())
	}()

	for i := 0; i < maxConnectAttempts; i++ {
		fake.WaitForTimers(1)
		fake.Advance(connectRetryDelay)
	}

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Spawn to give up")
	if !errors.Is(err, ErrSpawnTimeout) {
		t.Fatalf("got %v, want ErrSpawnTimeout", err)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	client := NewClient(Config{
		RunDir:       testutil.SocketDir(t),
		DaemonBinary: "/nonexistent/snapfoldd",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := client.Spawn(client.FirstStageEndpoint()); err == nil {
		t.Fatal("spawning a missing binary succeeded")
	}
}
