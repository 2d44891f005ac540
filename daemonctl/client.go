// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

package daemonctl

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snapfold/snapfold/lib/clock"
)

// Default endpoint names. The first-stage daemon is started during
// early boot of an update; the second-stage daemon takes over during
// the live handoff.
const (
	DefaultFirstStageEndpoint  = "snapfoldd"
	DefaultSecondStageEndpoint = "snapfoldd-second"
)

// Protocol command and reply vocabulary. These are wire constants
// shared with the daemon.
const (
	commandQuery            = "query"
	commandStart            = "start"
	commandStop             = "stop"
	commandTerminateRequest = "terminate-request"

	replyTokenActive  = "active"
	replyTokenPassive = "passive"
	replyTokenFail    = "fail"
	replyTokenSuccess = "success"
)

const (
	// dialTimeout bounds the connect phase of each exchange.
	dialTimeout = 5 * time.Second

	// receiveTimeout is the fixed wait for a reply after a command
	// has been sent. This is the only cancellation mechanism: once
	// a send is issued there is no mid-operation abort.
	receiveTimeout = 2 * time.Second

	// maxReplySize bounds a single reply read. Protocol replies are
	// short tokens; anything longer is already malformed.
	maxReplySize = 512
)

// Binding is one device triple the daemon serves: the COW container
// device, the backing (base) device it overlays, and the kernel
// control device the daemon binds to.
type Binding struct {
	CowDevice     string
	BackingDevice string
	ControlDevice string
}

// Config configures a control client.
type Config struct {
	// RunDir is the directory holding the daemon control sockets.
	RunDir string

	// DaemonBinary is the daemon executable path, spawned with the
	// endpoint name as its sole argument.
	DaemonBinary string

	// FirstStageEndpoint and SecondStageEndpoint override the
	// default endpoint names. Rarely needed outside tests.
	FirstStageEndpoint  string
	SecondStageEndpoint string

	// Clock drives the spawn retry delays. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives debug-level protocol traces. Defaults to the
	// process default logger.
	Logger *slog.Logger
}

// Client drives the snapshot daemon's control protocol. Each
// operation opens its own connection, performs one command exchange
// (after an optional authority probe on the same connection), and
// closes it; no connection state is retained between operations, so
// a Client is safe to reuse across independent sessions.
type Client struct {
	runDir       string
	daemonBinary string
	firstStage   string
	secondStage  string
	clock        clock.Clock
	logger       *slog.Logger
}

// NewClient creates a control client. Zero-valued optional fields of
// config are filled with defaults.
func NewClient(config Config) *Client {
	client := &Client{
		runDir:       config.RunDir,
		daemonBinary: config.DaemonBinary,
		firstStage:   config.FirstStageEndpoint,
		secondStage:  config.SecondStageEndpoint,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if client.firstStage == "" {
		client.firstStage = DefaultFirstStageEndpoint
	}
	if client.secondStage == "" {
		client.secondStage = DefaultSecondStageEndpoint
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client
}

// SocketPath returns the control socket path for an endpoint name.
func (c *Client) SocketPath(endpoint string) string {
	return filepath.Join(c.runDir, endpoint+".sock")
}

// FirstStageEndpoint returns the configured first-stage endpoint name.
func (c *Client) FirstStageEndpoint() string { return c.firstStage }

// SecondStageEndpoint returns the configured second-stage endpoint
// name.
func (c *Client) SecondStageEndpoint() string { return c.secondStage }

// Probe checks that the daemon on the named endpoint is reachable and
// active. A passive daemon yields [ErrDaemonPassive]; reply text
// outside the protocol vocabulary yields [ErrUnexpectedReply]. The
// probe connection is closed before Probe returns.
func (c *Client) Probe(endpoint string) error {
	conn, err := c.probeEndpoint(endpoint)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// probeEndpoint dials the endpoint, sends "query", and classifies the
// reply. On success the open connection is returned for the caller's
// follow-up command; on any failure the connection is closed.
func (c *Client) probeEndpoint(endpoint string) (net.Conn, error) {
	conn, err := c.dial(endpoint)
	if err != nil {
		return nil, err
	}

	if err := c.send(conn, commandQuery); err != nil {
		conn.Close()
		return nil, fmt.Errorf("probing %q: %w", endpoint, err)
	}
	reply, err := c.receive(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("probing %q: %w", endpoint, err)
	}

	switch {
	case strings.Contains(reply, replyTokenFail):
		conn.Close()
		return nil, fmt.Errorf("probing %q: %w", endpoint, ErrDaemonFailure)
	case strings.Contains(reply, replyTokenPassive):
		conn.Close()
		return nil, fmt.Errorf("endpoint %q: %w", endpoint, ErrDaemonPassive)
	case !strings.Contains(reply, replyTokenActive):
		conn.Close()
		return nil, fmt.Errorf("endpoint %q replied %q to %q: %w",
			endpoint, reply, commandQuery, ErrUnexpectedReply)
	}

	return conn, nil
}

// connect returns an open connection to the currently active daemon:
// the first-stage endpoint if it probes active, otherwise the
// second-stage endpoint. During a handoff the first-stage daemon is
// passive and the probe falls through to its successor.
func (c *Client) connect() (net.Conn, error) {
	var firstErr error
	for _, endpoint := range []string{c.firstStage, c.secondStage} {
		conn, err := c.probeEndpoint(endpoint)
		if err == nil {
			return conn, nil
		}
		c.logger.Debug("endpoint probe failed", "endpoint", endpoint, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("neither %q nor %q is serving (first error: %v): %w",
		c.firstStage, c.secondStage, firstErr, ErrNoActiveDaemon)
}

// Initialize binds the active daemon to a device triple. The daemon
// acknowledges with any reply not containing the failure token.
func (c *Client) Initialize(cowDevice, backingDevice, controlDevice string) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	command := strings.Join([]string{commandStart, cowDevice, backingDevice, controlDevice}, ",")
	if err := c.send(conn, command); err != nil {
		return fmt.Errorf("sending %q: %w", command, err)
	}
	reply, err := c.receive(conn)
	if err != nil {
		return fmt.Errorf("awaiting ack for %q: %w", command, err)
	}
	if strings.Contains(reply, replyTokenFail) {
		return fmt.Errorf("daemon rejected %q: %w", command, ErrDaemonFailure)
	}

	c.logger.Debug("daemon initialized",
		"cow", cowDevice, "backing", backingDevice, "control", controlDevice)
	return nil
}

// Stop requests daemon shutdown. No reply is awaited. With
// firstStageDirect set, the first-stage endpoint is dialed without
// the authority probe: the daemon being stopped at the end of a
// handoff is legitimately passive and would fail the probe.
func (c *Client) Stop(firstStageDirect bool) error {
	var conn net.Conn
	var err error
	if firstStageDirect {
		conn, err = c.dial(c.firstStage)
	} else {
		conn, err = c.connect()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.send(conn, commandStop); err != nil {
		return fmt.Errorf("sending stop: %w", err)
	}
	return nil
}

// Restart executes the client half of the first-stage to second-stage
// live handoff. The device remains served throughout:
//
//  1. The active (first-stage) daemon is sent "terminate-request",
//     which demotes it to passive without killing it; it keeps
//     serving I/O already in flight on the old binding. The daemon
//     must acknowledge with a reply containing "success"; anything
//     else leaves its authority ambiguous and aborts the handoff.
//  2. A second-stage daemon is spawned and polled until its control
//     socket accepts connections.
//  3. Each binding is initialized, in order, against the now-active
//     second-stage daemon. The first failed binding aborts the rest;
//     bindings already initialized stay initialized.
//
// Creating the new device tables, atomically swapping them, and
// stopping the demoted first-stage daemon are the caller's steps,
// taken only after Restart returns success.
func (c *Client) Restart(bindings []Binding) error {
	if err := c.demoteActiveDaemon(); err != nil {
		return fmt.Errorf("demoting first-stage daemon: %w", err)
	}

	if err := c.Spawn(c.secondStage); err != nil {
		return fmt.Errorf("starting second-stage daemon: %w", err)
	}
	c.logger.Debug("second-stage daemon reachable", "endpoint", c.secondStage)

	for i, binding := range bindings {
		if err := c.Initialize(binding.CowDevice, binding.BackingDevice, binding.ControlDevice); err != nil {
			return fmt.Errorf("initializing binding %d of %d (%s): %w",
				i+1, len(bindings), binding.CowDevice, err)
		}
	}
	return nil
}

// demoteActiveDaemon sends terminate-request to the active daemon and
// requires a success acknowledgement.
func (c *Client) demoteActiveDaemon() error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.send(conn, commandTerminateRequest); err != nil {
		return fmt.Errorf("sending %q: %w", commandTerminateRequest, err)
	}
	reply, err := c.receive(conn)
	if err != nil {
		return fmt.Errorf("awaiting ack for %q: %w", commandTerminateRequest, err)
	}
	if strings.Contains(reply, replyTokenFail) {
		return fmt.Errorf("daemon refused %q: %w", commandTerminateRequest, ErrDaemonFailure)
	}
	if !strings.Contains(reply, replyTokenSuccess) {
		return fmt.Errorf("daemon replied %q to %q: %w",
			reply, commandTerminateRequest, ErrUnexpectedReply)
	}
	return nil
}

// dial opens a connection to the endpoint's control socket.
func (c *Client) dial(endpoint string) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath(endpoint), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to endpoint %q: %w", endpoint, err)
	}
	return conn, nil
}

// send writes one command. A short write is an error; there is no
// partial-write retry.
func (c *Client) send(conn net.Conn, command string) error {
	n, err := conn.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	if n < len(command) {
		return fmt.Errorf("short write: sent %d of %d command bytes", n, len(command))
	}
	return nil
}

// receive waits up to the fixed reply window for one reply and
// returns it as text. The reply is exactly the bytes received: the
// read buffer beyond the received length is never interpreted.
func (c *Client) receive(conn net.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(receiveTimeout)); err != nil {
		return "", fmt.Errorf("arming reply deadline: %w", err)
	}

	buf := make([]byte, maxReplySize)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "", fmt.Errorf("no reply within %v: %w", receiveTimeout, ErrReplyTimeout)
		}
		return "", fmt.Errorf("receiving reply: %w", err)
	}
	return string(buf[:n]), nil
}
