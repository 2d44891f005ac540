// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

// snapfold-ctl drives the snapshot daemon over its control socket.
//
// Subcommands:
//
//	query              probe the first-stage endpoint
//	start              spawn the first-stage daemon and wait for its socket
//	init <cow> <backing> <control>
//	                   bind one snapshot device on the active daemon
//	stop               ask the active daemon to shut down
//	restart            hand off from the first-stage daemon to a fresh
//	                   second-stage instance (--bindings names the YAML
//	                   file of devices to rebind)
//
// The bindings file:
//
//	bindings:
//	  - cow: /dev/block/cow-system
//	    backing: /dev/block/system_a
//	    control: /dev/dm-user/system
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/snapfold/snapfold/daemonctl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var runDir string
	var daemonBinary string
	var firstEndpoint string
	var secondEndpoint string
	var verbose bool

	flagSet := pflag.NewFlagSet("snapfold-ctl", pflag.ContinueOnError)
	flagSet.StringVar(&runDir, "run-dir", "/run/snapfold", "directory holding the daemon control sockets")
	flagSet.StringVar(&daemonBinary, "daemon", "snapfoldd", "daemon binary to spawn")
	flagSet.StringVar(&firstEndpoint, "first-endpoint", daemonctl.DefaultFirstStageEndpoint, "first-stage endpoint name")
	flagSet.StringVar(&secondEndpoint, "second-endpoint", daemonctl.DefaultSecondStageEndpoint, "second-stage endpoint name")
	flagSet.BoolVar(&verbose, "verbose", false, "log each protocol exchange")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := daemonctl.NewClient(daemonctl.Config{
		RunDir:              runDir,
		DaemonBinary:        daemonBinary,
		FirstStageEndpoint:  firstEndpoint,
		SecondStageEndpoint: secondEndpoint,
		Logger:              logger,
	})

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage(flagSet)
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "query":
		if err := client.Probe(client.FirstStageEndpoint()); err != nil {
			return err
		}
		fmt.Println("active")
		return nil

	case "start":
		return client.Start()

	case "init":
		if len(args) != 4 {
			return fmt.Errorf("init: usage: init <cow> <backing> <control>")
		}
		return client.Initialize(args[1], args[2], args[3])

	case "stop":
		stopFlags := pflag.NewFlagSet("stop", pflag.ContinueOnError)
		firstStageDirect := stopFlags.Bool("first-stage-direct", false,
			"send stop to the first-stage socket without probing")
		if err := stopFlags.Parse(args[1:]); err != nil {
			return err
		}
		return client.Stop(*firstStageDirect)

	case "restart":
		restartFlags := pflag.NewFlagSet("restart", pflag.ContinueOnError)
		bindingsPath := restartFlags.String("bindings", "",
			"YAML file listing devices to rebind on the new daemon")
		if err := restartFlags.Parse(args[1:]); err != nil {
			return err
		}
		var bindings []daemonctl.Binding
		if *bindingsPath != "" {
			loaded, err := loadBindings(*bindingsPath)
			if err != nil {
				return err
			}
			bindings = loaded
		}
		return client.Restart(bindings)

	default:
		printUsage(flagSet)
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: snapfold-ctl [flags] <subcommand>

subcommands:
  query                         probe the first-stage daemon
  start                         spawn the first-stage daemon
  init <cow> <backing> <control>  bind one snapshot device
  stop [--first-stage-direct]   shut down the active daemon
  restart [--bindings file]     hand off to a second-stage daemon

flags:
`)
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}

// bindingsFile is the on-disk shape of the --bindings YAML document.
type bindingsFile struct {
	Bindings []struct {
		Cow     string `yaml:"cow"`
		Backing string `yaml:"backing"`
		Control string `yaml:"control"`
	} `yaml:"bindings"`
}

func loadBindings(path string) ([]daemonctl.Binding, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading bindings file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	// Strict decoding: a typo like "backng:" should fail, not
	// silently leave an empty device path.
	decoder.KnownFields(true)
	var parsed bindingsFile
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	bindings := make([]daemonctl.Binding, 0, len(parsed.Bindings))
	for i, entry := range parsed.Bindings {
		if entry.Cow == "" || entry.Backing == "" || entry.Control == "" {
			return nil, fmt.Errorf("%s: binding %d is missing a device path", path, i)
		}
		bindings = append(bindings, daemonctl.Binding{
			CowDevice:     entry.Cow,
			BackingDevice: entry.Backing,
			ControlDevice: entry.Control,
		})
	}
	return bindings, nil
}
