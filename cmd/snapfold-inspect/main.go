// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

// snapfold-inspect examines and builds snapshot containers.
//
// Subcommands:
//
//	header <container>            print the parsed container header
//	ops <container>               list the operation table
//	decode <container>            decode operation payloads to a file or stdout
//	build <container> --input ..  build a container from a raw image
//
// header and ops are read-only and validate the container's integrity
// checksums as a side effect: a corrupt container fails loudly rather
// than printing garbage.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/snapfold/snapfold/cow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 || isHelpFlag(os.Args[1]) {
		printUsage(os.Stderr)
		if len(os.Args) < 2 {
			return fmt.Errorf("subcommand required")
		}
		return nil
	}

	switch os.Args[1] {
	case "header":
		return runHeader(os.Args[2:])
	case "ops":
		return runOps(os.Args[2:])
	case "decode":
		return runDecode(os.Args[2:])
	case "build":
		return runBuild(os.Args[2:])
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: snapfold-inspect <subcommand> [flags]

subcommands:
  header <container>   print the parsed container header
  ops <container>      list the operation table
  decode <container>   decode operation payloads (--out writes to a file)
  build <container>    build a container from a raw image (--input)
`)
}

// openContainer resolves the single positional path argument and opens
// it as a container.
func openContainer(name string, args []string) (*cow.Reader, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: exactly one container path required", name)
	}
	reader, err := cow.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", args[0], err)
	}
	return reader, nil
}

func runHeader(args []string) error {
	flagSet := pflag.NewFlagSet("header", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	reader, err := openContainer("header", flagSet.Args())
	if err != nil {
		return err
	}
	defer reader.Close()

	header := reader.Header()
	fmt.Printf("version:       %d.%d\n", header.MajorVersion, header.MinorVersion)
	fmt.Printf("header size:   %d\n", header.HeaderSize)
	fmt.Printf("block size:    %d\n", header.BlockSize)
	fmt.Printf("operations:    %d\n", header.NumOps)
	fmt.Printf("ops offset:    %d\n", header.OpsOffset)
	fmt.Printf("ops size:      %d\n", header.OpsSize)
	fmt.Printf("header sum:    %x\n", header.HeaderChecksum)
	fmt.Printf("ops sum:       %x\n", header.OpsChecksum)
	return nil
}

func runOps(args []string) error {
	flagSet := pflag.NewFlagSet("ops", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	reader, err := openContainer("ops", flagSet.Args())
	if err != nil {
		return err
	}
	defer reader.Close()

	iter, err := reader.OpIterator()
	if err != nil {
		return fmt.Errorf("loading operation table: %w", err)
	}
	index := 0
	for !iter.Done() {
		op := iter.Current()
		switch op.Kind {
		case cow.OpCopy:
			fmt.Printf("%6d  copy     block %d <- block %d\n", index, op.NewBlock, op.Source)
		case cow.OpZero:
			fmt.Printf("%6d  zero     block %d\n", index, op.NewBlock)
		case cow.OpReplace:
			fmt.Printf("%6d  replace  block %d  %s  %d bytes at offset %d\n",
				index, op.NewBlock, op.Compression, op.DataLength, op.Source)
		default:
			fmt.Printf("%6d  unknown kind %d\n", index, op.Kind)
		}
		index++
		iter.Advance()
	}
	fmt.Printf("%d operations\n", index)
	return nil
}

func runDecode(args []string) error {
	var outPath string
	flagSet := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flagSet.StringVar(&outPath, "out", "", "write decoded blocks to this file (default: stdout)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	reader, err := openContainer("decode", flagSet.Args())
	if err != nil {
		return err
	}
	defer reader.Close()

	var sink io.Writer = os.Stdout
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer file.Close()
		sink = file
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	blockSize := reader.Header().BlockSize
	zeroBlock := make([]byte, blockSize)

	iter, err := reader.OpIterator()
	if err != nil {
		return fmt.Errorf("loading operation table: %w", err)
	}
	index := 0
	for !iter.Done() {
		op := iter.Current()
		switch op.Kind {
		case cow.OpReplace:
			if err := reader.DecodeOperation(op, sink); err != nil {
				return fmt.Errorf("decoding operation %d: %w", index, err)
			}
		case cow.OpZero:
			if _, err := sink.Write(zeroBlock); err != nil {
				return fmt.Errorf("writing zero block for operation %d: %w", index, err)
			}
		case cow.OpCopy:
			// Copy operations reference the backing device, which
			// this tool has no access to.
			logger.Warn("skipping copy operation", "index", index, "block", op.NewBlock)
		}
		index++
		iter.Advance()
	}
	return nil
}

func runBuild(args []string) error {
	var inputPath string
	var compressionName string
	var blockSize uint32
	flagSet := pflag.NewFlagSet("build", pflag.ContinueOnError)
	flagSet.StringVar(&inputPath, "input", "", "raw image to pack into the container")
	flagSet.StringVar(&compressionName, "compression", "zstd", "payload compression: none, lz4, or zstd")
	flagSet.Uint32Var(&blockSize, "block-size", 4096, "device block size in bytes")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	positional := flagSet.Args()
	if len(positional) != 1 {
		return fmt.Errorf("build: exactly one output container path required")
	}
	if inputPath == "" {
		return fmt.Errorf("build: --input is required")
	}
	compression, err := cow.ParseCompression(compressionName)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}

	writer := cow.NewWriter(blockSize)
	if err := writer.AddData(0, data, compression); err != nil {
		return fmt.Errorf("packing %s: %w", inputPath, err)
	}
	if err := writer.WriteFile(positional[0]); err != nil {
		return fmt.Errorf("writing %s: %w", positional[0], err)
	}
	fmt.Printf("wrote %s (%d bytes input, block size %d, %s)\n",
		positional[0], len(data), blockSize, compression)
	return nil
}
