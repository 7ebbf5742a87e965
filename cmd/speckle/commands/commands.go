// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the speckle command tree.
package commands

import (
	"fmt"

	"github.com/specklesystems/speckle-go/cmd/speckle/cli"
	"github.com/specklesystems/speckle-go/lib/version"
)

// Root builds and returns the complete speckle command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "speckle",
		Description: `speckle: content-addressed object sync.

Serialize JSON object graphs into records keyed by content hash, keep
them in a local SQLite cache, and sync them with a Speckle server.`,
		Subcommands: []*cli.Command{
			sendCommand(),
			receiveCommand(),
			hashCommand(),
			exportCommand(),
			importCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(cli.Stdout, "speckle %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Send a model to the configured stream",
				Command:     "speckle send model.json --stream 3073b96e86",
			},
			{
				Description: "Receive an object graph as JSON",
				Command:     "speckle receive 1d5a2f0e9c7b4a3f8e6d1c0b9a8f7e6d",
			},
			{
				Description: "Compute an object id without a server",
				Command:     "speckle hash model.json",
			},
			{
				Description: "Bundle a cached graph for offline transfer",
				Command:     "speckle export 1d5a2f0e9c7b4a3f8e6d1c0b9a8f7e6d model.spkb",
			},
		},
	}
}
