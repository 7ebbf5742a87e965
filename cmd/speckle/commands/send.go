// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	speckle "github.com/specklesystems/speckle-go"
	"github.com/specklesystems/speckle-go/cmd/speckle/cli"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// sendResult is printed by send and hash.
type sendResult struct {
	ID       string `json:"id"`
	Records  int    `json:"records"`
	Children int    `json:"children"`
	Uploaded int64  `json:"uploaded,omitempty"`
	Skipped  int64  `json:"skipped,omitempty"`
}

func sendCommand() *cli.Command {
	var session sessionFlags
	return &cli.Command{
		Name:    "send",
		Summary: "Send a JSON object graph to the server",
		Description: `Serialize a JSON object graph into the local cache and upload every
record the server does not already have.

Objects with a "speckle_type" key become entities. Members named
"@name" are stored as separate records; "@(N)name" lists are split
into chunks of N elements. Use "-" to read from stdin.`,
		Usage: "speckle send <json-file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			session.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: speckle send <json-file>")
			}
			root, err := readGraph(args[0])
			if err != nil {
				return err
			}

			s, err := session.openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := commandContext()
			defer stop()

			result, err := speckle.Send(ctx, root, []transport.Transport{s.cache, s.remote}, speckle.SendOptions{
				Hasher:    objecthash.SHA256,
				Logger:    s.logger,
				Telemetry: s.telemetry,
			})
			if err != nil {
				return err
			}
			stats := s.remote.Stats()
			return cli.WriteJSON(sendResult{
				ID:       result.ID,
				Records:  result.Records,
				Children: len(result.Closure),
				Uploaded: stats.Uploaded,
				Skipped:  stats.Skipped,
			})
		},
	}
}

func hashCommand() *cli.Command {
	var (
		session sessionFlags
		dryRun  bool
	)
	return &cli.Command{
		Name:    "hash",
		Summary: "Compute the object id of a JSON object graph",
		Description: `Serialize a JSON object graph into the local cache and print its id.
The hasher is taken from cache.hasher in the config file. With
--dry-run no record is written anywhere.`,
		Usage: "speckle hash <json-file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("hash", pflag.ContinueOnError)
			session.register(flagSet)
			flagSet.BoolVar(&dryRun, "dry-run", false, "compute the id without writing to the cache")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: speckle hash <json-file>")
			}
			root, err := readGraph(args[0])
			if err != nil {
				return err
			}

			s, err := session.openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := commandContext()
			defer stop()

			var target transport.Transport = s.cache
			if dryRun {
				target = transport.NewMemory("dry-run")
			}
			result, err := speckle.Send(ctx, root, []transport.Transport{target}, speckle.SendOptions{
				Hasher:    s.hasher,
				Logger:    s.logger,
				Telemetry: s.telemetry,
			})
			if err != nil {
				return fmt.Errorf("hash: %w", err)
			}
			return cli.WriteJSON(sendResult{
				ID:       result.ID,
				Records:  result.Records,
				Children: len(result.Closure),
			})
		},
	}
}
