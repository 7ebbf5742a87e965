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

func receiveCommand() *cli.Command {
	var session sessionFlags
	return &cli.Command{
		Name:    "receive",
		Summary: "Receive an object graph and print it as JSON",
		Description: `Rebuild the object graph rooted at <object-id> and print it as JSON.

Records are read from the local cache. When a server is configured,
anything missing locally is downloaded first and kept in the cache.
Detached and chunked members are printed inline under their "@name"
member names.`,
		Usage: "speckle receive <object-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("receive", pflag.ContinueOnError)
			session.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: speckle receive <object-id>")
			}
			id := args[0]
			if !objecthash.ValidID(id) {
				return fmt.Errorf("invalid object id %q", id)
			}

			s, err := session.openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := commandContext()
			defer stop()

			options := speckle.ReceiveOptions{
				Logger:    s.logger,
				Telemetry: s.telemetry,
			}
			if s.remote != nil {
				options.Remote = s.remote
			}
			root, err := speckle.Receive(ctx, id, s.cache, options)
			if err != nil {
				if errors.Is(err, transport.ErrNotFound) && s.remote == nil {
					return fmt.Errorf("%w (no server configured to download from)", err)
				}
				return err
			}
			return cli.WriteJSON(encodeGraph(root))
		},
	}
}
