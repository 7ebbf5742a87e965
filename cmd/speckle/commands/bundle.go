// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/specklesystems/speckle-go/cmd/speckle/cli"
	"github.com/specklesystems/speckle-go/lib/bundle"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// bundleResult is printed by export and import.
type bundleResult struct {
	Root        string `json:"root"`
	Records     int    `json:"records"`
	Hasher      string `json:"hasher"`
	Compression string `json:"compression,omitempty"`
}

func exportCommand() *cli.Command {
	var (
		session     sessionFlags
		compression string
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Write a cached object graph to a bundle file",
		Description: `Write the record for <object-id> and every record it references to a
bundle file. Records missing from the local cache are downloaded from
the server when one is configured. Use "-" to write to stdout.`,
		Usage: "speckle export <object-id> <file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			session.register(flagSet)
			flagSet.StringVar(&compression, "compression", "zstd", "bundle compression: none, lz4, or zstd")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return errors.New("usage: speckle export <object-id> <file>")
			}
			id, path := args[0], args[1]
			if !objecthash.ValidID(id) {
				return fmt.Errorf("invalid object id %q", id)
			}
			codec, err := bundle.ParseCompression(compression)
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

			if err := s.ensureLocal(ctx, id); err != nil {
				return err
			}

			var w io.Writer = cli.Stdout
			var file *os.File
			if path != "-" {
				file, err = os.Create(path)
				if err != nil {
					return err
				}
				w = file
			}
			header, err := bundle.Export(ctx, w, s.cache, id, bundle.ExportOptions{
				Compression: codec,
				Hasher:      s.hasher.Name(),
				Logger:      s.logger,
			})
			if file != nil {
				err = errors.Join(err, file.Close())
			}
			if err != nil {
				if file != nil {
					os.Remove(path)
				}
				return err
			}
			if path == "-" {
				return nil
			}
			return cli.WriteJSON(bundleResult{
				Root:        header.Root,
				Records:     header.Records,
				Hasher:      header.Hasher,
				Compression: codec.String(),
			})
		},
	}
}

func importCommand() *cli.Command {
	var (
		session sessionFlags
		verify  bool
	)
	return &cli.Command{
		Name:    "import",
		Summary: "Load a bundle file into the local cache",
		Description: `Read a bundle file written by "speckle export" and save every record
into the local cache. With --verify each record is rehashed and the
import fails on the first id mismatch. Use "-" to read from stdin.`,
		Usage: "speckle import <file> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			session.register(flagSet)
			flagSet.BoolVar(&verify, "verify", false, "rehash every record while importing")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: speckle import <file>")
			}

			var r io.Reader = os.Stdin
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				r = file
			}

			s, err := session.openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := commandContext()
			defer stop()

			header, err := bundle.Import(ctx, r, s.cache, bundle.ImportOptions{
				Verify: verify,
				Logger: s.logger,
			})
			if err != nil {
				return err
			}
			return cli.WriteJSON(bundleResult{
				Root:    header.Root,
				Records: header.Records,
				Hasher:  header.Hasher,
			})
		},
	}
}

// ensureLocal copies id and its closure from the server when the root
// record is not in the cache.
func (s *session) ensureLocal(ctx context.Context, id string) error {
	found, err := s.cache.HasObjects(ctx, []string{id})
	if err != nil {
		return err
	}
	if found[id] {
		return nil
	}
	if s.remote == nil {
		return fmt.Errorf("object %s: %w (no server configured to download from)", id, transport.ErrNotFound)
	}
	s.logger.Info("downloading object graph", "object_id", id, "remote", s.remote.Name())
	if _, err := s.remote.CopyObjectAndChildren(ctx, id, s.cache); err != nil {
		return err
	}
	return nil
}
