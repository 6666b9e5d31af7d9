// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/henchmeninteractive/henchlua/internal/chunkio"
	"github.com/henchmeninteractive/henchlua/internal/chunkstore"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/log"
)

func newStoreCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "store COMMAND",
		Short:                 "manage the chunk store",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(
		newStoreAddCommand(g),
		newStoreListCommand(g),
		newStoreShowCommand(g),
		newStoreCatCommand(g),
		newStoreRemoveCommand(g),
		newStoreRunsCommand(g),
	)
	return c
}

// withStore opens the chunk store for the duration of f.
func withStore(ctx context.Context, g *globalConfig, f func(*chunkstore.Store) error) error {
	store, err := g.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf(ctx, "Closing chunk store: %v", err)
		}
	}()
	return f(store)
}

func newStoreAddCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "add [options] FILE [...]",
		Short:                 "add chunks to the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	name := c.Flags().StringP("name", "n", "", "bind the chunk to `name` (only valid with a single file)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		if *name != "" && len(args) > 1 {
			return errors.New("--name can only be used with a single file")
		}
		return withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			for _, path := range args {
				h, err := addChunkFile(cmd.Context(), store, *name, path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		})
	}
	return c
}

func addChunkFile(ctx context.Context, store *chunkstore.Store, name, path string) (chunkstore.Hash, error) {
	rc, err := chunkio.Open(ctx, path)
	if err != nil {
		return chunkstore.Hash{}, err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return chunkstore.Hash{}, fmt.Errorf("read %s: %v", path, err)
	}
	h, err := store.Put(ctx, name, raw)
	if err != nil {
		return chunkstore.Hash{}, fmt.Errorf("add %s: %w", path, err)
	}
	return h, nil
}

func newStoreListCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "list",
		Aliases:               []string{"ls"},
		Short:                 "list named chunks",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			chunks, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHASH\tSIZE\tADDED")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Name, c.Hash.String()[:12], c.Size, c.AddedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	}
	return c
}

func newStoreShowCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "show NAME|HASH",
		Short:                 "show information about a stored chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			info, err := store.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, _, err := store.Get(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if info.Name != "" {
				fmt.Fprintf(out, "Name:        %s\n", info.Name)
			}
			fmt.Fprintf(out, "Hash:        %v\n", info.Hash)
			fmt.Fprintf(out, "Size:        %d bytes (%d stored)\n", info.Size, info.StoredSize)
			fmt.Fprintf(out, "Added:       %s\n", info.AddedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Source:      %v\n", p.Source)
			fmt.Fprintf(out, "Functions:   %d\n", countFunctions(p))
			fmt.Fprintf(out, "Upvalues:    %d\n", len(p.Upvalues))
			return nil
		})
	}
	return c
}

func newStoreCatCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "cat [options] NAME|HASH",
		Short:                 "write a stored chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	outputPath := c.Flags().StringP("output", "o", "", "output `file`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		if *outputPath == "" && term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("refusing to send binary chunk to stdout (a tty). Pass --output=- to override.")
		}
		var raw []byte
		err := withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			var err error
			raw, _, err = store.Bytes(cmd.Context(), args[0])
			return err
		})
		if err != nil {
			return err
		}
		if *outputPath == "" || *outputPath == "-" {
			_, err := cmd.OutOrStdout().Write(raw)
			return err
		}
		return os.WriteFile(*outputPath, raw, 0o666)
	}
	return c
}

func newStoreRemoveCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "rm NAME|HASH [...]",
		Short:                 "remove chunks from the store",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			for _, ref := range args {
				if err := store.Delete(cmd.Context(), ref); err != nil {
					return fmt.Errorf("rm %s: %w", ref, err)
				}
				log.Debugf(cmd.Context(), "Removed %s", ref)
			}
			return nil
		})
	}
	return c
}

func newStoreRunsCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "runs NAME|HASH",
		Short:                 "show the recorded runs of a chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), g, func(store *chunkstore.Store) error {
			runs, err := store.Runs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tRESULT")
			for _, r := range runs {
				result := "ok"
				if r.Failed {
					result = r.Error
				}
				fmt.Fprintf(tw, "%v\t%s\t%v\t%s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond), result)
			}
			return tw.Flush()
		})
	}
	return c
}

func countFunctions(p *luacode.Prototype) int {
	n := 1
	for _, f := range p.Functions {
		n += countFunctions(f)
	}
	return n
}
