// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// henchlua runs and manages precompiled Lua 5.2 chunks.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/henchmeninteractive/henchlua/internal/chunkstore"
	"github.com/henchmeninteractive/henchlua/internal/luac"
	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "henchlua",
		Short:         "run precompiled Lua chunks",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	if err := g.mergeEnvironment(); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
	if err := g.mergeFiles(configFiles()); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}

	rootCommand.PersistentFlags().StringVar(&g.StoreDB, "store", g.StoreDB, "`path` to chunk store database")
	rootCommand.PersistentFlags().BoolVar(&g.Debug, "debug", g.Debug, "show debugging output")
	showVersion := rootCommand.Flags().Bool("version", false, "show version information")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(g.Debug)
		return g.validate()
	}

	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		if *showVersion {
			return runVersion(cmd.Context(), cmd.OutOrStdout())
		}
		return cmd.Help()
	}

	rootCommand.AddCommand(
		newLuacCommand(),
		newRunCommand(g),
		newStoreCommand(g),
		newVersionCommand(),
	)

	ignoreSIGPIPE()
	ctx, cancel := signal.NotifyContext(context.Background(), interruptSignals...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(g.Debug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func newLuacCommand() *cobra.Command {
	c := luac.New()
	c.Use = "luac [options] CHUNK"
	return c
}

// openStore opens the chunk store database,
// creating its parent directory if needed.
func (g *globalConfig) openStore() (*chunkstore.Store, error) {
	if g.StoreDB == "" {
		return nil, errors.New("chunk store path not set (use --store or HENCHLUA_STORE)")
	}
	if err := os.MkdirAll(filepath.Dir(g.StoreDB), 0o777); err != nil {
		return nil, err
	}
	return chunkstore.Open(g.StoreDB), nil
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "henchlua: ", log.StdFlags, nil),
		})
	})
}
