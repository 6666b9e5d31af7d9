// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"runtime/debug"

	"github.com/henchmeninteractive/henchlua/internal/lua"
	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
)

// henchluaVersion is the version string filled in by the linker (e.g. "1.2.3").
var henchluaVersion string

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runVersion(cmd.Context(), cmd.OutOrStdout())
	}
	return c
}

func runVersion(ctx context.Context, w io.Writer) error {
	firstLine := "henchlua"
	switch {
	case henchluaVersion != "":
		firstLine += " version " + henchluaVersion
	case buildInfoVersion() != "":
		firstLine += " version " + buildInfoVersion()
	default:
		firstLine += " (version unknown)"
	}

	fmt.Fprintf(w, "%s\nLanguage:     %s (precompiled chunks only)\nGo:           %s\nSystem:       %s/%s\nCPUs:         %d\n",
		firstLine, lua.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())

	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		output, err := exec.CommandContext(ctx, "uname", "-srv").Output()
		if errors.Is(err, exec.ErrNotFound) {
			log.Debugf(ctx, "uname: %v", err)
		} else if err != nil {
			log.Errorf(ctx, "uname: %v", err)
		} else {
			output = bytes.TrimSuffix(output, []byte("\n"))
			fmt.Fprintf(w, "OS:           %s\n", output)
		}
	}

	return nil
}

func buildInfoVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}
