// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import (
	"iter"
	"os/signal"
	"slices"

	"go4.org/xdgdir"
	"golang.org/x/sys/unix"
	"zombiezen.com/go/bass/sigterm"
)

var interruptSignals = append(sigterm.Signals(), unix.SIGHUP)

func dataDir() string {
	return xdgdir.Data.Path()
}

// systemConfigDirs returns a sequence of configuration directory paths
// in increasing order of preference (i.e. later entries should override earlier entries).
func systemConfigDirs() iter.Seq[string] {
	paths := xdgdir.Config.SearchPaths()
	return func(yield func(string) bool) {
		for _, dir := range slices.Backward(paths) {
			if !yield(dir) {
				return
			}
		}
	}
}

func ignoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}
