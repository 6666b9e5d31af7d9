// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

// Options is the set of optional parameters for [OpenLibraries].
// A nil *Options is treated the same as the zero value.
type Options struct {
	Base *BaseOptions
	Math *MathOptions
}

// OpenLibraries opens the standard libraries
// (basic, math, string, and table)
// into l's global table.
func OpenLibraries(l *Thread, opts *Options) error {
	if opts == nil {
		opts = new(Options)
	}
	globals := l.Globals()
	if err := OpenBase(globals, opts.Base); err != nil {
		return err
	}
	if err := OpenMath(globals, opts.Math); err != nil {
		return err
	}
	if err := OpenString(l, globals); err != nil {
		return err
	}
	if err := OpenTable(globals); err != nil {
		return err
	}
	return nil
}
