// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package luac provides a Cobra command that inspects and rewrites
// precompiled Lua 5.2 chunks.
// Its command-line options and listing format are roughly the same as [luac(1)],
// but it never compiles source: the input must already be a binary chunk.
//
// [luac(1)]: https://www.lua.org/manual/5.2/luac.html
package luac

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/henchmeninteractive/henchlua/internal/chunkio"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
)

type options struct {
	inputFilename  string
	outputFilename string
	list           int
	parseOnly      bool
	stripDebug     bool
	rawPC          bool
}

// New returns a new luac command.
func New() *cobra.Command {
	c := &cobra.Command{
		Use:                   "luac [options] CHUNK",
		Short:                 "list or rewrite a precompiled chunk",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(options)
	c.Flags().CountVarP(&opts.list, "list", "l", "produce a listing of the bytecode (twice for constants, locals, and upvalues)")
	c.Flags().StringVarP(&opts.outputFilename, "output", "o", "luac.out", "output to `filename` (compressed with bzip2 if it ends in .bz2)")
	c.Flags().BoolVarP(&opts.parseOnly, "parse-only", "p", false, "do not write bytecode")
	c.Flags().BoolVarP(&opts.stripDebug, "strip-debug", "s", false, "strip debug information")
	c.Flags().BoolVarP(&opts.rawPC, "raw-pc", "0", false, "show literal PC values")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.inputFilename = args[0]
		return run(cmd, opts)
	}
	return c
}

func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	proto, err := chunkio.Read(ctx, opts.inputFilename, nil)
	if err != nil {
		return err
	}

	if opts.list > 0 {
		out := bufio.NewWriter(cmd.OutOrStdout())
		functionNames := make(map[*luacode.Prototype]string)
		nameFunctions(functionNames, proto)
		pcBase := 0
		if !opts.rawPC {
			pcBase = 1
		}
		printFunction(out, proto, functionNames, pcBase, opts.list > 1)
		if err := out.Flush(); err != nil {
			return err
		}
	}

	if opts.parseOnly {
		return nil
	}
	output, err := (&luacode.DumpOptions{StripDebug: opts.stripDebug}).AppendBinary(nil, proto)
	if err != nil {
		return err
	}
	if strings.HasSuffix(opts.outputFilename, ".bz2") {
		output, err = chunkio.CompressBzip2(output)
		if err != nil {
			return err
		}
	}
	if err := os.WriteFile(opts.outputFilename, output, 0o666); err != nil {
		return err
	}
	log.Debugf(ctx, "Wrote %d bytes to %s", len(output), opts.outputFilename)
	return nil
}

func printFunction(w io.Writer, f *luacode.Prototype, functionNames map[*luacode.Prototype]string, pcBase int, full bool) {
	var source string
	if s, ok := f.Source.Abstract(); ok {
		source = s
	} else if s, ok := f.Source.Filename(); ok {
		source = s
	} else if strings.HasPrefix(string(f.Source), luacode.Signature[:1]) {
		source = "(bstring)"
	} else {
		source = "(string)"
	}
	ifElse := func(b bool, t, f string) string {
		if b {
			return t
		} else {
			return f
		}
	}
	plural := func(n int, unit string, unitPlural string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %s", n, unitPlural)
	}
	fmt.Fprintf(w,
		"\n%s <%s:%d,%d> (%s for %s)\n",
		ifElse(f.IsMainChunk(), "main", "function"),
		source,
		f.LineDefined,
		f.LastLineDefined,
		plural(len(f.Code), "instruction", "instructions"),
		functionNames[f],
	)
	fmt.Fprintf(w,
		"%d%s %s, %s, %s, %s, %s, %s\n",
		f.NumParams,
		ifElse(f.IsVararg, "+", ""),
		ifElse(f.NumParams == 1, "param", "params"),
		plural(int(f.MaxStackSize), "slot", "slots"),
		plural(len(f.Upvalues), "upvalue", "upvalues"),
		plural(len(f.LocalVariables), "local", "locals"),
		plural(len(f.Constants), "constant", "constants"),
		plural(len(f.Functions), "function", "functions"),
	)

	lineBuf := new(bytes.Buffer)
	for pc, i := range f.Code {
		lineBuf.Reset()
		fmt.Fprintf(lineBuf, "\t%d\t", pcBase+pc)
		if line := f.Line(pc); line > 0 {
			fmt.Fprintf(lineBuf, "[%d]\t", line)
		} else {
			lineBuf.WriteString("[-]\t")
		}
		lineBuf.WriteString(i.String())
		if comment := instructionComment(f, functionNames, pcBase, pc); comment != "" {
			lineBuf.WriteString("\t; ")
			lineBuf.WriteString(comment)
		}
		lineBuf.WriteByte('\n')
		w.Write(lineBuf.Bytes())
	}

	if full {
		fmt.Fprintf(w, "constants (%d) for %s:\n", len(f.Constants), functionNames[f])
		for i, k := range f.Constants {
			fmt.Fprintf(w, "\t%d\t%v\n", pcBase+i, k)
		}

		fmt.Fprintf(w, "locals (%d) for %s:\n", len(f.LocalVariables), functionNames[f])
		for i, v := range f.LocalVariables {
			fmt.Fprintf(w, "\t%d\t%s\t%d\t%d\n", i, v.Name, pcBase+v.StartPC, pcBase+v.EndPC)
		}

		fmt.Fprintf(w, "upvalues (%d) for %s:\n", len(f.Upvalues), functionNames[f])
		for i, uv := range f.Upvalues {
			fmt.Fprintf(w, "\t%d\t%s\t%s\t%d\n", i, uv.Name, ifElse(uv.InStack(), "1", "0"), uv.Index)
		}
	}

	for _, f := range f.Functions {
		printFunction(w, f, functionNames, pcBase, full)
	}
}

// instructionComment returns the annotation luac prints
// after the instruction at pc, or the empty string if there is none.
func instructionComment(f *luacode.Prototype, functionNames map[*luacode.Prototype]string, pcBase, pc int) string {
	i := f.Code[pc]
	constant := func(idx int) string {
		if idx < 0 || idx >= len(f.Constants) {
			return "?"
		}
		return f.Constants[idx].String()
	}
	rk := func(arg uint16) string {
		if !luacode.IsConstant(arg) {
			return "-"
		}
		return constant(luacode.ConstantIndex(arg))
	}
	upvalueName := func(idx int) string {
		if idx < len(f.Upvalues) && f.Upvalues[idx].Name != "" {
			return f.Upvalues[idx].Name
		}
		return "-"
	}

	switch op := i.OpCode(); op {
	case luacode.OpLoadK:
		return constant(int(i.ArgBx()))
	case luacode.OpLoadKX:
		if pc+1 < len(f.Code) && f.Code[pc+1].OpCode() == luacode.OpExtraArg {
			return constant(int(f.Code[pc+1].ArgAx()))
		}
	case luacode.OpGetUpval, luacode.OpSetUpval:
		return upvalueName(int(i.ArgB()))
	case luacode.OpGetTabUp:
		return upvalueName(int(i.ArgB())) + " " + rk(i.ArgC())
	case luacode.OpSetTabUp:
		return upvalueName(int(i.ArgA())) + " " + rk(i.ArgB()) + " " + rk(i.ArgC())
	case luacode.OpGetTable, luacode.OpSelf:
		if luacode.IsConstant(i.ArgC()) {
			return rk(i.ArgC())
		}
	case luacode.OpSetTable,
		luacode.OpAdd, luacode.OpSub, luacode.OpMul, luacode.OpDiv, luacode.OpMod, luacode.OpPow,
		luacode.OpEQ, luacode.OpLT, luacode.OpLE:
		if luacode.IsConstant(i.ArgB()) || luacode.IsConstant(i.ArgC()) {
			return rk(i.ArgB()) + " " + rk(i.ArgC())
		}
	case luacode.OpJMP, luacode.OpForLoop, luacode.OpForPrep, luacode.OpTForLoop:
		return fmt.Sprintf("to %d", pcBase+pc+1+int(i.ArgBx()))
	case luacode.OpClosure:
		if bx := int(i.ArgBx()); bx < len(f.Functions) {
			return functionNames[f.Functions[bx]]
		}
	case luacode.OpSetList:
		if c := i.ArgC(); c != 0 {
			return fmt.Sprint(c)
		}
		if pc+1 < len(f.Code) {
			return fmt.Sprint(f.Code[pc+1].ArgAx())
		}
	}
	return ""
}

func nameFunctions(names map[*luacode.Prototype]string, f *luacode.Prototype) {
	base := names[f]
	isTop := base == ""
	if isTop {
		if f.IsMainChunk() {
			base = "main"
		} else {
			base = "top"
		}
		names[f] = base
	}

	for i, f := range f.Functions {
		var name string
		if isTop {
			name = fmt.Sprintf("F[%d]", i)
		} else {
			name = fmt.Sprintf("%s[%d]", base, i)
		}
		names[f] = name
		nameFunctions(names, f)
	}
}
