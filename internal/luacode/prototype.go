// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"fmt"
	"slices"
	"strings"
)

// Prototype represents a compiled function.
type Prototype struct {
	// NumParams is the number of fixed (named) parameters.
	NumParams uint8
	IsVararg  bool
	// MaxStackSize is the number of registers needed by this function.
	MaxStackSize uint8

	Code      []Instruction
	Constants []Value
	Functions []*Prototype
	Upvalues  []UpvalueDescriptor

	LineDefined     int
	LastLineDefined int

	// Debug information:

	Source Source
	// LineInfo maps each instruction in Code to a source line.
	// It is either empty or the same length as Code.
	LineInfo []int
	// LocalVariables is a list of the function's local variables in declaration order.
	// It is guaranteed that LocalVariables[i].StartPC <= LocalVariables[i+1].StartPC.
	LocalVariables []LocalVariable
}

// IsMainChunk reports whether the prototype represents a compiled source file
// (as opposed to a function inside a file).
func (f *Prototype) IsMainChunk() bool {
	return f.LineDefined == 0
}

// Clone returns a deep copy of f.
func (f *Prototype) Clone() *Prototype {
	f2 := new(Prototype)
	*f2 = *f
	f2.Code = slices.Clone(f.Code)
	f2.Constants = slices.Clone(f.Constants)
	f2.Upvalues = slices.Clone(f.Upvalues)
	f2.LineInfo = slices.Clone(f.LineInfo)
	f2.LocalVariables = slices.Clone(f.LocalVariables)
	if len(f.Functions) > 0 {
		f2.Functions = make([]*Prototype, len(f.Functions))
		for i, p := range f.Functions {
			f2.Functions[i] = p.Clone()
		}
	}
	return f2
}

// StripDebug returns a copy of a [Prototype]
// with the debug information removed.
func (f *Prototype) StripDebug() *Prototype {
	f2 := new(Prototype)
	*f2 = *f
	f2.Source = ""
	f2.LineInfo = nil
	f2.LocalVariables = nil

	if len(f.Upvalues) > 0 {
		f2.Upvalues = slices.Clone(f.Upvalues)
		for i := range f2.Upvalues {
			f2.Upvalues[i].Name = ""
		}
	}

	if len(f.Functions) > 0 {
		f2.Functions = make([]*Prototype, len(f.Functions))
		for i, p := range f.Functions {
			f2.Functions[i] = p.StripDebug()
		}
	}

	return f2
}

// Line returns the source line of the instruction at pc,
// or 0 if there is no line information.
func (f *Prototype) Line(pc int) int {
	if pc < 0 || pc >= len(f.LineInfo) {
		return 0
	}
	return f.LineInfo[pc]
}

// LocalName returns the name of the local variable the given register represents
// during the execution of the given instruction,
// or the empty string if the register does not represent a local variable
// (or the debug information has been stripped).
func (f *Prototype) LocalName(register uint8, pc int) string {
	for _, v := range f.LocalVariables {
		if v.StartPC > pc {
			// Local variables are ordered by StartPC,
			// so this variable and any subsequent ones will be out of scope.
			break
		}
		if pc < v.EndPC {
			if register == 0 {
				return v.Name
			}
			register--
		}
	}
	return ""
}

func (f *Prototype) numUpvalueNames() int {
	n := 0
	for i, upval := range f.Upvalues {
		if upval.Name != "" {
			n = i + 1
		}
	}
	return n
}

// UpvalueDescriptor describes an upvalue in a [Prototype].
type UpvalueDescriptor struct {
	Name string
	Kind UpvalueKind
	// Index is the index of the local variable or upvalue
	// to initialize the upvalue to.
	// Its interpretation depends on Kind.
	Index uint8
}

// InStack reports whether the upvalue refers to a register
// in the enclosing function.
func (desc UpvalueDescriptor) InStack() bool {
	return desc.Kind == UpvalueStack
}

// UpvalueKind is an enumeration of the ways
// a closure captures one of its upvalues.
type UpvalueKind uint8

const (
	// UpvalueStack refers to a register in the enclosing function.
	UpvalueStack UpvalueKind = iota
	// UpvalueParent refers to an upvalue of the enclosing function.
	UpvalueParent
	// UpvalueCopy refers to an upvalue of the enclosing function
	// that is never assigned after it is captured,
	// so the closure may hold a plain copy of the value.
	// Only [MarkValueCopyingUpvalues] produces this kind.
	UpvalueCopy
)

// String returns a short lower-case name for the kind.
func (kind UpvalueKind) String() string {
	switch kind {
	case UpvalueStack:
		return "stack"
	case UpvalueParent:
		return "parent"
	case UpvalueCopy:
		return "copy"
	default:
		return fmt.Sprintf("UpvalueKind(%d)", uint8(kind))
	}
}

// LocalVariable is a description of a local variable in [Prototype]
// used for debug information.
type LocalVariable struct {
	Name string
	// StartPC is the first instruction in the [Prototype.Code] slice
	// where the variable is active.
	StartPC int
	// EndPC is the first instruction in the [Prototype.Code] slice
	// where the variable is dead.
	EndPC int
}

// Source is a description of a chunk that created a [Prototype].
// The zero value describes an empty literal string.
type Source string

// UnknownSource is a placeholder for an unknown [Source].
const UnknownSource Source = "=?"

// FilenameSource returns a [Source] for a filesystem path.
// The path can be retrieved later using [Source.Filename].
//
// The underlying string in a filename source starts with "@".
func FilenameSource(path string) Source {
	return Source("@" + path)
}

// AbstractSource returns a [Source] from a user-dependent description.
// The description can be retrieved later using [Source.Abstract].
//
// The underlying string in an abstract source starts with "=".
func AbstractSource(description string) Source {
	return Source("=" + description)
}

// Filename returns the file name of the chunk
// provided to [FilenameSource].
func (source Source) Filename() (_ string, isFilename bool) {
	if !strings.HasPrefix(string(source), "@") {
		return "", false
	}
	return string(source[1:]), true
}

// Abstract returns the user-dependent description of the source
// provided to [AbstractSource].
func (source Source) Abstract() (_ string, isAbstract bool) {
	if !strings.HasPrefix(string(source), "=") {
		return "", false
	}
	return string(source[1:]), true
}

const (
	// maxSourceSize is the maximum length of a string returned by [Source.String].
	maxSourceSize = 60

	sourceTruncationSignifier = "..."
)

// String formats the source in a concise manner
// suitable for debugging.
func (source Source) String() string {
	if source == "" {
		return "?"
	}
	if s, ok := source.Abstract(); ok {
		if len(s) > maxSourceSize {
			return s[:maxSourceSize]
		}
		return s
	}
	if fname, ok := source.Filename(); ok {
		if len(source) > maxSourceSize {
			const n = maxSourceSize - len(sourceTruncationSignifier)
			return sourceTruncationSignifier + fname[len(fname)-n:]
		}
		return fname
	}
	return describeLiteralSource(string(source))
}

func describeLiteralSource(s string) string {
	const prefix = `[string "`
	const suffix = `"]`
	const stringSize = maxSourceSize - (len(prefix) - len(suffix))
	line, _, multipleLines := strings.Cut(s, "\n")
	if !multipleLines && len(line) <= stringSize {
		return prefix + line + suffix
	}
	if len(line)+len(sourceTruncationSignifier) > stringSize {
		line = line[:stringSize-len(sourceTruncationSignifier)]
	}
	return prefix + line + sourceTruncationSignifier + suffix
}
