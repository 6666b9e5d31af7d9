// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Signature is the magic header for a binary (pre-compiled) Lua chunk.
// Data with this prefix can be loaded with [Load].
const Signature = "\x1bLua"

const (
	luacVersion byte = 5*16 + 2
	luacFormat  byte = 0
	luacTail         = "\x19\x93\r\n\x1a\n"

	// headerSize is the size of a Lua 5.2 chunk header in bytes.
	headerSize = len(Signature) + 8 + len(luacTail)

	luacIntSize         = 4
	luacInstructionSize = 4
	luacNumberSize      = 8
)

// ErrInvalidBytecode is the error wrapped by all errors
// that report a malformed or unsupported binary chunk.
var ErrInvalidBytecode = errors.New("invalid bytecode")

// LoadOptions is the set of optional parameters for [LoadOptions.Load].
// A nil *LoadOptions is treated the same as the zero value.
type LoadOptions struct {
	// StripDebug discards the debug section of each function.
	// The section is still validated for length.
	StripDebug bool
	// Optimize runs [MarkValueCopyingUpvalues] on the loaded chunk.
	Optimize bool
}

// Load reads a binary chunk produced by luac 5.2
// with the default options.
func Load(r io.Reader) (*Prototype, error) {
	return (*LoadOptions)(nil).Load(r)
}

// Load reads a binary chunk produced by luac 5.2.
// The header must describe a chunk with 4-byte ints and instructions,
// 4- or 8-byte size_t, and 8-byte floating-point numbers,
// in either byte order.
// Any failure to decode the chunk returns an error
// that wraps [ErrInvalidBytecode] along with a nil *Prototype.
func (opts *LoadOptions) Load(r io.Reader) (*Prototype, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load lua chunk: %w", err)
	}
	f := new(Prototype)
	if err := f.unmarshalBinary(data, opts); err != nil {
		return nil, err
	}
	return f, nil
}

// UnmarshalBinary unmarshals a precompiled chunk like those produced by [luac].
// On failure, f is left unmodified.
//
// [luac]: https://www.lua.org/manual/5.2/luac.html
func (f *Prototype) UnmarshalBinary(data []byte) error {
	return f.unmarshalBinary(data, nil)
}

func (f *Prototype) unmarshalBinary(data []byte, opts *LoadOptions) error {
	if opts == nil {
		opts = new(LoadOptions)
	}
	r, err := newChunkReader(data)
	if err != nil {
		return fmt.Errorf("load lua chunk: %w: %v", ErrInvalidBytecode, err)
	}
	r.stripDebug = opts.StripDebug
	result := new(Prototype)
	if err := loadFunction(result, r); err != nil {
		return fmt.Errorf("load lua chunk: %w: %v", ErrInvalidBytecode, err)
	}
	if len(r.s) > 0 {
		return fmt.Errorf("load lua chunk: %w: trailing data", ErrInvalidBytecode)
	}
	if opts.Optimize {
		MarkValueCopyingUpvalues(result)
	}
	*f = *result
	return nil
}

// [Value] type constants in dump format.
const (
	valueDumpTypeNil     byte = byte(valueTypeNil)
	valueDumpTypeBoolean byte = byte(valueTypeBoolean)
	valueDumpTypeNumber  byte = byte(valueTypeNumber)
	valueDumpTypeString  byte = byte(valueTypeString)
)

func loadFunction(f *Prototype, r *chunkReader) error {
	var err error
	f.LineDefined, err = r.readInt()
	if err != nil {
		return fmt.Errorf("load function: line defined: %v", err)
	}
	f.LastLineDefined, err = r.readInt()
	if err != nil {
		return fmt.Errorf("load function: last line defined: %v", err)
	}
	var ok bool
	f.NumParams, ok = r.readByte()
	if !ok {
		return fmt.Errorf("load function: number of parameters: %v", io.ErrUnexpectedEOF)
	}
	f.IsVararg, ok = r.readBool()
	if !ok {
		return fmt.Errorf("load function: is vararg: %v", io.ErrUnexpectedEOF)
	}
	f.MaxStackSize, ok = r.readByte()
	if !ok {
		return fmt.Errorf("load function: max stack size: %v", io.ErrUnexpectedEOF)
	}

	// Code
	n, err := r.readCount(luacInstructionSize)
	if err != nil {
		return fmt.Errorf("load function: instruction length: %v", err)
	}
	f.Code = make([]Instruction, n)
	for i := range f.Code {
		f.Code[i], ok = r.readInstruction()
		if !ok {
			return fmt.Errorf("load function: instructions: %v", io.ErrUnexpectedEOF)
		}
	}

	// Constants
	n, err = r.readCount(1)
	if err != nil {
		return fmt.Errorf("load function: constant table size: %v", err)
	}
	f.Constants = make([]Value, n)
	for i := range f.Constants {
		t, ok := r.readByte()
		if !ok {
			return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
		}
		switch t {
		case valueDumpTypeNil:
			// Already zeroed; nothing to do.
		case valueDumpTypeBoolean:
			b, ok := r.readBool()
			if !ok {
				return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
			}
			f.Constants[i] = BoolValue(b)
		case valueDumpTypeNumber:
			n, ok := r.readNumber()
			if !ok {
				return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
			}
			f.Constants[i] = NumberValue(n)
		case valueDumpTypeString:
			s, _, err := r.readString()
			if err != nil {
				return fmt.Errorf("load function: constant table [%d]: %v", i, err)
			}
			f.Constants[i] = StringValue(s)
		default:
			return fmt.Errorf("load function: constant table [%d]: unknown type %#02x", i, t)
		}
	}

	// Protos
	n, err = r.readCount(1)
	if err != nil {
		return fmt.Errorf("load function: prototypes: %v", err)
	}
	f.Functions = make([]*Prototype, n)
	for i := range f.Functions {
		fi := new(Prototype)
		if err := loadFunction(fi, r); err != nil {
			return err
		}
		f.Functions[i] = fi
	}

	// Upvalues
	n, err = r.readCount(2)
	if err != nil {
		return fmt.Errorf("load function: upvalues: %v", err)
	}
	f.Upvalues = make([]UpvalueDescriptor, n)
	for i := range f.Upvalues {
		inStack, ok := r.readBool()
		if !ok {
			return fmt.Errorf("load function: upvalues: %v", io.ErrUnexpectedEOF)
		}
		if inStack {
			f.Upvalues[i].Kind = UpvalueStack
		} else {
			f.Upvalues[i].Kind = UpvalueParent
		}
		f.Upvalues[i].Index, ok = r.readByte()
		if !ok {
			return fmt.Errorf("load function: upvalues: %v", io.ErrUnexpectedEOF)
		}
	}

	// Debug
	source, _, err := r.readString()
	if err != nil {
		return fmt.Errorf("load function: source: %v", err)
	}
	n, err = r.readCount(luacIntSize)
	if err != nil {
		return fmt.Errorf("load function: line info: %v", err)
	}
	lineInfo := make([]int, n)
	for i := range lineInfo {
		lineInfo[i], err = r.readInt()
		if err != nil {
			return fmt.Errorf("load function: line info: %v", err)
		}
	}
	n, err = r.readCount(r.sizeTSize + 2*luacIntSize)
	if err != nil {
		return fmt.Errorf("load function: local variables: %v", err)
	}
	localVariables := make([]LocalVariable, n)
	for i := range localVariables {
		localVariables[i].Name, _, err = r.readString()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: name: %v", i, err)
		}
		localVariables[i].StartPC, err = r.readInt()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: start pc: %v", i, err)
		}
		localVariables[i].EndPC, err = r.readInt()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: end pc: %v", i, err)
		}
	}
	n, err = r.readCount(r.sizeTSize)
	if err != nil {
		return fmt.Errorf("load function: upvalue names: %v", err)
	}
	if n > len(f.Upvalues) {
		return fmt.Errorf("load function: upvalue names: length (%d) exceeds upvalue count (%d)", n, len(f.Upvalues))
	}
	upvalueNames := make([]string, n)
	for i := range upvalueNames {
		upvalueNames[i], _, err = r.readString()
		if err != nil {
			return fmt.Errorf("load function: upvalue names [%d]: %v", i, err)
		}
	}

	if !r.stripDebug {
		f.Source = Source(source)
		if len(lineInfo) > 0 {
			f.LineInfo = lineInfo
		}
		if len(localVariables) > 0 {
			f.LocalVariables = localVariables
		}
		for i, name := range upvalueNames {
			f.Upvalues[i].Name = name
		}
	}
	return nil
}

type chunkReader struct {
	s []byte

	byteOrder  binary.ByteOrder
	sizeTSize  int
	stripDebug bool
}

func newChunkReader(s []byte) (*chunkReader, error) {
	r := &chunkReader{s: s}
	if len(s) < headerSize {
		if len(s) < len(Signature) || string(s[:len(Signature)]) != Signature {
			return nil, errors.New("missing signature")
		}
		return nil, fmt.Errorf("header: %v", io.ErrUnexpectedEOF)
	}
	if !r.literal(Signature) {
		return nil, errors.New("missing signature")
	}
	if version, _ := r.readByte(); version != luacVersion {
		return nil, fmt.Errorf("version mismatch (%#02x)", version)
	}
	if format, _ := r.readByte(); format != luacFormat {
		return nil, fmt.Errorf("format mismatch (%d)", format)
	}
	switch endianness, _ := r.readByte(); endianness {
	case 0:
		r.byteOrder = binary.BigEndian
	case 1:
		r.byteOrder = binary.LittleEndian
	default:
		return nil, fmt.Errorf("unknown endianness (%d)", endianness)
	}
	if intSize, _ := r.readByte(); intSize != luacIntSize {
		return nil, fmt.Errorf("unsupported int size (%d)", intSize)
	}
	sizeTSize, _ := r.readByte()
	if sizeTSize != 4 && sizeTSize != 8 {
		return nil, fmt.Errorf("unsupported size_t size (%d)", sizeTSize)
	}
	r.sizeTSize = int(sizeTSize)
	if instructionSize, _ := r.readByte(); instructionSize != luacInstructionSize {
		return nil, fmt.Errorf("unsupported instruction size (%d)", instructionSize)
	}
	if numberSize, _ := r.readByte(); numberSize != luacNumberSize {
		return nil, fmt.Errorf("unsupported number size (%d)", numberSize)
	}
	if integral, _ := r.readByte(); integral != 0 {
		return nil, errors.New("integral numbers not supported")
	}
	if !r.literal(luacTail) {
		return nil, errors.New("corrupted chunk")
	}
	return r, nil
}

func (r *chunkReader) readByte() (byte, bool) {
	if len(r.s) == 0 {
		return 0, false
	}
	b := r.s[0]
	r.s = r.s[1:]
	return b, true
}

func (r *chunkReader) readBool() (bool, bool) {
	b, ok := r.readByte()
	return b != 0, ok
}

func (r *chunkReader) readInt() (int, error) {
	if len(r.s) < luacIntSize {
		return 0, io.ErrUnexpectedEOF
	}
	i := int(int32(r.byteOrder.Uint32(r.s)))
	r.s = r.s[luacIntSize:]
	return i, nil
}

// readCount reads a non-negative element count
// and verifies that the rest of the chunk has room for that many elements
// of at least minSize bytes each.
func (r *chunkReader) readCount(minSize int) (int, error) {
	n, err := r.readInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count (%d)", n)
	}
	if n > len(r.s)/minSize {
		return 0, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (r *chunkReader) readSizeT() (uint64, error) {
	if len(r.s) < r.sizeTSize {
		return 0, io.ErrUnexpectedEOF
	}
	var n uint64
	switch r.sizeTSize {
	case 4:
		n = uint64(r.byteOrder.Uint32(r.s))
	case 8:
		n = r.byteOrder.Uint64(r.s)
	default:
		panic("unreachable")
	}
	r.s = r.s[r.sizeTSize:]
	return n, nil
}

func (r *chunkReader) readNumber() (float64, bool) {
	if len(r.s) < luacNumberSize {
		return 0, false
	}
	f := math.Float64frombits(r.byteOrder.Uint64(r.s))
	r.s = r.s[luacNumberSize:]
	return f, true
}

// readString reads a size_t-prefixed string.
// A zero length indicates an absent string;
// otherwise the length includes a trailing NUL byte.
func (r *chunkReader) readString() (s string, valid bool, err error) {
	n, err := r.readSizeT()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	if n > uint64(len(r.s)) {
		return "", false, io.ErrUnexpectedEOF
	}
	if r.s[n-1] != 0 {
		return "", false, errors.New("string not NUL-terminated")
	}
	s = string(r.s[:n-1])
	r.s = r.s[n:]
	return s, true, nil
}

func (r *chunkReader) readInstruction() (Instruction, bool) {
	if len(r.s) < luacInstructionSize {
		return 0, false
	}
	i := Instruction(r.byteOrder.Uint32(r.s))
	r.s = r.s[luacInstructionSize:]
	return i, true
}

func (r *chunkReader) literal(prefix string) bool {
	if len(r.s) < len(prefix) || string(r.s[:len(prefix)]) != prefix {
		return false
	}
	r.s = r.s[len(prefix):]
	return true
}
