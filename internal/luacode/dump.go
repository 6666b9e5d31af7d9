// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DumpOptions is the set of optional parameters for [DumpOptions.AppendBinary].
// A nil *DumpOptions is treated the same as the zero value.
type DumpOptions struct {
	// ByteOrder is the byte order of the chunk.
	// If nil, the chunk is little-endian.
	ByteOrder binary.AppendByteOrder
	// SizeTSize is the width of size_t in bytes: 4 or 8.
	// Zero means 8.
	SizeTSize int
	// StripDebug omits the debug information from the chunk.
	StripDebug bool
}

// MarshalBinary marshals the function as a precompiled chunk
// in the same format as [luac 5.2] on a 64-bit little-endian machine.
//
// [luac 5.2]: https://www.lua.org/manual/5.2/luac.html
func (f *Prototype) MarshalBinary() ([]byte, error) {
	return (*DumpOptions)(nil).AppendBinary(nil, f)
}

// AppendBinary appends the chunk form of f to dst.
func (f *Prototype) AppendBinary(dst []byte) ([]byte, error) {
	return (*DumpOptions)(nil).AppendBinary(dst, f)
}

// AppendBinary appends the chunk form of f to dst
// using the given options.
func (opts *DumpOptions) AppendBinary(dst []byte, f *Prototype) ([]byte, error) {
	w := &chunkWriter{
		buf:       dst,
		byteOrder: binary.LittleEndian,
		sizeTSize: 8,
	}
	var strip bool
	if opts != nil {
		if opts.ByteOrder != nil {
			w.byteOrder = opts.ByteOrder
		}
		switch opts.SizeTSize {
		case 0:
		case 4, 8:
			w.sizeTSize = opts.SizeTSize
		default:
			return dst, fmt.Errorf("dump lua chunk: invalid size_t size %d", opts.SizeTSize)
		}
		strip = opts.StripDebug
	}

	w.buf = append(w.buf, Signature...)
	w.buf = append(w.buf, luacVersion, luacFormat)
	if w.byteOrder == binary.AppendByteOrder(binary.BigEndian) {
		w.buf = append(w.buf, 0)
	} else {
		w.buf = append(w.buf, 1)
	}
	w.buf = append(w.buf,
		luacIntSize,
		byte(w.sizeTSize),
		luacInstructionSize,
		luacNumberSize,
		0, // integral flag
	)
	w.buf = append(w.buf, luacTail...)

	if err := w.function(f, strip); err != nil {
		return dst, fmt.Errorf("dump lua chunk: %v", err)
	}
	return w.buf, nil
}

type chunkWriter struct {
	buf       []byte
	byteOrder binary.AppendByteOrder
	sizeTSize int
}

func (w *chunkWriter) function(f *Prototype, strip bool) error {
	w.int(f.LineDefined)
	w.int(f.LastLineDefined)
	w.buf = append(w.buf, f.NumParams)
	w.bool(f.IsVararg)
	w.buf = append(w.buf, f.MaxStackSize)

	// Code
	w.int(len(f.Code))
	for _, code := range f.Code {
		w.buf = w.byteOrder.AppendUint32(w.buf, uint32(code))
	}

	// Constants
	w.int(len(f.Constants))
	for i, value := range f.Constants {
		switch {
		case value.IsNil():
			w.buf = append(w.buf, valueDumpTypeNil)
		case value.IsBoolean():
			b, _ := value.Bool()
			w.buf = append(w.buf, valueDumpTypeBoolean)
			w.bool(b)
		case value.IsNumber():
			n, _ := value.Float64()
			w.buf = append(w.buf, valueDumpTypeNumber)
			w.buf = w.byteOrder.AppendUint64(w.buf, math.Float64bits(n))
		case value.IsString():
			s, _ := value.Unquoted()
			w.buf = append(w.buf, valueDumpTypeString)
			w.string(s)
		default:
			return fmt.Errorf("constants[%d] cannot be represented", i)
		}
	}

	// Protos
	w.int(len(f.Functions))
	for i, p := range f.Functions {
		if err := w.function(p, strip); err != nil {
			return fmt.Errorf("functions[%d]: %v", i, err)
		}
	}

	// Upvalues
	w.int(len(f.Upvalues))
	for _, upval := range f.Upvalues {
		w.bool(upval.InStack())
		w.buf = append(w.buf, upval.Index)
	}

	// Debug information
	if strip {
		w.sizeT(0)
		w.int(0)
		w.int(0)
		w.int(0)
		return nil
	}
	if f.Source == "" {
		w.sizeT(0)
	} else {
		w.string(string(f.Source))
	}
	w.int(len(f.LineInfo))
	for _, line := range f.LineInfo {
		w.int(line)
	}
	w.int(len(f.LocalVariables))
	for _, v := range f.LocalVariables {
		w.string(v.Name)
		w.int(v.StartPC)
		w.int(v.EndPC)
	}
	n := f.numUpvalueNames()
	w.int(n)
	for _, upval := range f.Upvalues[:n] {
		w.string(upval.Name)
	}
	return nil
}

func (w *chunkWriter) int(i int) {
	w.buf = w.byteOrder.AppendUint32(w.buf, uint32(int32(i)))
}

func (w *chunkWriter) sizeT(n int) {
	if w.sizeTSize == 4 {
		w.buf = w.byteOrder.AppendUint32(w.buf, uint32(n))
	} else {
		w.buf = w.byteOrder.AppendUint64(w.buf, uint64(n))
	}
}

func (w *chunkWriter) bool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// string writes a string with its trailing NUL,
// as luac does for every present string.
func (w *chunkWriter) string(s string) {
	w.sizeT(len(s) + 1)
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}
