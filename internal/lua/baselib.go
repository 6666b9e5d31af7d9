// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/henchmeninteractive/henchlua/internal/luanum"
)

// GName is the name of the global table.
const GName = "_G"

// Version is the value of the _VERSION global.
const Version = "Lua 5.2"

// BaseOptions is the parameter type for [OpenBase].
type BaseOptions struct {
	// The “print” function will write to Output (or [os.Stdout] if nil).
	Output io.Writer
}

// OpenBase registers the basic library into globals.
func OpenBase(globals *Table, opts *BaseOptions) error {
	if opts == nil {
		opts = new(BaseOptions)
	}
	funcs := map[string]Function{
		"assert":       baseAssert,
		"error":        baseError,
		"getmetatable": baseGetMetatable,
		"ipairs":       baseIPairs,
		"load":         baseLoad,
		"next":         baseNext,
		"pairs":        basePairs,
		"pcall":        basePCall,
		"print":        newBasePrint(opts.Output),
		"rawequal":     baseRawEqual,
		"rawget":       baseRawGet,
		"rawlen":       baseRawLen,
		"rawset":       baseRawSet,
		"select":       baseSelect,
		"setmetatable": baseSetMetatable,
		"tonumber":     baseToNumber,
		"tostring":     baseToString,
		"type":         baseType,
		"xpcall":       baseXPCall,
	}
	if err := SetFuncs(globals, funcs); err != nil {
		return fmt.Errorf("open base library: %v", err)
	}
	if err := globals.SetString(NewLString(GName), TableValue(globals)); err != nil {
		return fmt.Errorf("open base library: %v", err)
	}
	if err := globals.SetString(NewLString("_VERSION"), StringValue(Version)); err != nil {
		return fmt.Errorf("open base library: %v", err)
	}
	return nil
}

func baseAssert(ctx context.Context, l *Thread) (int, error) {
	if !l.Get(1).ToBool() {
		msg, err := OptString(l, 2, "assertion failed!")
		if err != nil {
			return 0, err
		}
		return 0, NewError(l, "%s", msg)
	}
	return l.Top(), nil
}

func baseError(ctx context.Context, l *Thread) (int, error) {
	level, err := OptInteger(l, 2, 1)
	if err != nil {
		return 0, err
	}
	v := l.Get(1)
	if s, ok := v.LString(); ok && level > 0 {
		v = StringValue(Where(l, int(level)) + s.String())
	}
	return 0, NewRuntimeError(v)
}

func baseGetMetatable(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	v := l.Get(1)
	mt := l.Metatable(v)
	if mt == nil {
		return l.Return(Value{}), nil
	}
	if protected := l.Metafield(v, "__metatable"); !protected.IsNil() {
		return l.Return(protected), nil
	}
	return l.Return(TableValue(mt)), nil
}

func baseSetMetatable(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	if got := l.Type(2); got != TypeNil && got != TypeTable {
		return 0, NewTypeError(l, 2, "nil or table")
	}
	if !l.Metafield(l.Get(1), "__metatable").IsNil() {
		return 0, NewError(l, "cannot change a protected metatable")
	}
	t.SetMetatable(l.Get(2).Table())
	return l.Return(TableValue(t)), nil
}

func baseIPairs(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	v := l.Get(1)
	if tm := l.Metafield(v, "__ipairs"); !tm.IsNil() {
		l.SetTop(1)
		if err := l.CallFunction(ctx, tm, 1, 3); err != nil {
			return 0, err
		}
		return 3, nil
	}
	return l.Return(NamedFunctionValue("ipairs_aux", ipairsAux), v, IntValue(0)), nil
}

func ipairsAux(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	i, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	i++
	v := t.GetInt(i)
	if v.IsNil() {
		return l.Return(Value{}), nil
	}
	return l.Return(IntValue(i), v), nil
}

func baseLoad(ctx context.Context, l *Thread) (int, error) {
	var chunk []byte
	switch l.Type(1) {
	case TypeString:
		chunk = l.Get(1).MustLString().Bytes()
	case TypeFunction:
		var err error
		chunk, err = readChunkPieces(ctx, l, l.Get(1))
		if err != nil {
			return 0, err
		}
	default:
		return 0, NewTypeError(l, 1, "string")
	}
	mode, err := OptString(l, 3, "bt")
	if err != nil {
		return 0, err
	}
	if !bytes.HasPrefix(chunk, []byte(luacode.Signature)) {
		return l.Return(Value{}, StringValue("attempt to load a text chunk (only precompiled chunks are supported)")), nil
	}
	if !strings.Contains(mode.String(), "b") {
		return l.Return(Value{}, StringValue(fmt.Sprintf("attempt to load a binary chunk (mode is '%v')", mode))), nil
	}
	p := new(luacode.Prototype)
	if err := p.UnmarshalBinary(chunk); err != nil {
		return l.Return(Value{}, StringValue(err.Error())), nil
	}
	hasEnv := l.Type(4) != TypeNone
	env := l.Get(4)
	if err := l.Load(p); err != nil {
		return l.Return(Value{}, StringValue(err.Error())), nil
	}
	if hasEnv {
		if c := l.Get(-1).Closure(); len(c.upvalues) > 0 {
			c.upvalues[0] = upvalue{value: env}
		}
	}
	return 1, nil
}

// readChunkPieces calls f until it returns nil or an empty string
// and returns the concatenation of the pieces.
func readChunkPieces(ctx context.Context, l *Thread, f Value) ([]byte, error) {
	var chunk []byte
	for {
		l.Push(f)
		if err := l.Call(ctx, 0, 1); err != nil {
			return nil, err
		}
		v := l.PopValue()
		if v.IsNil() {
			return chunk, nil
		}
		s, ok := v.LString()
		if !ok {
			return nil, NewError(l, "reader function must return a string")
		}
		if s.Len() == 0 {
			return chunk, nil
		}
		chunk = append(chunk, s.String()...)
	}
}

func baseNext(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	k, v, err := t.Next(l.Get(2))
	if err != nil {
		return 0, NewError(l, "%v", err)
	}
	if k.IsNil() {
		return l.Return(Value{}), nil
	}
	return l.Return(k, v), nil
}

func basePairs(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	v := l.Get(1)
	if tm := l.Metafield(v, "__pairs"); !tm.IsNil() {
		l.SetTop(1)
		if err := l.CallFunction(ctx, tm, 1, 3); err != nil {
			return 0, err
		}
		return 3, nil
	}
	return l.Return(NamedFunctionValue("next", baseNext), v, Value{}), nil
}

func basePCall(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	if err := l.Call(ctx, l.Top()-1, CallReturnAll); err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return l.Return(BoolValue(false), ErrorValue(err)), nil
	}
	l.Insert(1, BoolValue(true))
	return l.Top(), nil
}

func baseXPCall(ctx context.Context, l *Thread) (int, error) {
	if err := CheckType(l, 2, TypeFunction); err != nil {
		return 0, err
	}
	handler := l.Get(2)
	l.Remove(2)
	if err := l.Call(ctx, l.Top()-1, CallReturnAll); err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		l.SetTop(0)
		l.Push(ErrorValue(err))
		if err := l.CallFunction(ctx, handler, 1, 1); err != nil {
			return l.Return(BoolValue(false), ErrorValue(err)), nil
		}
		l.Insert(1, BoolValue(false))
		return 2, nil
	}
	l.Insert(1, BoolValue(true))
	return l.Top(), nil
}

func newBasePrint(out io.Writer) Function {
	if out == nil {
		out = os.Stdout
	}
	return func(ctx context.Context, l *Thread) (int, error) {
		n := l.Top()
		for i := 1; i <= n; i++ {
			s, err := ToString(ctx, l, i)
			if err != nil {
				return 0, err
			}
			if i > 1 {
				io.WriteString(out, "\t")
			}
			io.WriteString(out, s.String())
		}
		io.WriteString(out, "\n")
		return 0, nil
	}
}

func baseRawEqual(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	if err := CheckAny(l, 2); err != nil {
		return 0, err
	}
	return l.Return(BoolValue(RawEqual(l.Get(1), l.Get(2)))), nil
}

func baseRawLen(ctx context.Context, l *Thread) (int, error) {
	switch v := l.Get(1); v.Type() {
	case TypeTable:
		return l.Return(IntValue(v.MustTable().Len())), nil
	case TypeString:
		return l.Return(IntValue(int64(v.MustLString().Len()))), nil
	default:
		return 0, NewArgError(l, 1, "table or string expected")
	}
}

func baseRawGet(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	if err := CheckAny(l, 2); err != nil {
		return 0, err
	}
	return l.Return(t.Get(l.Get(2))), nil
}

func baseRawSet(ctx context.Context, l *Thread) (int, error) {
	t, err := CheckTable(l, 1)
	if err != nil {
		return 0, err
	}
	if err := CheckAny(l, 2); err != nil {
		return 0, err
	}
	if err := CheckAny(l, 3); err != nil {
		return 0, err
	}
	if err := t.Set(l.Get(2), l.Get(3)); err != nil {
		return 0, NewError(l, "%v", err)
	}
	return l.Return(TableValue(t)), nil
}

func baseSelect(ctx context.Context, l *Thread) (int, error) {
	n := int64(l.Top())
	if s, ok := l.Get(1).LString(); ok && s.String() == "#" {
		return l.Return(IntValue(n - 1)), nil
	}
	i, err := CheckInteger(l, 1)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i = n + i
	} else if i > n {
		i = n
	}
	if i < 1 {
		return 0, NewArgError(l, 1, "index out of range")
	}
	return int(n - i), nil
}

func baseToNumber(ctx context.Context, l *Thread) (int, error) {
	if l.Get(2).IsNil() {
		if err := CheckAny(l, 1); err != nil {
			return 0, err
		}
		n, ok := toNumber(l.Get(1))
		if !ok {
			return l.Return(Value{}), nil
		}
		return l.Return(NumberValue(n)), nil
	}

	base, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	if err := CheckType(l, 1, TypeString); err != nil {
		return 0, err
	}
	s := l.Get(1).MustLString()
	if !(2 <= base && base <= 36) {
		return 0, NewArgError(l, 2, "base out of range")
	}
	n, err := luanum.ParseIntBase(s.String(), int(base))
	if err != nil {
		return l.Return(Value{}), nil
	}
	return l.Return(NumberValue(n)), nil
}

func baseToString(ctx context.Context, l *Thread) (int, error) {
	if err := CheckAny(l, 1); err != nil {
		return 0, err
	}
	s, err := ToString(ctx, l, 1)
	if err != nil {
		return 0, err
	}
	return l.Return(LStringValue(s)), nil
}

func baseType(ctx context.Context, l *Thread) (int, error) {
	tp := l.Type(1)
	if tp == TypeNone {
		return 0, NewArgError(l, 1, "value expected")
	}
	return l.Return(StringValue(tp.String())), nil
}
