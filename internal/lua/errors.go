// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"strconv"
)

// RuntimeError is a Lua error:
// an arbitrary Lua value raised by the error function,
// by an operation on operands of the wrong type,
// or by a Go function.
// Use [errors.As] to retrieve it from an error returned by [*Thread.Call].
type RuntimeError struct {
	value Value
}

// NewRuntimeError returns a new error that carries the given Lua value.
func NewRuntimeError(v Value) *RuntimeError {
	return &RuntimeError{value: v}
}

// Value returns the Lua value that was raised.
func (e *RuntimeError) Value() Value {
	return e.value
}

// Error returns the error message if the value is a string or a number,
// or a description of the value otherwise.
func (e *RuntimeError) Error() string {
	if s, ok := toLString(e.value); ok {
		return s.String()
	}
	return fmt.Sprintf("(error object is a %v value)", e.value.Type())
}

// ErrorValue converts an error into the Lua value that it represents.
// [*RuntimeError] values are unwrapped;
// other errors are converted to their message.
// ErrorValue(nil) returns nil.
func ErrorValue(err error) Value {
	if err == nil {
		return Value{}
	}
	if e := new(RuntimeError); errors.As(err, &e) {
		return e.value
	}
	return StringValue(err.Error())
}

// runtimeError returns a [*RuntimeError]
// with a message prefixed with the currently executing source position.
func (l *Thread) runtimeError(format string, args ...any) error {
	return NewRuntimeError(StringValue(l.where(0) + fmt.Sprintf(format, args...)))
}

func (l *Thread) typeError(v Value, op string) error {
	return l.runtimeError("attempt to %s a %v value", op, v.Type())
}

func (l *Thread) arithError(v1, v2 Value) error {
	if _, ok := toNumber(v1); ok {
		v1 = v2
	}
	return l.typeError(v1, "perform arithmetic on")
}

func (l *Thread) concatError(v1, v2 Value) error {
	if _, ok := toLString(v1); ok {
		v1 = v2
	}
	return l.typeError(v1, "concatenate")
}

func (l *Thread) compareError(v1, v2 Value) error {
	t1, t2 := v1.Type(), v2.Type()
	if t1 == t2 {
		return l.runtimeError("attempt to compare two %v values", t1)
	}
	return l.runtimeError("attempt to compare %v with %v", t1, t2)
}

// frame returns the call information at the given level.
// Level 0 is the current running function,
// whereas level n+1 is the function that has called level n.
func (l *Thread) frame(level int) *callInfo {
	switch {
	case level == 0:
		return &l.ci
	case level < 0 || level > len(l.callStack):
		return nil
	default:
		return &l.callStack[len(l.callStack)-level]
	}
}

// where returns a string identifying the current position of the control
// at the given level in the call stack,
// in the form "chunkname:currentline: ".
// If the function at the level is not a Lua function,
// where returns the empty string.
func (l *Thread) where(level int) string {
	ci := l.frame(level)
	if ci == nil || !ci.isLua() {
		return ""
	}
	p := ci.fn.ref.(*Closure).proto.p
	return p.Source.String() + ":" + strconv.Itoa(p.Line(ci.pc)) + ": "
}

// Where returns a string identifying the current position of the control
// at the given level in the call stack.
// Typically this string has the form "chunkname:currentline: ".
// Level 0 is the running function,
// level 1 is the function that called the running function, etc.
func Where(l *Thread, level int) string {
	l.init()
	return l.where(level)
}

// functionName returns the name of the Go function running at level 0.
func (l *Thread) functionName() string {
	if f, ok := l.ci.fn.ref.(*goFunction); ok && f.name != "" {
		return f.name
	}
	return "?"
}

// NewArgError returns a new error reporting a problem with argument arg
// of the Go function that called it,
// using a standard message that includes msg as a comment.
func NewArgError(l *Thread, arg int, msg string) error {
	return NewRuntimeError(StringValue(fmt.Sprintf("%sbad argument #%d to '%s' (%s)", Where(l, 1), arg, l.functionName(), msg)))
}

// NewTypeError returns a new type error for the argument arg
// of the Go function that called it, using a standard message;
// tname is a "name" for the expected type.
func NewTypeError(l *Thread, arg int, tname string) error {
	return NewArgError(l, arg, fmt.Sprintf("%s expected, got %v", tname, l.Type(arg)))
}

// NewError returns a [*RuntimeError] with a message
// prefixed by the position of the Lua code that called the running Go function,
// like luaL_error.
func NewError(l *Thread, format string, args ...any) error {
	return NewRuntimeError(StringValue(Where(l, 1) + fmt.Sprintf(format, args...)))
}
