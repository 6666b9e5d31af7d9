// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
)

const (
	// MinStack is the minimum number of free stack slots
	// available to a Go function.
	MinStack = 20
	// MaxStack is the maximum number of slots in a thread's stack.
	MaxStack = 1_000_000
	// CallReturnAll is the option for the number of results in a call
	// that returns all of the callee's results.
	CallReturnAll = -1
	// MaxCCalls is the default maximum number of nested calls
	// that re-enter the interpreter from Go,
	// such as metamethods or functions called from Go functions.
	MaxCCalls = 200
	// MaxMtLoop is the maximum number of __index or __newindex metamethods
	// followed in a single table access.
	MaxMtLoop = 100

	initialStack = 2 * MinStack
	// maxCallDepth is the maximum number of active call frames.
	maxCallDepth = 100_000
)

var errStackOverflow = errors.New("stack overflow")

// A Thread is a Lua execution context:
// a value stack, a stack of active calls, and a global environment.
// The zero value is an empty thread ready to use.
//
// A Thread is not safe to use from multiple goroutines concurrently.
type Thread struct {
	id    uint64
	stack []Value
	// top is the index of the first free stack slot.
	top int

	// ci is the active call.
	ci callInfo
	// callStack holds the callers of ci.
	callStack []callInfo

	openUpvalues  []openUpvalue
	closedAliases map[int]*upvalue

	globals        *Table
	typeMetatables [TypeThread + 1]*Table

	nCcalls   int
	maxCCalls int
}

// callInfo is a record of an active function call.
type callInfo struct {
	fn Value
	// base is the stack index of the first register (Lua function)
	// or the first argument (Go function).
	base int
	// top is the end of the Lua function's registers
	// or -1 for Go functions.
	top int
	// pc is the index of the instruction being executed.
	pc int
	// varArgsIndex is the stack index of the first extra argument
	// passed to a vararg function.
	// The extra arguments end at base.
	varArgsIndex int
	// resultIndex is the stack index where the results are copied on return.
	resultIndex int
	// resultCount is the number of results the caller wants
	// or [CallReturnAll].
	resultCount int
}

func (ci *callInfo) isLua() bool {
	return ci.top >= 0
}

// NewThread returns a new thread with an empty global table.
func NewThread() *Thread {
	l := new(Thread)
	l.init()
	return l
}

func (l *Thread) init() {
	if l.stack != nil {
		return
	}
	l.id = nextID()
	l.stack = make([]Value, initialStack)
	l.ci = callInfo{top: -1}
	if l.maxCCalls == 0 {
		l.maxCCalls = MaxCCalls
	}
}

// SetMaxCCalls sets the maximum number of nested calls
// that re-enter the interpreter from Go.
// n <= 0 restores the default of [MaxCCalls].
func (l *Thread) SetMaxCCalls(n int) {
	if n <= 0 {
		n = MaxCCalls
	}
	l.maxCCalls = n
}

// Globals returns the thread's global environment,
// creating it if necessary.
func (l *Thread) Globals() *Table {
	l.init()
	if l.globals == nil {
		l.globals = NewTable(0, 0)
	}
	return l.globals
}

// SetGlobals replaces the thread's global environment.
// Functions loaded before the call keep their environment.
func (l *Thread) SetGlobals(t *Table) {
	l.globals = t
}

// Metatable returns the metatable of v.
// Tables and userdata have their own metatables;
// values of other types share a metatable per type.
func (l *Thread) Metatable(v Value) *Table {
	switch ref := v.ref.(type) {
	case *Table:
		return ref.meta
	case *Userdata:
		return ref.meta
	}
	if v.t < 0 || int(v.t) >= len(l.typeMetatables) {
		return nil
	}
	return l.typeMetatables[v.t]
}

// SetTypeMetatable sets the metatable shared by all values of the given type.
// SetTypeMetatable panics for tables and userdata,
// which have individual metatables.
func (l *Thread) SetTypeMetatable(tp Type, mt *Table) {
	if tp == TypeTable || tp == TypeUserdata || tp < 0 || int(tp) >= len(l.typeMetatables) {
		panic(fmt.Sprintf("lua: cannot set metatable for %v", tp))
	}
	l.typeMetatables[tp] = mt
}

// Top returns the index of the top element in the stack.
// Because indices start at 1,
// this result is equal to the number of elements in the stack
// of the running function.
func (l *Thread) Top() int {
	l.init()
	return l.top - l.ci.base
}

// SetTop accepts any index, or 0, and sets the stack top to this index.
// If the new top is greater than the old one,
// then the new elements are filled with nil.
// A negative idx counts from the current top.
func (l *Thread) SetTop(idx int) {
	l.init()
	var newTop int
	if idx >= 0 {
		newTop = l.ci.base + idx
	} else {
		newTop = l.top + idx + 1
		if newTop < l.ci.base {
			panic("lua: stack underflow")
		}
	}
	if err := l.grow(newTop); err != nil {
		panic(err)
	}
	if newTop > l.top {
		clear(l.stack[l.top:newTop])
	} else {
		clear(l.stack[newTop:l.top])
	}
	l.top = newTop
}

// AbsIndex converts the acceptable index idx
// into an equivalent absolute index
// (that is, one that does not depend on the stack size).
func (l *Thread) AbsIndex(idx int) int {
	l.init()
	if idx > 0 {
		return idx
	}
	if idx == 0 {
		panic("lua: invalid stack index 0")
	}
	return l.top + idx - l.ci.base + 1
}

// stackIndex converts a valid index into a position in l.stack.
func (l *Thread) stackIndex(idx int) (int, bool) {
	switch {
	case idx > 0:
		i := l.ci.base + idx - 1
		return i, i < l.top
	case idx < 0:
		i := l.top + idx
		return i, i >= l.ci.base
	default:
		panic("lua: invalid stack index 0")
	}
}

func (l *Thread) mustStackIndex(idx int) int {
	i, ok := l.stackIndex(idx)
	if !ok {
		panic(fmt.Sprintf("lua: invalid stack index %d (top = %d)", idx, l.top-l.ci.base))
	}
	return i
}

// Get returns the value at the given index.
// Get returns nil for an index above the top of the stack.
func (l *Thread) Get(idx int) Value {
	l.init()
	i, ok := l.stackIndex(idx)
	if !ok {
		return Value{}
	}
	return l.stack[i]
}

// Type returns the type of the value at the given index
// or [TypeNone] if the index is not valid.
func (l *Thread) Type(idx int) Type {
	l.init()
	i, ok := l.stackIndex(idx)
	if !ok {
		return TypeNone
	}
	return l.stack[i].t
}

// Set replaces the value at the given valid index.
func (l *Thread) Set(idx int, v Value) {
	l.init()
	l.stack[l.mustStackIndex(idx)] = v
}

// Push pushes a value onto the stack.
// Push panics if the stack would grow beyond [MaxStack].
func (l *Thread) Push(v Value) {
	l.init()
	if err := l.grow(l.top + 1); err != nil {
		panic(err)
	}
	l.stack[l.top] = v
	l.top++
}

// PushValues pushes values onto the stack in order.
func (l *Thread) PushValues(vs ...Value) {
	l.init()
	if err := l.grow(l.top + len(vs)); err != nil {
		panic(err)
	}
	l.top += copy(l.stack[l.top:], vs)
}

// Pop pops n elements from the stack.
// Pop panics if there are fewer than n elements in the current frame.
func (l *Thread) Pop(n int) {
	l.init()
	if n < 0 || n > l.top-l.ci.base {
		panic(fmt.Sprintf("lua: cannot pop %d elements (top = %d)", n, l.top-l.ci.base))
	}
	clear(l.stack[l.top-n : l.top])
	l.top -= n
}

// PopValue pops the top element of the stack and returns it.
func (l *Thread) PopValue() Value {
	v := l.Get(-1)
	l.Pop(1)
	return v
}

// Insert moves the elements at and above idx up one position
// and stores v at idx.
// idx may be one past the top of the stack, in which case Insert is equivalent to [*Thread.Push].
func (l *Thread) Insert(idx int, v Value) {
	l.init()
	i := l.top
	if idx != l.top-l.ci.base+1 {
		i = l.mustStackIndex(idx)
	}
	if err := l.grow(l.top + 1); err != nil {
		panic(err)
	}
	copy(l.stack[i+1:l.top+1], l.stack[i:l.top])
	l.stack[i] = v
	l.top++
}

// Remove removes the element at the given valid index,
// shifting down the elements above it.
func (l *Thread) Remove(idx int) {
	l.init()
	i := l.mustStackIndex(idx)
	copy(l.stack[i:], l.stack[i+1:l.top])
	l.top--
	l.stack[l.top] = Value{}
}

// GetStackElements returns a copy of the values
// at the indices lo through hi, inclusive.
// lo must be positive; if hi < lo, the result is an empty non-nil slice.
// Indices above the top of the stack yield nil.
func (l *Thread) GetStackElements(lo, hi int) []Value {
	l.init()
	if lo <= 0 {
		panic("lua: GetStackElements requires positive indices")
	}
	if hi < lo {
		return []Value{}
	}
	result := make([]Value, hi-lo+1)
	for i := range result {
		result[i] = l.Get(lo + i)
	}
	return result
}

// Return replaces the current function's stack with vals
// and returns len(vals),
// so that a [Function] can end with:
//
//	return l.Return(v1, v2)
func (l *Thread) Return(vals ...Value) int {
	l.SetTop(0)
	l.PushValues(vals...)
	return len(vals)
}

// CheckSpace ensures that the stack has space for at least n extra elements.
// It returns false if it cannot fulfill the request
// because it would cause the stack to be larger than [MaxStack].
func (l *Thread) CheckSpace(n int) bool {
	l.init()
	if n < 0 {
		panic("lua: negative stack space")
	}
	return l.grow(l.top+n) == nil
}

// grow ensures that len(l.stack) >= n.
func (l *Thread) grow(n int) error {
	if n <= len(l.stack) {
		return nil
	}
	if n > MaxStack {
		return errStackOverflow
	}
	var newSize int
	if len(l.stack) < 256 {
		newSize = len(l.stack) * 2
	} else {
		newSize = len(l.stack) + MinStack
	}
	newSize = min(max(newSize, n), MaxStack)
	newStack := make([]Value, newSize)
	copy(newStack, l.stack)
	l.stack = newStack
	return nil
}
