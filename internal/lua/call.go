// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

// Load wraps p in a new [Closure] and pushes it onto the stack.
// The closure's first upvalue (_ENV in a main chunk)
// is set to the thread's global table.
// Load returns an error wrapping [luacode.ErrInvalidBytecode]
// if p refers to registers, constants, or upvalues that do not exist.
func (l *Thread) Load(p *luacode.Prototype) error {
	l.init()
	pp, err := newPrototype(p)
	if err != nil {
		return fmt.Errorf("lua: load: %w", err)
	}
	c := &Closure{
		id:       nextID(),
		proto:    pp,
		upvalues: make([]upvalue, len(p.Upvalues)),
	}
	if len(c.upvalues) > 0 {
		c.upvalues[0] = upvalue{value: TableValue(l.Globals())}
	}
	l.Push(ClosureValue(c))
	return nil
}

// Call calls a function.
// To do a call, push the function to be called onto the stack
// followed by its arguments in direct order,
// then call Call with numArgs set to the number of arguments.
// All arguments and the function value are popped from the stack
// and the function results are pushed in direct order,
// adjusted to numResults unless numResults is [CallReturnAll].
//
// If the function raises an error,
// Call removes the function and its arguments from the stack
// and returns the error.
// Lua errors are returned as [*RuntimeError].
func (l *Thread) Call(ctx context.Context, numArgs, numResults int) error {
	l.init()
	if numArgs < 0 || numArgs >= l.top-l.ci.base {
		panic(fmt.Sprintf("lua: not enough elements on stack to call with %d arguments", numArgs))
	}
	if numResults < CallReturnAll {
		panic(fmt.Sprintf("lua: invalid number of results %d", numResults))
	}
	funcIdx := l.top - numArgs - 1
	return l.reenter(ctx, funcIdx, numArgs, numResults)
}

// CallFunction calls fn with the top numArgs values of the stack as arguments.
// It is equivalent to inserting fn below the arguments and calling [*Thread.Call].
func (l *Thread) CallFunction(ctx context.Context, fn Value, numArgs, numResults int) error {
	l.init()
	if numArgs < 0 || numArgs > l.top-l.ci.base {
		panic(fmt.Sprintf("lua: not enough elements on stack to call with %d arguments", numArgs))
	}
	l.Insert(l.top-l.ci.base-numArgs+1, fn)
	return l.Call(ctx, numArgs, numResults)
}

// reenter calls the function at funcIdx from Go,
// counting the call against the thread's limit on nested Go calls.
func (l *Thread) reenter(ctx context.Context, funcIdx, numArgs, numResults int) error {
	if l.nCcalls >= l.maxCCalls {
		err := l.runtimeError("C stack overflow")
		l.discard(funcIdx)
		return err
	}
	l.nCcalls++
	defer func() { l.nCcalls-- }()
	return l.call(ctx, funcIdx, numArgs, numResults, funcIdx)
}

// call calls the function at funcIdx with the numArgs values above it.
// Results are copied starting at resultIndex.
// On error, the function, its arguments, and anything above them
// are removed from the stack and upvalues referring to them are closed.
func (l *Thread) call(ctx context.Context, funcIdx, numArgs, numResults, resultIndex int) error {
	l.top = funcIdx + 1 + numArgs
	if err := ctx.Err(); err != nil {
		l.discard(funcIdx)
		return err
	}
	if len(l.callStack) >= maxCallDepth {
		err := l.runtimeError("stack overflow")
		l.discard(funcIdx)
		return err
	}
	fn := l.stack[funcIdx]
	if fn.t != TypeFunction {
		tm := l.metamethod(fn, luacode.TagMethodCall)
		if tm.t != TypeFunction {
			err := l.typeError(fn, "call")
			l.discard(funcIdx)
			return err
		}
		if err := l.grow(l.top + 1); err != nil {
			l.discard(funcIdx)
			return l.runtimeError("stack overflow")
		}
		copy(l.stack[funcIdx+1:l.top+1], l.stack[funcIdx:l.top])
		l.stack[funcIdx] = tm
		l.top++
		numArgs++
		fn = tm
	}

	switch f := fn.ref.(type) {
	case *Closure:
		return l.callLua(ctx, f, funcIdx, numArgs, numResults, resultIndex)
	case *goFunction:
		return l.callGo(ctx, f, funcIdx, numArgs, numResults, resultIndex)
	default:
		panic("unreachable")
	}
}

func (l *Thread) callLua(ctx context.Context, f *Closure, funcIdx, numArgs, numResults, resultIndex int) error {
	p := f.proto.p
	numParams := int(p.NumParams)
	base := funcIdx + 1
	if p.IsVararg && numArgs > numParams {
		// Fixed parameters move above the extra arguments.
		base += numArgs
	}
	frameTop := base + int(p.MaxStackSize)
	if err := l.grow(frameTop); err != nil {
		l.discard(funcIdx)
		return l.runtimeError("stack overflow")
	}
	varArgsIndex := base
	if base != funcIdx+1 {
		copy(l.stack[base:base+numParams], l.stack[funcIdx+1:funcIdx+1+numParams])
		clear(l.stack[funcIdx+1 : funcIdx+1+numParams])
		varArgsIndex = funcIdx + 1 + numParams
		numArgs = numParams
	}
	clear(l.stack[base+min(numArgs, numParams) : frameTop])

	l.callStack = append(l.callStack, l.ci)
	l.ci = callInfo{
		fn:           ClosureValue(f),
		base:         base,
		top:          frameTop,
		varArgsIndex: varArgsIndex,
		resultIndex:  resultIndex,
		resultCount:  numResults,
	}
	l.top = frameTop
	err := l.execute(ctx)
	if err != nil {
		l.unwind(funcIdx)
		return err
	}
	l.popFrame()
	return nil
}

func (l *Thread) callGo(ctx context.Context, f *goFunction, funcIdx, numArgs, numResults, resultIndex int) error {
	if err := l.grow(l.top + MinStack); err != nil {
		l.discard(funcIdx)
		return l.runtimeError("stack overflow")
	}
	l.callStack = append(l.callStack, l.ci)
	l.ci = callInfo{
		fn:          Value{t: TypeFunction, ref: f},
		base:        funcIdx + 1,
		top:         -1,
		resultIndex: resultIndex,
		resultCount: numResults,
	}
	n, err := f.cb(ctx, l)
	if err != nil {
		l.unwind(funcIdx)
		return err
	}
	if n < 0 || n > l.top-l.ci.base {
		panic(fmt.Sprintf("lua: Go function returned %d results with %d values on the stack", n, l.top-l.ci.base))
	}
	l.popFrame()
	return l.moveResults(l.top-n, n, resultIndex, numResults)
}

// moveResults copies n results starting at src to dst,
// adjusting them to want values (or all of them if want is [CallReturnAll]),
// and sets the top of the stack to just after the results.
func (l *Thread) moveResults(src, n, dst, want int) error {
	if want == CallReturnAll {
		copy(l.stack[dst:], l.stack[src:src+n])
		l.top = dst + n
		return nil
	}
	if err := l.grow(dst + want); err != nil {
		return l.runtimeError("stack overflow")
	}
	m := min(n, want)
	copy(l.stack[dst:dst+m], l.stack[src:src+m])
	clear(l.stack[dst+m : dst+want])
	l.top = dst + want
	return nil
}

func (l *Thread) popFrame() {
	n := len(l.callStack) - 1
	l.ci = l.callStack[n]
	l.callStack[n] = callInfo{}
	l.callStack = l.callStack[:n]
}

// unwind pops the current frame after an error
// and discards the stack at and above funcIdx.
func (l *Thread) unwind(funcIdx int) {
	l.popFrame()
	l.discard(funcIdx)
}

// discard closes upvalues at or above funcIdx
// and sets the top of the stack to funcIdx.
func (l *Thread) discard(funcIdx int) {
	l.closeUpvalues(funcIdx)
	if l.top > funcIdx {
		clear(l.stack[funcIdx:l.top])
	}
	l.top = funcIdx
}
