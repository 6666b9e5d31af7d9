// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

// loopCheckInterval is the number of backward jumps
// between checks of the context passed to execute.
const loopCheckInterval = 1024

// execute runs the Lua function in l.ci until it returns.
// On return, the results have been moved to l.ci.resultIndex.
func (l *Thread) execute(ctx context.Context) error {
	cl := l.ci.fn.ref.(*Closure)
	p := cl.proto
	code := p.p.Code
	k := p.constants
	base := l.ci.base

	register := func(r uint8) int { return base + int(r) }
	rk := func(x uint16) Value {
		if luacode.IsConstant(x) {
			return k[luacode.ConstantIndex(x)]
		}
		return l.stack[base+int(x)]
	}
	jump := func(pc int, i luacode.Instruction) int {
		if a := i.ArgA(); a != 0 {
			l.closeUpvalues(base + int(a) - 1)
		}
		return pc + int(i.ArgBx())
	}

	backEdges := 0
	for pc := 0; pc < len(code); pc++ {
		if pc <= l.ci.pc {
			// Loops only observe cancellation on backward jumps.
			backEdges++
			if backEdges%loopCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		l.ci.pc = pc
		i := code[pc]
		switch op := i.OpCode(); op {
		case luacode.OpMove:
			l.stack[register(i.ArgA())] = l.stack[base+int(i.ArgB())]
		case luacode.OpLoadK:
			l.stack[register(i.ArgA())] = k[i.ArgBx()]
		case luacode.OpLoadKX:
			pc++
			l.stack[register(i.ArgA())] = k[code[pc].ArgAx()]
		case luacode.OpLoadBool:
			l.stack[register(i.ArgA())] = BoolValue(i.ArgB() != 0)
			if i.ArgC() != 0 {
				pc++
			}
		case luacode.OpLoadNil:
			ra := register(i.ArgA())
			clear(l.stack[ra : ra+int(i.ArgB())+1])
		case luacode.OpGetUpval:
			l.stack[register(i.ArgA())] = l.getUpvalue(&cl.upvalues[i.ArgB()])
		case luacode.OpGetTabUp:
			t := l.getUpvalue(&cl.upvalues[i.ArgB()])
			v, err := l.index(ctx, t, rk(i.ArgC()))
			if err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = v
		case luacode.OpGetTable:
			v, err := l.index(ctx, l.stack[base+int(i.ArgB())], rk(i.ArgC()))
			if err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = v
		case luacode.OpSetTabUp:
			t := l.getUpvalue(&cl.upvalues[i.ArgA()])
			if err := l.setIndex(ctx, t, rk(i.ArgB()), rk(i.ArgC())); err != nil {
				return err
			}
		case luacode.OpSetUpval:
			l.setUpvalue(&cl.upvalues[i.ArgB()], l.stack[register(i.ArgA())])
		case luacode.OpSetTable:
			if err := l.setIndex(ctx, l.stack[register(i.ArgA())], rk(i.ArgB()), rk(i.ArgC())); err != nil {
				return err
			}
		case luacode.OpNewTable:
			numArray := fbToInt(int(i.ArgB()))
			numNodes := fbToInt(int(i.ArgC()))
			t := &Table{id: nextID()}
			if err := t.Resize(numArray, numNodes); err != nil {
				return l.runtimeError("%v", err)
			}
			l.stack[register(i.ArgA())] = TableValue(t)
		case luacode.OpSelf:
			ra := register(i.ArgA())
			rb := l.stack[base+int(i.ArgB())]
			l.stack[ra+1] = rb
			v, err := l.index(ctx, rb, rk(i.ArgC()))
			if err != nil {
				return err
			}
			l.stack[ra] = v
		case luacode.OpAdd, luacode.OpSub, luacode.OpMul, luacode.OpDiv, luacode.OpMod, luacode.OpPow:
			arithOp, _ := op.ArithmeticOperator()
			rb, rc := rk(i.ArgB()), rk(i.ArgC())
			ra := register(i.ArgA())
			if rb.t == TypeNumber && rc.t == TypeNumber {
				l.stack[ra] = NumberValue(luacode.Arithmetic(arithOp, rb.n, rc.n))
				continue
			}
			v, err := l.arith(ctx, arithOp, rb, rc)
			if err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = v
		case luacode.OpUNM:
			rb := l.stack[base+int(i.ArgB())]
			if rb.t == TypeNumber {
				l.stack[register(i.ArgA())] = NumberValue(-rb.n)
				continue
			}
			v, err := l.arith(ctx, luacode.UnaryMinus, rb, rb)
			if err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = v
		case luacode.OpNot:
			l.stack[register(i.ArgA())] = BoolValue(!l.stack[base+int(i.ArgB())].ToBool())
		case luacode.OpLen:
			v, err := l.length(ctx, l.stack[base+int(i.ArgB())])
			if err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = v
		case luacode.OpConcat:
			b, c := int(i.ArgB()), int(i.ArgC())
			l.top = base + c + 1
			if err := l.concat(ctx, c-b+1); err != nil {
				return err
			}
			l.stack[register(i.ArgA())] = l.stack[base+b]
			l.top = l.ci.top
		case luacode.OpJMP:
			pc = jump(pc, i)
		case luacode.OpEQ, luacode.OpLT, luacode.OpLE:
			rb, rc := rk(i.ArgB()), rk(i.ArgC())
			var result bool
			var err error
			switch op {
			case luacode.OpEQ:
				result, err = l.equal(ctx, rb, rc)
			case luacode.OpLT:
				result, err = l.lessThan(ctx, rb, rc)
			default:
				result, err = l.lessEqual(ctx, rb, rc)
			}
			if err != nil {
				return err
			}
			pc++
			if result == (i.ArgA() != 0) {
				pc = jump(pc, code[pc])
			}
		case luacode.OpTest:
			pc++
			if l.stack[register(i.ArgA())].ToBool() == (i.ArgC() != 0) {
				pc = jump(pc, code[pc])
			}
		case luacode.OpTestSet:
			rb := l.stack[base+int(i.ArgB())]
			pc++
			if rb.ToBool() == (i.ArgC() != 0) {
				l.stack[register(i.ArgA())] = rb
				pc = jump(pc, code[pc])
			}
		case luacode.OpCall:
			ra := register(i.ArgA())
			numArgs := int(i.ArgB()) - 1
			if numArgs < 0 {
				numArgs = l.top - ra - 1
			}
			numResults := int(i.ArgC()) - 1
			if err := l.call(ctx, ra, numArgs, numResults, ra); err != nil {
				return err
			}
			if numResults >= 0 {
				l.top = l.ci.top
			}
		case luacode.OpTailCall:
			ra := register(i.ArgA())
			numArgs := int(i.ArgB()) - 1
			if numArgs < 0 {
				numArgs = l.top - ra - 1
			}
			if len(p.functions) > 0 {
				l.closeUpvalues(base)
			}
			return l.call(ctx, ra, numArgs, l.ci.resultCount, l.ci.resultIndex)
		case luacode.OpReturn:
			ra := register(i.ArgA())
			n := int(i.ArgB()) - 1
			if n < 0 {
				n = l.top - ra
			}
			if len(p.functions) > 0 {
				l.closeUpvalues(base)
			}
			return l.moveResults(ra, n, l.ci.resultIndex, l.ci.resultCount)
		case luacode.OpForLoop:
			ra := register(i.ArgA())
			step := l.stack[ra+2].n
			idx := l.stack[ra].n + step
			limit := l.stack[ra+1].n
			if 0 < step && idx <= limit || step <= 0 && limit <= idx {
				pc += int(i.ArgBx())
				l.stack[ra] = NumberValue(idx)
				l.stack[ra+3] = NumberValue(idx)
			}
		case luacode.OpForPrep:
			ra := register(i.ArgA())
			init, ok := toNumber(l.stack[ra])
			if !ok {
				return l.runtimeError("'for' initial value must be a number")
			}
			limit, ok := toNumber(l.stack[ra+1])
			if !ok {
				return l.runtimeError("'for' limit must be a number")
			}
			step, ok := toNumber(l.stack[ra+2])
			if !ok {
				return l.runtimeError("'for' step must be a number")
			}
			l.stack[ra] = NumberValue(init - step)
			l.stack[ra+1] = NumberValue(limit)
			l.stack[ra+2] = NumberValue(step)
			pc += int(i.ArgBx())
		case luacode.OpTForCall:
			ra := register(i.ArgA())
			cb := ra + 3
			copy(l.stack[cb:cb+3], l.stack[ra:ra+3])
			if err := l.call(ctx, cb, 2, int(i.ArgC()), cb); err != nil {
				return err
			}
			l.top = l.ci.top
			// Fall through to the following TFORLOOP.
			pc++
			l.ci.pc = pc
			i = code[pc]
			ra = register(i.ArgA())
			if v := l.stack[ra+1]; !v.IsNil() {
				l.stack[ra] = v
				pc += int(i.ArgBx())
			}
		case luacode.OpTForLoop:
			ra := register(i.ArgA())
			if v := l.stack[ra+1]; !v.IsNil() {
				l.stack[ra] = v
				pc += int(i.ArgBx())
			}
		case luacode.OpSetList:
			ra := register(i.ArgA())
			n := int(i.ArgB())
			if n == 0 {
				n = l.top - ra - 1
			}
			c := int(i.ArgC())
			if c == 0 {
				pc++
				c = int(code[pc].ArgAx())
			}
			t, ok := l.stack[ra].ref.(*Table)
			if !ok {
				return fmt.Errorf("%w: %v on %v", luacode.ErrInvalidBytecode, op, l.stack[ra].Type())
			}
			last := (c-1)*luacode.FieldsPerFlush + n
			if last > t.ArrayCapacity() {
				if err := t.Resize(last, t.NodeCapacity()); err != nil {
					return l.runtimeError("%v", err)
				}
			}
			for j := n; j > 0; j-- {
				if err := t.SetInt(int64(last), l.stack[ra+j]); err != nil {
					return l.runtimeError("%v", err)
				}
				last--
			}
			l.top = l.ci.top
		case luacode.OpClosure:
			l.stack[register(i.ArgA())] = ClosureValue(l.newClosure(p.functions[i.ArgBx()], cl, base))
		case luacode.OpVararg:
			ra := register(i.ArgA())
			numVarArgs := base - l.ci.varArgsIndex
			want := int(i.ArgB()) - 1
			if want < 0 {
				want = numVarArgs
				if err := l.grow(ra + numVarArgs); err != nil {
					return l.runtimeError("stack overflow")
				}
				l.top = ra + numVarArgs
			}
			for j := range want {
				if j < numVarArgs {
					l.stack[ra+j] = l.stack[l.ci.varArgsIndex+j]
				} else {
					l.stack[ra+j] = Value{}
				}
			}
		default:
			return fmt.Errorf("%w: unknown opcode %v", luacode.ErrInvalidBytecode, op)
		}
	}
	return fmt.Errorf("%w: function does not return", luacode.ErrInvalidBytecode)
}

// fbToInt converts a "floating point byte" to an integer.
// The byte has the form eeeeexxx
// and represents (1xxx) * 2^(eeeee - 1) if eeeee != 0 or xxx otherwise.
func fbToInt(x int) int {
	e := (x >> 3) & 0x1f
	if e == 0 {
		return x
	}
	return ((x & 7) + 8) << (e - 1)
}
