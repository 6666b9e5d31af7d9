// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

// A Function is a callback for a Lua function implemented in Go.
// A Go function receives its arguments from the thread's stack
// in direct order (the first argument is at index 1).
// To return values to Lua, a Go function pushes them onto the stack
// and returns the number of results.
// Any other value in the stack below the results will be discarded.
// A non-nil error is raised as a Lua error.
type Function func(ctx context.Context, l *Thread) (int, error)

type goFunction struct {
	id   uint64
	name string
	cb   Function
}

// Closure is a Lua function: a [*luacode.Prototype]
// together with the values of its upvalues.
type Closure struct {
	id       uint64
	proto    *prototype
	upvalues []upvalue
}

// Prototype returns the function's compiled code.
// The caller must not modify the returned prototype.
func (c *Closure) Prototype() *luacode.Prototype {
	return c.proto.p
}

// prototype is a [*luacode.Prototype] prepared for execution.
type prototype struct {
	p         *luacode.Prototype
	constants []Value
	functions []*prototype
}

func newPrototype(p *luacode.Prototype) (*prototype, error) {
	if err := verify(p); err != nil {
		return nil, err
	}
	pp := &prototype{
		p:         p,
		constants: make([]Value, len(p.Constants)),
		functions: make([]*prototype, len(p.Functions)),
	}
	for i, k := range p.Constants {
		pp.constants[i] = importConstant(k)
	}
	for i, f := range p.Functions {
		var err error
		pp.functions[i], err = newPrototype(f)
		if err != nil {
			return nil, fmt.Errorf("function [%d]: %w", i, err)
		}
	}
	return pp, nil
}

// verify checks that the operands of each instruction in p
// refer to registers, constants, upvalues, and functions that exist,
// so that execution never indexes out of range.
func verify(p *luacode.Prototype) error {
	maxStack := int(p.MaxStackSize)
	checkRegister := func(pc int, r int) error {
		if r >= maxStack {
			return fmt.Errorf("%w: instruction %d: register %d out of range", luacode.ErrInvalidBytecode, pc, r)
		}
		return nil
	}
	checkRK := func(pc int, rk uint16) error {
		if luacode.IsConstant(rk) {
			if luacode.ConstantIndex(rk) >= len(p.Constants) {
				return fmt.Errorf("%w: instruction %d: constant %d out of range", luacode.ErrInvalidBytecode, pc, luacode.ConstantIndex(rk))
			}
			return nil
		}
		return checkRegister(pc, int(rk))
	}
	checkUpvalue := func(pc int, i int) error {
		if i >= len(p.Upvalues) {
			return fmt.Errorf("%w: instruction %d: upvalue %d out of range", luacode.ErrInvalidBytecode, pc, i)
		}
		return nil
	}
	checkJump := func(pc int, offset int32) error {
		if dest := pc + 1 + int(offset); dest < 0 || dest >= len(p.Code) {
			return fmt.Errorf("%w: instruction %d: jump out of range", luacode.ErrInvalidBytecode, pc)
		}
		return nil
	}
	checkNext := func(pc int, want luacode.OpCode) error {
		if pc+1 >= len(p.Code) || p.Code[pc+1].OpCode() != want {
			return fmt.Errorf("%w: instruction %d: %v must be followed by %v", luacode.ErrInvalidBytecode, pc, p.Code[pc].OpCode(), want)
		}
		return nil
	}

	if int(p.NumParams) > maxStack {
		return fmt.Errorf("%w: more parameters than registers", luacode.ErrInvalidBytecode)
	}
	if len(p.Code) == 0 || p.Code[len(p.Code)-1].OpCode() != luacode.OpReturn {
		return fmt.Errorf("%w: function does not end in %v", luacode.ErrInvalidBytecode, luacode.OpReturn)
	}
	for pc, i := range p.Code {
		op := i.OpCode()
		if !op.IsValid() {
			return fmt.Errorf("%w: instruction %d: unknown opcode %d", luacode.ErrInvalidBytecode, pc, uint8(op))
		}
		a := int(i.ArgA())
		var err error
		switch op {
		case luacode.OpMove, luacode.OpUNM, luacode.OpNot, luacode.OpLen:
			if err = checkRegister(pc, a); err == nil {
				err = checkRegister(pc, int(i.ArgB()))
			}
		case luacode.OpLoadK:
			if err = checkRegister(pc, a); err == nil && int(i.ArgBx()) >= len(p.Constants) {
				err = fmt.Errorf("%w: instruction %d: constant %d out of range", luacode.ErrInvalidBytecode, pc, i.ArgBx())
			}
		case luacode.OpLoadKX:
			if err = checkRegister(pc, a); err == nil {
				if err = checkNext(pc, luacode.OpExtraArg); err == nil && int(p.Code[pc+1].ArgAx()) >= len(p.Constants) {
					err = fmt.Errorf("%w: instruction %d: constant %d out of range", luacode.ErrInvalidBytecode, pc, p.Code[pc+1].ArgAx())
				}
			}
		case luacode.OpLoadBool, luacode.OpNewTable:
			err = checkRegister(pc, a)
		case luacode.OpLoadNil:
			err = checkRegister(pc, a+int(i.ArgB()))
		case luacode.OpGetUpval:
			if err = checkRegister(pc, a); err == nil {
				err = checkUpvalue(pc, int(i.ArgB()))
			}
		case luacode.OpSetUpval:
			if err = checkRegister(pc, a); err == nil {
				err = checkUpvalue(pc, int(i.ArgB()))
			}
		case luacode.OpGetTabUp:
			if err = checkRegister(pc, a); err == nil {
				if err = checkUpvalue(pc, int(i.ArgB())); err == nil {
					err = checkRK(pc, i.ArgC())
				}
			}
		case luacode.OpGetTable, luacode.OpSelf:
			if op == luacode.OpSelf {
				err = checkRegister(pc, a+1)
			} else {
				err = checkRegister(pc, a)
			}
			if err == nil {
				if err = checkRegister(pc, int(i.ArgB())); err == nil {
					err = checkRK(pc, i.ArgC())
				}
			}
		case luacode.OpSetTabUp:
			if err = checkUpvalue(pc, a); err == nil {
				if err = checkRK(pc, i.ArgB()); err == nil {
					err = checkRK(pc, i.ArgC())
				}
			}
		case luacode.OpSetTable,
			luacode.OpAdd, luacode.OpSub, luacode.OpMul, luacode.OpDiv, luacode.OpMod, luacode.OpPow:
			if err = checkRegister(pc, a); err == nil {
				if err = checkRK(pc, i.ArgB()); err == nil {
					err = checkRK(pc, i.ArgC())
				}
			}
		case luacode.OpConcat:
			b, c := int(i.ArgB()), int(i.ArgC())
			if b >= c {
				err = fmt.Errorf("%w: instruction %d: empty concatenation", luacode.ErrInvalidBytecode, pc)
			} else if err = checkRegister(pc, a); err == nil {
				err = checkRegister(pc, c)
			}
		case luacode.OpJMP:
			err = checkJump(pc, i.ArgBx())
		case luacode.OpEQ, luacode.OpLT, luacode.OpLE:
			if err = checkRK(pc, i.ArgB()); err == nil {
				if err = checkRK(pc, i.ArgC()); err == nil {
					err = checkNext(pc, luacode.OpJMP)
				}
			}
		case luacode.OpTest:
			if err = checkRegister(pc, a); err == nil {
				err = checkNext(pc, luacode.OpJMP)
			}
		case luacode.OpTestSet:
			if err = checkRegister(pc, a); err == nil {
				if err = checkRegister(pc, int(i.ArgB())); err == nil {
					err = checkNext(pc, luacode.OpJMP)
				}
			}
		case luacode.OpCall, luacode.OpTailCall:
			err = checkRegister(pc, a)
			if b := int(i.ArgB()); err == nil && b > 0 {
				err = checkRegister(pc, a+b-1)
			}
			if c := int(i.ArgC()); err == nil && op == luacode.OpCall && c > 1 {
				err = checkRegister(pc, a+c-2)
			}
		case luacode.OpReturn:
			if b := int(i.ArgB()); b > 1 {
				err = checkRegister(pc, a+b-2)
			}
		case luacode.OpForLoop, luacode.OpForPrep:
			if err = checkRegister(pc, a+3); err == nil {
				err = checkJump(pc, i.ArgBx())
			}
		case luacode.OpTForCall:
			// The call frame occupies a+3 through a+5 even for fewer results.
			if err = checkRegister(pc, a+2+max(int(i.ArgC()), 3)); err == nil {
				err = checkNext(pc, luacode.OpTForLoop)
			}
		case luacode.OpTForLoop:
			if err = checkRegister(pc, a+1); err == nil {
				err = checkJump(pc, i.ArgBx())
			}
		case luacode.OpSetList:
			if err = checkRegister(pc, a+int(i.ArgB())); err == nil && i.ArgC() == 0 {
				err = checkNext(pc, luacode.OpExtraArg)
			}
		case luacode.OpClosure:
			if err = checkRegister(pc, a); err == nil {
				if bx := int(i.ArgBx()); bx >= len(p.Functions) {
					err = fmt.Errorf("%w: instruction %d: function %d out of range", luacode.ErrInvalidBytecode, pc, bx)
				} else {
					err = verifyCapture(p, p.Functions[bx])
				}
			}
		case luacode.OpVararg:
			if b := int(i.ArgB()); b > 1 {
				err = checkRegister(pc, a+b-2)
			} else {
				err = checkRegister(pc, a)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// verifyCapture checks that a child function's upvalue descriptors
// refer to registers or upvalues of its parent.
func verifyCapture(parent, child *luacode.Prototype) error {
	for i, uv := range child.Upvalues {
		switch uv.Kind {
		case luacode.UpvalueStack:
			if int(uv.Index) >= int(parent.MaxStackSize) {
				return fmt.Errorf("%w: upvalue %d captures register %d out of range", luacode.ErrInvalidBytecode, i, uv.Index)
			}
		case luacode.UpvalueParent, luacode.UpvalueCopy:
			if int(uv.Index) >= len(parent.Upvalues) {
				return fmt.Errorf("%w: upvalue %d captures upvalue %d out of range", luacode.ErrInvalidBytecode, i, uv.Index)
			}
		default:
			return fmt.Errorf("%w: upvalue %d has unknown kind %v", luacode.ErrInvalidBytecode, i, uv.Kind)
		}
	}
	return nil
}

// Userdata is a Go value with an optional metatable
// that can be stored in Lua values.
type Userdata struct {
	id   uint64
	data any
	meta *Table
}

// NewUserdata returns a new userdata that wraps x.
func NewUserdata(x any) *Userdata {
	return &Userdata{id: nextID(), data: x}
}

// Data returns the Go value the userdata wraps.
func (u *Userdata) Data() any {
	return u.data
}

// Metatable returns the userdata's metatable.
func (u *Userdata) Metatable() *Table {
	if u == nil {
		return nil
	}
	return u.meta
}

// SetMetatable sets the userdata's metatable.
func (u *Userdata) SetMetatable(mt *Table) {
	u.meta = mt
}
