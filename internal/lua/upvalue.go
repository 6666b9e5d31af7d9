// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"slices"

	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

// upvalue is a variable captured by a [Closure].
// An upvalue is in one of three states:
//
//   - open: the variable still lives in a stack slot of the enclosing function.
//   - shared: the variable has been closed over by more than one closure
//     and lives in a cell they share.
//   - plain: the variable is only visible to one closure,
//     so the closure holds the value directly.
type upvalue struct {
	open       bool
	stackIndex int
	cell       *upvalueCell
	value      Value
}

type upvalueCell struct {
	v Value
}

func (l *Thread) getUpvalue(uv *upvalue) Value {
	switch {
	case uv.open:
		return l.stack[uv.stackIndex]
	case uv.cell != nil:
		return uv.cell.v
	default:
		return uv.value
	}
}

func (l *Thread) setUpvalue(uv *upvalue, v Value) {
	switch {
	case uv.open:
		l.stack[uv.stackIndex] = v
	case uv.cell != nil:
		uv.cell.v = v
	default:
		uv.value = v
	}
}

// openUpvalue is an upvalue that refers to a stack slot.
type openUpvalue struct {
	storage    []upvalue
	i          int
	stackIndex int
}

func (ou openUpvalue) get() *upvalue {
	return &ou.storage[ou.i]
}

// registerOpenUpvalue marks storage[i] as open on the given stack slot.
// The list of open upvalues stays sorted by stack index.
func (l *Thread) registerOpenUpvalue(storage []upvalue, i int, stackIndex int) {
	storage[i] = upvalue{open: true, stackIndex: stackIndex}
	pos, _ := slices.BinarySearchFunc(l.openUpvalues, stackIndex, func(ou openUpvalue, target int) int {
		return ou.stackIndex - target
	})
	l.openUpvalues = slices.Insert(l.openUpvalues, pos, openUpvalue{
		storage:    storage,
		i:          i,
		stackIndex: stackIndex,
	})
}

// closeUpvalues closes every open upvalue that refers to a stack slot at or above bottom.
// The first upvalue closed over a slot receives a plain copy of the value.
// If more upvalues refer to the same slot,
// they are all moved into a shared cell.
func (l *Thread) closeUpvalues(bottom int) {
	n := len(l.openUpvalues)
	start := n
	for start > 0 && l.openUpvalues[start-1].stackIndex >= bottom {
		start--
	}
	if start == n {
		return
	}
	if l.closedAliases == nil {
		l.closedAliases = make(map[int]*upvalue)
	}
	for j := n - 1; j >= start; j-- {
		ou := l.openUpvalues[j]
		uv := ou.get()
		first := l.closedAliases[ou.stackIndex]
		if first == nil {
			*uv = upvalue{value: l.stack[ou.stackIndex]}
			l.closedAliases[ou.stackIndex] = uv
			continue
		}
		if first.cell == nil {
			first.cell = &upvalueCell{v: first.value}
			first.value = Value{}
		}
		*uv = upvalue{cell: first.cell}
	}
	clear(l.closedAliases)
	clear(l.openUpvalues[start:])
	l.openUpvalues = l.openUpvalues[:start]
}

// newClosure creates a closure for p inside the Lua function parent
// whose registers start at base.
func (l *Thread) newClosure(p *prototype, parent *Closure, base int) *Closure {
	c := &Closure{
		id:       nextID(),
		proto:    p,
		upvalues: make([]upvalue, len(p.p.Upvalues)),
	}
	for i, desc := range p.p.Upvalues {
		if desc.Kind == luacode.UpvalueStack {
			l.registerOpenUpvalue(c.upvalues, i, base+int(desc.Index))
			continue
		}
		puv := &parent.upvalues[desc.Index]
		switch {
		case puv.open:
			l.registerOpenUpvalue(c.upvalues, i, puv.stackIndex)
		case desc.Kind == luacode.UpvalueCopy:
			c.upvalues[i] = upvalue{value: l.getUpvalue(puv)}
		default:
			if puv.cell == nil {
				puv.cell = &upvalueCell{v: puv.value}
				puv.value = Value{}
			}
			c.upvalues[i] = upvalue{cell: puv.cell}
		}
	}
	return c
}
