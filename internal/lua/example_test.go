// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua_test

import (
	"context"
	"fmt"
	"log"

	"github.com/henchmeninteractive/henchlua/internal/lua"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
)

func Example() {
	ctx := context.Background()

	// Create an execution environment
	// and make the standard libraries available.
	l := lua.NewThread()
	if err := lua.OpenLibraries(l, nil); err != nil {
		log.Fatal(err)
	}

	// print("Hello, World!")
	p := &luacode.Prototype{
		IsVararg:     true,
		MaxStackSize: 2,
		Code: []luacode.Instruction{
			luacode.ABCInstruction(luacode.OpGetTabUp, 0, 0, luacode.RKConstant(0)),
			luacode.ABxInstruction(luacode.OpLoadK, 1, 1),
			luacode.ABCInstruction(luacode.OpCall, 0, 2, 1),
			luacode.ABCInstruction(luacode.OpReturn, 0, 1, 0),
		},
		Constants: []luacode.Value{
			luacode.StringValue("print"),
			luacode.StringValue("Hello, World!"),
		},
		Upvalues: []luacode.UpvalueDescriptor{
			{Name: "_ENV", Kind: luacode.UpvalueStack, Index: 0},
		},
		Source: luacode.AbstractSource("hello"),
	}

	// Load the chunk as a function.
	// Calling this function then executes it.
	if err := l.Load(p); err != nil {
		log.Fatal(err)
	}
	if err := l.Call(ctx, 0, 0); err != nil {
		log.Fatal(err)
	}
	// Output:
	// Hello, World!
}

func ExampleThread_Call() {
	ctx := context.Background()
	l := lua.NewThread()

	// Call a Go function through the interpreter.
	l.Push(lua.NamedFunctionValue("sum", func(ctx context.Context, l *lua.Thread) (int, error) {
		var total float64
		for i := 1; i <= l.Top(); i++ {
			n, err := lua.CheckNumber(l, i)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return l.Return(lua.NumberValue(total)), nil
	}))
	l.PushValues(lua.IntValue(1), lua.IntValue(2), lua.StringValue("3"))
	if err := l.Call(ctx, 3, 1); err != nil {
		log.Fatal(err)
	}
	fmt.Println(l.PopValue())
	// Output:
	// 6
}

func ExampleTable_All() {
	t := lua.NewTable(0, 1)
	if err := t.SetString(lua.NewLString("foo"), lua.StringValue("bar")); err != nil {
		log.Fatal(err)
	}
	for k, v := range t.All() {
		fmt.Printf("%v - %v\n", k, v)
	}
	// Output:
	// foo - bar
}
