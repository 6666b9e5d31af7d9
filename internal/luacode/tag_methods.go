// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "fmt"

// TagMethod is an enumeration of built-in metamethods.
type TagMethod uint8

// Metamethods.
const (
	TagMethodIndex    TagMethod = 0 // __index
	TagMethodNewIndex TagMethod = 1 // __newindex
	TagMethodGC       TagMethod = 2 // __gc
	TagMethodMode     TagMethod = 3 // __mode
	TagMethodLen      TagMethod = 4 // __len
	// TagMethodEq is the equality (==) operation.
	// TagMethodEq is the last tag method with fast access.
	TagMethodEq TagMethod = 5 // __eq

	TagMethodAdd    TagMethod = 6  // __add
	TagMethodSub    TagMethod = 7  // __sub
	TagMethodMul    TagMethod = 8  // __mul
	TagMethodDiv    TagMethod = 9  // __div
	TagMethodMod    TagMethod = 10 // __mod
	TagMethodPow    TagMethod = 11 // __pow
	TagMethodUNM    TagMethod = 12 // __unm
	TagMethodLT     TagMethod = 13 // __lt
	TagMethodLE     TagMethod = 14 // __le
	TagMethodConcat TagMethod = 15 // __concat
	TagMethodCall   TagMethod = 16 // __call

	numTagMethods = iota
)

var tagMethodNames = [...]string{
	TagMethodIndex:    "__index",
	TagMethodNewIndex: "__newindex",
	TagMethodGC:       "__gc",
	TagMethodMode:     "__mode",
	TagMethodLen:      "__len",
	TagMethodEq:       "__eq",
	TagMethodAdd:      "__add",
	TagMethodSub:      "__sub",
	TagMethodMul:      "__mul",
	TagMethodDiv:      "__div",
	TagMethodMod:      "__mod",
	TagMethodPow:      "__pow",
	TagMethodUNM:      "__unm",
	TagMethodLT:       "__lt",
	TagMethodLE:       "__le",
	TagMethodConcat:   "__concat",
	TagMethodCall:     "__call",
}

// String returns the metatable field name of the metamethod,
// like "__index".
func (tm TagMethod) String() string {
	if int(tm) >= len(tagMethodNames) {
		return fmt.Sprintf("TagMethod(%d)", uint8(tm))
	}
	return tagMethodNames[tm]
}

// ArithmeticOperator returns the [ArithmeticOperator]
// that the metamethod implements, if any.
func (tm TagMethod) ArithmeticOperator() (_ ArithmeticOperator, ok bool) {
	for op := Add; op.isValid(); op++ {
		if op.TagMethod() == tm {
			return op, true
		}
	}
	return 0, false
}
