// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package lua implements a virtual machine for precompiled Lua 5.2 chunks.
It is similar to the de facto C Lua implementation,
but takes advantage of the Go runtime and garbage collector.

[Thread] is the main entrypoint for this package:
[*Thread.Load] turns a [luacode.Prototype] into a function on the stack
and [*Thread.Call] runs it.
[OpenLibraries] is used to load the standard library.

# Relation to the C API

Methods on [Thread] are generally equivalent to C functions that start with “lua_” (the [Lua C API]);
functions in this package are generally equivalent to C functions that start with “luaL_” (the [auxiliary library]).

However, there are some differences:

  - Error handling is handled using the standard Go error type.
    Errors raised by Lua code are [*RuntimeError] values,
    which carry the Lua error object.
    [*Thread.Call] does not push an error object on the stack.
  - Misuse of the stack API (for example, popping past the current frame) panics.
  - Values are passed around as [Value] rather than addressed by stack index,
    so [Function] implementations read arguments with [*Thread.Get]
    and return results with [*Thread.Return].
  - Coroutines are not implemented.
    [TypeThread] values exist only so that threads can be stored in tables.
  - [Thread] does not have to be closed: the Go garbage collector fully manages its resources.

# Differences from de facto C implementation

  - Only binary chunks can be loaded. There is no compiler.
  - The “__gc” (finalizer) metamethod is never called.
  - Weak tables (i.e. the “__mode” metafield) are not supported.
  - The string library has no pattern matching; see [OpenString].
  - Tail calls are ordinary nested calls, so deep tail recursion can overflow the call stack.

[Lua C API]: https://www.lua.org/manual/5.2/manual.html#4
[auxiliary library]: https://www.lua.org/manual/5.2/manual.html#5
*/
package lua
