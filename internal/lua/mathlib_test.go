// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/henchmeninteractive/henchlua/internal/testcontext"
)

// approxValueCompare compares numbers with a relative tolerance
// and other values with [RawEqual].
var approxValueCompare = cmp.Options{
	cmp.Comparer(func(v1, v2 Value) bool {
		f1, ok1 := v1.Float64()
		f2, ok2 := v2.Float64()
		if !ok1 || !ok2 || math.IsInf(f1, 0) || math.IsInf(f2, 0) {
			return RawEqual(v1, v2)
		}
		return math.Abs(f1-f2) <= 1e-12*max(math.Abs(f1), math.Abs(f2), 1)
	}),
	cmpopts.EquateEmpty(),
}

// fixedRandomSource is a [RandomSource] that always returns the same value.
type fixedRandomSource struct {
	value uint64
	seeds []RandomSeed
}

func (src *fixedRandomSource) Uint64() uint64 {
	return src.value
}

func (src *fixedRandomSource) Seed(seed RandomSeed) {
	src.seeds = append(src.seeds, seed)
}

func TestMathLibrary(t *testing.T) {
	l := newLibThread(t, &Options{
		Math: &MathOptions{Source: &fixedRandomSource{value: 1 << 52}},
	})

	tests := []libraryTest{
		{name: "Abs", fn: "math.abs", args: []Value{IntValue(-2)}, want: []Value{IntValue(2)}},
		{name: "Floor", fn: "math.floor", args: []Value{NumberValue(3.7)}, want: []Value{IntValue(3)}},
		{name: "FloorNegative", fn: "math.floor", args: []Value{NumberValue(-3.2)}, want: []Value{IntValue(-4)}},
		{name: "Ceil", fn: "math.ceil", args: []Value{NumberValue(3.2)}, want: []Value{IntValue(4)}},
		{name: "FloorString", fn: "math.floor", args: []Value{StringValue("2.5")}, want: []Value{IntValue(2)}},
		{name: "Max", fn: "math.max", args: []Value{IntValue(1), IntValue(5), IntValue(3)}, want: []Value{IntValue(5)}},
		{name: "Min", fn: "math.min", args: []Value{IntValue(4), IntValue(2), IntValue(8)}, want: []Value{IntValue(2)}},
		{name: "Fmod", fn: "math.fmod", args: []Value{IntValue(7), IntValue(3)}, want: []Value{IntValue(1)}},
		{name: "FmodNegative", fn: "math.fmod", args: []Value{IntValue(-7), IntValue(3)}, want: []Value{IntValue(-1)}},
		{name: "Modf", fn: "math.modf", args: []Value{NumberValue(3.5)}, want: []Value{IntValue(3), NumberValue(0.5)}},
		{name: "ModfInf", fn: "math.modf", args: []Value{NumberValue(math.Inf(1))}, want: []Value{NumberValue(math.Inf(1)), IntValue(0)}},
		{name: "Frexp", fn: "math.frexp", args: []Value{IntValue(8)}, want: []Value{NumberValue(0.5), IntValue(4)}},
		{name: "Ldexp", fn: "math.ldexp", args: []Value{NumberValue(0.5), IntValue(4)}, want: []Value{IntValue(8)}},
		{name: "Log", fn: "math.log", args: []Value{IntValue(1)}, want: []Value{IntValue(0)}},
		{name: "Log10", fn: "math.log", args: []Value{IntValue(100), IntValue(10)}, want: []Value{IntValue(2)}},
		{name: "Log2", fn: "math.log", args: []Value{IntValue(8), IntValue(2)}, want: []Value{IntValue(3)}},
		{name: "Exp", fn: "math.exp", args: []Value{IntValue(0)}, want: []Value{IntValue(1)}},
		{name: "Sqrt", fn: "math.sqrt", args: []Value{IntValue(16)}, want: []Value{IntValue(4)}},
		{name: "Pow", fn: "math.pow", args: []Value{IntValue(2), IntValue(10)}, want: []Value{IntValue(1024)}},
		{name: "Deg", fn: "math.deg", args: []Value{NumberValue(math.Pi)}, want: []Value{IntValue(180)}},
		{name: "Rad", fn: "math.rad", args: []Value{IntValue(180)}, want: []Value{NumberValue(math.Pi)}},
		{name: "Atan2", fn: "math.atan2", args: []Value{IntValue(1), IntValue(1)}, want: []Value{NumberValue(math.Pi / 4)}},
		{name: "Sin", fn: "math.sin", args: []Value{IntValue(0)}, want: []Value{IntValue(0)}},
		{name: "Cos", fn: "math.cos", args: []Value{IntValue(0)}, want: []Value{IntValue(1)}},
		{name: "Random", fn: "math.random", want: []Value{NumberValue(0.5)}},
		{name: "RandomUpper", fn: "math.random", args: []Value{IntValue(10)}, want: []Value{IntValue(6)}},
		{name: "RandomRange", fn: "math.random", args: []Value{IntValue(3), IntValue(5)}, want: []Value{IntValue(4)}},
		{
			name:    "FloorNotNumber",
			fn:      "math.floor",
			args:    []Value{StringValue("x")},
			wantErr: "bad argument #1 to 'floor' (number expected, got string)",
		},
		{
			name:    "MaxNoArguments",
			fn:      "math.max",
			wantErr: "bad argument #1 to 'max' (number expected, got no value)",
		},
		{
			name:    "RandomEmptyUpper",
			fn:      "math.random",
			args:    []Value{IntValue(0)},
			wantErr: "bad argument #1 to 'random' (interval is empty)",
		},
		{
			name:    "RandomEmptyRange",
			fn:      "math.random",
			args:    []Value{IntValue(5), IntValue(1)},
			wantErr: "bad argument #2 to 'random' (interval is empty)",
		},
		{
			name:    "RandomTooManyArguments",
			fn:      "math.random",
			args:    []Value{IntValue(1), IntValue(2), IntValue(3)},
			wantErr: "wrong number of arguments",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()

			got, err := callLibrary(ctx, l, test.fn, test.args...)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("%s(...) = %v, <nil>; want error %q", test.fn, got, test.wantErr)
				}
				if got := err.Error(); got != test.wantErr {
					t.Errorf("%s(...) error = %q; want %q", test.fn, got, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s(...): %v", test.fn, err)
			}
			if diff := cmp.Diff(test.want, got, approxValueCompare); diff != "" {
				t.Errorf("%s(...) (-want +got):\n%s", test.fn, diff)
			}
		})
	}
}

func TestMathConstants(t *testing.T) {
	l := newLibThread(t, nil)
	lib := l.Globals().GetString(NewLString(MathLibraryName)).Table()
	if got, want := lib.GetString(NewLString("pi")), NumberValue(math.Pi); !RawEqual(got, want) {
		t.Errorf("math.pi = %v; want %v", got, want)
	}
	if got, want := lib.GetString(NewLString("huge")), NumberValue(math.Inf(1)); !RawEqual(got, want) {
		t.Errorf("math.huge = %v; want %v", got, want)
	}
}

func TestMathRandomSeed(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	src := new(fixedRandomSource)
	l := newLibThread(t, &Options{Math: &MathOptions{Source: src}})

	if _, err := callLibrary(ctx, l, "math.randomseed", IntValue(42)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]RandomSeed{{42, 0}}, src.seeds); diff != "" {
		t.Errorf("seeds (-want +got):\n%s", diff)
	}
}

func TestMathRandomDefaultSource(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	l := newLibThread(t, nil)

	for range 100 {
		got, err := callLibrary(ctx, l, "math.random", IntValue(6))
		if err != nil {
			t.Fatal(err)
		}
		n, ok := got[0].Float64()
		if !ok || n < 1 || n > 6 || n != math.Floor(n) {
			t.Fatalf("math.random(6) = %v; want integer in [1, 6]", got[0])
		}
	}
}
