// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"time"
)

// MathLibraryName is the conventional identifier for the [math library].
//
// [math library]: https://www.lua.org/manual/5.2/manual.html#6.6
const MathLibraryName = "math"

// MathOptions is the parameter type for [OpenMath].
type MathOptions struct {
	// Source is used for random number generation.
	// If nil, a PCG generator seeded from the current time is used.
	Source RandomSource
}

// OpenMath registers the standard math library into globals
// as the table named [MathLibraryName].
func OpenMath(globals *Table, opts *MathOptions) error {
	var src RandomSource
	if opts != nil {
		src = opts.Source
	}
	if src == nil {
		p := new(pcgRandomSource)
		p.Seed(RandomSeed{time.Now().UnixMicro(), int64(reflect.ValueOf(globals).Pointer())})
		src = p
	}

	lib := NewLib(map[string]Function{
		"abs":   unaryMathFunction(math.Abs),
		"acos":  unaryMathFunction(math.Acos),
		"asin":  unaryMathFunction(math.Asin),
		"atan":  unaryMathFunction(math.Atan),
		"atan2": mathAtan2,
		"ceil":  unaryMathFunction(math.Ceil),
		"cos":   unaryMathFunction(math.Cos),
		"cosh":  unaryMathFunction(math.Cosh),
		"deg":   unaryMathFunction(func(x float64) float64 { return x * (180 / math.Pi) }),
		"exp":   unaryMathFunction(math.Exp),
		"floor": unaryMathFunction(math.Floor),
		"fmod":  mathFmod,
		"frexp": mathFrexp,
		"ldexp": mathLdexp,
		"log":   mathLog,
		"max":   mathMax,
		"min":   mathMin,
		"modf":  mathModf,
		"pow":   mathPow,
		"rad":   unaryMathFunction(func(x float64) float64 { return x * (math.Pi / 180) }),
		"random": func(ctx context.Context, l *Thread) (int, error) {
			return mathRandom(ctx, l, src)
		},
		"randomseed": func(ctx context.Context, l *Thread) (int, error) {
			return mathRandomSeed(ctx, l, src)
		},
		"sin":  unaryMathFunction(math.Sin),
		"sinh": unaryMathFunction(math.Sinh),
		"sqrt": unaryMathFunction(math.Sqrt),
		"tan":  unaryMathFunction(math.Tan),
		"tanh": unaryMathFunction(math.Tanh),
	})
	if err := lib.SetString(NewLString("pi"), NumberValue(math.Pi)); err != nil {
		return err
	}
	if err := lib.SetString(NewLString("huge"), NumberValue(math.Inf(1))); err != nil {
		return err
	}
	if err := globals.SetString(NewLString(MathLibraryName), TableValue(lib)); err != nil {
		return fmt.Errorf("open math library: %v", err)
	}
	return nil
}

func unaryMathFunction(f func(float64) float64) Function {
	return func(ctx context.Context, l *Thread) (int, error) {
		x, err := CheckNumber(l, 1)
		if err != nil {
			return 0, err
		}
		return l.Return(NumberValue(f(x))), nil
	}
}

func mathAtan2(ctx context.Context, l *Thread) (int, error) {
	y, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	x, err := CheckNumber(l, 2)
	if err != nil {
		return 0, err
	}
	return l.Return(NumberValue(math.Atan2(y, x))), nil
}

func mathFmod(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	y, err := CheckNumber(l, 2)
	if err != nil {
		return 0, err
	}
	return l.Return(NumberValue(math.Mod(x, y))), nil
}

func mathFrexp(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	frac, exp := math.Frexp(x)
	return l.Return(NumberValue(frac), IntValue(int64(exp))), nil
}

func mathLdexp(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	exp, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	return l.Return(NumberValue(math.Ldexp(x, int(max(min(exp, math.MaxInt32), math.MinInt32))))), nil
}

func mathLog(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	if l.Get(2).IsNil() {
		return l.Return(NumberValue(math.Log(x))), nil
	}
	base, err := CheckNumber(l, 2)
	if err != nil {
		return 0, err
	}
	var res float64
	if base == 10 {
		res = math.Log10(x)
	} else {
		res = math.Log(x) / math.Log(base)
	}
	return l.Return(NumberValue(res)), nil
}

func mathMin(ctx context.Context, l *Thread) (int, error) {
	return mathExtremum(l, func(a, b float64) bool { return a < b })
}

func mathMax(ctx context.Context, l *Thread) (int, error) {
	return mathExtremum(l, func(a, b float64) bool { return a > b })
}

func mathExtremum(l *Thread, better func(a, b float64) bool) (int, error) {
	n := l.Top()
	result, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	for i := 2; i <= n; i++ {
		x, err := CheckNumber(l, i)
		if err != nil {
			return 0, err
		}
		if better(x, result) {
			result = x
		}
	}
	return l.Return(NumberValue(result)), nil
}

func mathModf(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	if math.IsInf(x, 0) {
		return l.Return(NumberValue(x), NumberValue(0)), nil
	}
	ipart, frac := math.Modf(x)
	return l.Return(NumberValue(ipart), NumberValue(frac)), nil
}

func mathPow(ctx context.Context, l *Thread) (int, error) {
	x, err := CheckNumber(l, 1)
	if err != nil {
		return 0, err
	}
	y, err := CheckNumber(l, 2)
	if err != nil {
		return 0, err
	}
	return l.Return(NumberValue(math.Pow(x, y))), nil
}

// A RandomSource is a source of uniformly distributed pseudo-random uint64 values
// in the range [0, 1<<64).
// Calling Seed should reinitialize the pseudo-random number generator.
//
// A RandomSource is not safe for concurrent use by multiple goroutines.
type RandomSource interface {
	rand.Source
	Seed(seed RandomSeed)
}

// RandomSeed is a 128-bit value used to initialize a [RandomSource].
type RandomSeed [2]int64

type pcgRandomSource struct {
	rand.PCG
}

func (p *pcgRandomSource) Seed(seed RandomSeed) {
	p.PCG.Seed(uint64(seed[0]), uint64(seed[1]))
}

func mathRandom(ctx context.Context, l *Thread, src RandomSource) (int, error) {
	r := rand.New(src).Float64()
	switch l.Top() {
	case 0:
		return l.Return(NumberValue(r)), nil
	case 1:
		upper, err := CheckNumber(l, 1)
		if err != nil {
			return 0, err
		}
		if upper < 1 {
			return 0, NewArgError(l, 1, "interval is empty")
		}
		return l.Return(NumberValue(math.Floor(r*upper) + 1)), nil
	case 2:
		lower, err := CheckNumber(l, 1)
		if err != nil {
			return 0, err
		}
		upper, err := CheckNumber(l, 2)
		if err != nil {
			return 0, err
		}
		if lower > upper {
			return 0, NewArgError(l, 2, "interval is empty")
		}
		return l.Return(NumberValue(math.Floor(r*(upper-lower+1)) + lower)), nil
	default:
		return 0, NewError(l, "wrong number of arguments")
	}
}

func mathRandomSeed(ctx context.Context, l *Thread, src RandomSource) (int, error) {
	seed, err := CheckInteger(l, 1)
	if err != nil {
		return 0, err
	}
	src.Seed(RandomSeed{seed, 0})
	return 0, nil
}
