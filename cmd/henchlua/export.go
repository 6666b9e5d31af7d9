// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/henchmeninteractive/henchlua/internal/lua"
)

// maxExportDepth bounds the nesting of tables converted by [luaToGo].
const maxExportDepth = 100

// luaToGo converts a Lua value into a Go value
// suitable for JSON or CBOR encoding.
// Tables with a non-empty sequence become slices;
// other tables become maps of their string keys.
// Strings that are not valid UTF-8 become byte slices.
// Functions, userdata, and threads are described by their tostring form.
func luaToGo(v lua.Value) (any, error) {
	return exportValue(v, make(map[*lua.Table]struct{}), 0)
}

func exportValue(v lua.Value, seen map[*lua.Table]struct{}, depth int) (any, error) {
	switch v.Type() {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeBoolean:
		return v.ToBool(), nil
	case lua.TypeNumber:
		n, _ := v.Float64()
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), nil
		}
		return n, nil
	case lua.TypeString:
		s, _ := v.LString()
		str := s.String()
		if !utf8.ValidString(str) {
			return []byte(str), nil
		}
		return str, nil
	case lua.TypeTable:
		t := v.Table()
		if _, cycle := seen[t]; cycle {
			return nil, fmt.Errorf("table contains itself")
		}
		if depth >= maxExportDepth {
			return nil, fmt.Errorf("tables nested too deeply")
		}
		seen[t] = struct{}{}
		defer delete(seen, t)

		// Try first for an array.
		var arr []any
		for i := int64(1); ; i++ {
			elem := t.GetInt(i)
			if elem.IsNil() {
				break
			}
			x, err := exportValue(elem, seen, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %v", i, err)
			}
			arr = append(arr, x)
		}
		if len(arr) > 0 {
			return arr, nil
		}

		// It's an object.
		m := make(map[string]any)
		for k, elem := range t.All() {
			if k.Type() != lua.TypeString {
				continue
			}
			ks := k.String()
			x, err := exportValue(elem, seen, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %v", ks, err)
			}
			m[ks] = x
		}
		return m, nil
	default:
		return v.String(), nil
	}
}
