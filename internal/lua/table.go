// Copyright (C) 1994-2024 Lua.org, PUC-Rio.
// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"iter"
	"math"
	"math/bits"
)

// Table errors.
var (
	ErrNilKey        = errors.New("table index is nil")
	ErrNaNKey        = errors.New("table index is NaN")
	ErrTableOverflow = errors.New("table overflow")
	errInvalidNext   = errors.New("invalid key to 'next'")
	errKeyExists     = errors.New("key already present in table")
)

const (
	// maxBits is the largest integer such that 2^maxBits fits in a table part.
	maxBits = 30
	// maxArraySize is the largest array part a table can have.
	maxArraySize = 1 << maxBits
)

// Table is a Lua table: an associative array
// with a dense array part for small positive integer keys
// and a chained scatter hash part for everything else.
// The zero value is an empty table.
//
// Tables are not safe to use from multiple goroutines concurrently.
type Table struct {
	id    uint64
	array []Value
	nodes []node
	// lastFree is one past the highest node that may be free.
	lastFree int
	meta     *Table
}

// node is an entry in the hash part of a table.
// A node whose key is nil has never been used.
// A node with a non-nil key and a nil value is a dead entry:
// its key is kept so that [*Table.Next] can continue from it.
type node struct {
	key   Value
	value Value
	// next is the index of the next node in the chain or -1.
	next int
}

// NewTable returns a new table with space preallocated
// for the given number of array elements and hash entries.
func NewTable(numArray, numNodes int) *Table {
	t := &Table{id: nextID()}
	if err := t.Resize(numArray, numNodes); err != nil {
		panic(err)
	}
	return t
}

func (t *Table) init() {
	if t.id == 0 {
		t.id = nextID()
	}
}

// Metatable returns the table's metatable or nil if it does not have one.
func (t *Table) Metatable() *Table {
	if t == nil {
		return nil
	}
	return t.meta
}

// SetMetatable sets the table's metatable.
// A nil mt removes the metatable.
func (t *Table) SetMetatable(mt *Table) {
	t.meta = mt
}

// Count returns the number of non-nil values in the table.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, v := range t.array {
		if !v.IsNil() {
			n++
		}
	}
	for i := range t.nodes {
		if !t.nodes[i].value.IsNil() {
			n++
		}
	}
	return n
}

// ArrayCapacity returns the size of the table's array part.
func (t *Table) ArrayCapacity() int {
	if t == nil {
		return 0
	}
	return len(t.array)
}

// NodeCapacity returns the size of the table's hash part.
func (t *Table) NodeCapacity() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Get returns the value associated with key
// or nil if the key is not present.
func (t *Table) Get(key Value) Value {
	if t == nil {
		return Value{}
	}
	if p := t.find(key); p != nil {
		return *p
	}
	return Value{}
}

// GetInt returns the value associated with the integer key i.
func (t *Table) GetInt(i int64) Value {
	if t == nil {
		return Value{}
	}
	if 1 <= i && i <= int64(len(t.array)) {
		return t.array[i-1]
	}
	return t.Get(IntValue(i))
}

// GetString returns the value associated with the string key s.
func (t *Table) GetString(s LString) Value {
	if t == nil || len(t.nodes) == 0 {
		return Value{}
	}
	for i := int(s.Hash()) & (len(t.nodes) - 1); i >= 0; i = t.nodes[i].next {
		if k, ok := t.nodes[i].key.ref.(*LString); ok && k.Equal(s) {
			return t.nodes[i].value
		}
	}
	return Value{}
}

// TryGetValue returns the value associated with key
// and whether it is present (non-nil).
func (t *Table) TryGetValue(key Value) (_ Value, ok bool) {
	v := t.Get(key)
	return v, !v.IsNil()
}

// ContainsKey reports whether the table has a non-nil value for key.
func (t *Table) ContainsKey(key Value) bool {
	return !t.Get(key).IsNil()
}

// Set associates value with key.
// Setting a nil value removes the key.
// Set returns an error if the key is nil or NaN,
// or if the table cannot grow to hold the new key.
func (t *Table) Set(key, value Value) error {
	t.init()
	if p := t.find(key); p != nil {
		*p = value
		return nil
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if value.IsNil() {
		return nil
	}
	p, err := t.newKey(key)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// SetInt associates value with the integer key i.
func (t *Table) SetInt(i int64, value Value) error {
	if 1 <= i && i <= int64(len(t.array)) {
		t.array[i-1] = value
		return nil
	}
	return t.Set(IntValue(i), value)
}

// SetString associates value with the string key s.
func (t *Table) SetString(s LString, value Value) error {
	return t.Set(LStringValue(s), value)
}

// Add associates value with key
// or returns an error if the key is already present.
func (t *Table) Add(key, value Value) error {
	if t.ContainsKey(key) {
		return errKeyExists
	}
	return t.Set(key, value)
}

// Remove removes key from the table
// and reports whether it was present.
func (t *Table) Remove(key Value) bool {
	if t == nil {
		return false
	}
	p := t.find(key)
	if p == nil || p.IsNil() {
		return false
	}
	*p = Value{}
	return true
}

// Clear removes all entries from the table,
// keeping its allocated capacity.
func (t *Table) Clear() {
	clear(t.array)
	for i := range t.nodes {
		t.nodes[i] = node{next: -1}
	}
	t.lastFree = len(t.nodes)
}

// ClearWithCapacity removes all entries from the table
// and reallocates it with the given capacities.
func (t *Table) ClearWithCapacity(numArray, numNodes int) error {
	if numArray < 0 || numArray > maxArraySize {
		return ErrTableOverflow
	}
	nodes, err := makeNodes(numNodes)
	if err != nil {
		return err
	}
	t.init()
	t.array = make([]Value, numArray)
	t.nodes = nodes
	t.lastFree = len(nodes)
	return nil
}

// Len returns a border of the table:
// an integer n such that t[n] is not nil and t[n+1] is nil
// (or zero if t[1] is nil).
func (t *Table) Len() int64 {
	if t == nil {
		return 0
	}
	j := len(t.array)
	if j > 0 && t.array[j-1].IsNil() {
		// Binary search for a border in the array part.
		i := 0
		for j-i > 1 {
			m := int(uint(i+j) / 2)
			if t.array[m-1].IsNil() {
				j = m
			} else {
				i = m
			}
		}
		return int64(i)
	}
	if len(t.nodes) == 0 {
		return int64(j)
	}
	return t.unboundSearch(int64(j))
}

func (t *Table) unboundSearch(j int64) int64 {
	i := j
	j++
	for !t.GetInt(j).IsNil() {
		i = j
		if j > math.MaxInt32/2 {
			// Pathological table: resort to a linear search.
			i = 1
			for !t.GetInt(i).IsNil() {
				i++
			}
			return i - 1
		}
		j *= 2
	}
	for j-i > 1 {
		m := (i + j) / 2
		if t.GetInt(m).IsNil() {
			j = m
		} else {
			i = m
		}
	}
	return i
}

// Next returns the key-value pair that follows key in the table's traversal order.
// Next(nil) returns the first pair.
// Once the traversal is complete, Next returns nil for the key.
// Assigning to existing fields (including clearing them)
// does not change the traversal order,
// but adding new keys during a traversal has undefined results.
func (t *Table) Next(key Value) (k, v Value, err error) {
	if t == nil {
		if !key.IsNil() {
			return Value{}, Value{}, errInvalidNext
		}
		return Value{}, Value{}, nil
	}
	i, err := t.traversalIndex(key)
	if err != nil {
		return Value{}, Value{}, err
	}
	for ; i < len(t.array); i++ {
		if !t.array[i].IsNil() {
			return IntValue(int64(i) + 1), t.array[i], nil
		}
	}
	for i -= len(t.array); i < len(t.nodes); i++ {
		if n := &t.nodes[i]; !n.value.IsNil() {
			return n.key, n.value, nil
		}
	}
	return Value{}, Value{}, nil
}

// traversalIndex returns the position after key in the traversal.
func (t *Table) traversalIndex(key Value) (int, error) {
	if key.IsNil() {
		return 0, nil
	}
	if i, ok := arrayIndex(key, len(t.array)); ok {
		return i + 1, nil
	}
	if len(t.nodes) > 0 {
		for i := t.mainPosition(key); i >= 0; i = t.nodes[i].next {
			if RawEqual(t.nodes[i].key, key) {
				return len(t.array) + i + 1, nil
			}
		}
	}
	return 0, errInvalidNext
}

// All returns an iterator over the table's non-nil entries
// in traversal order.
func (t *Table) All() iter.Seq2[Value, Value] {
	return func(yield func(Value, Value) bool) {
		if t == nil {
			return
		}
		for i := 0; i < len(t.array); i++ {
			if v := t.array[i]; !v.IsNil() && !yield(IntValue(int64(i)+1), v) {
				return
			}
		}
		for i := 0; i < len(t.nodes); i++ {
			if n := t.nodes[i]; !n.value.IsNil() && !yield(n.key, n.value) {
				return
			}
		}
	}
}

// find returns a pointer to the slot for key
// or nil if the key has no slot.
// The slot may hold nil if the key was removed.
func (t *Table) find(key Value) *Value {
	switch key.t {
	case TypeNil:
		return nil
	case TypeNumber:
		if i, ok := arrayIndex(key, len(t.array)); ok {
			return &t.array[i]
		}
	}
	if len(t.nodes) == 0 {
		return nil
	}
	for i := t.mainPosition(key); i >= 0; i = t.nodes[i].next {
		if RawEqual(t.nodes[i].key, key) {
			return &t.nodes[i].value
		}
	}
	return nil
}

// arrayIndex returns the 0-based array index for key
// if key is an integer in the range [1, n].
func arrayIndex(key Value, n int) (int, bool) {
	if key.t != TypeNumber || !(1 <= key.n && key.n <= float64(n)) {
		return 0, false
	}
	i := int(key.n)
	if float64(i) != key.n {
		return 0, false
	}
	return i - 1, true
}

func (t *Table) mainPosition(key Value) int {
	return int(key.hash() & uint32(len(t.nodes)-1))
}

func checkKey(key Value) error {
	switch {
	case key.t == TypeNil:
		return ErrNilKey
	case key.t == TypeNumber && math.IsNaN(key.n):
		return ErrNaNKey
	default:
		return nil
	}
}

// newKey inserts a key that is not present in the table
// and returns a pointer to its value slot.
// If the key's main position is taken by a node that is not in its own main position,
// the colliding node is moved to a free position.
// Otherwise the new key goes into a free position chained from the main position.
func (t *Table) newKey(key Value) (*Value, error) {
	if i, ok := arrayIndex(key, len(t.array)); ok {
		return &t.array[i], nil
	}
	if len(t.nodes) == 0 {
		if err := t.rehash(key); err != nil {
			return nil, err
		}
		return t.newKey(key)
	}
	mp := t.mainPosition(key)
	if !t.nodes[mp].value.IsNil() {
		f := t.freePosition()
		if f < 0 {
			if err := t.rehash(key); err != nil {
				return nil, err
			}
			return t.newKey(key)
		}
		if other := t.mainPosition(t.nodes[mp].key); other != mp {
			for t.nodes[other].next != mp {
				other = t.nodes[other].next
			}
			t.nodes[other].next = f
			t.nodes[f] = t.nodes[mp]
			t.nodes[mp].next = -1
			t.nodes[mp].value = Value{}
		} else {
			t.nodes[f].next = t.nodes[mp].next
			t.nodes[mp].next = f
			mp = f
		}
	}
	t.nodes[mp].key = key
	return &t.nodes[mp].value, nil
}

// freePosition returns the index of a never-used node
// or -1 if there are none.
func (t *Table) freePosition() int {
	for t.lastFree > 0 {
		t.lastFree--
		if t.nodes[t.lastFree].key.IsNil() {
			return t.lastFree
		}
	}
	return -1
}

// rehash resizes the table to hold its current entries and extraKey,
// choosing the largest array size n such that
// more than half of the slots 1 through n would be in use.
func (t *Table) rehash(extraKey Value) error {
	// nums[i] is the number of keys k where 2^(i-1) < k <= 2^i.
	var nums [maxBits + 1]int
	numArrayKeys := t.countArray(&nums)
	totalKeys := numArrayKeys
	for i := range t.nodes {
		n := &t.nodes[i]
		if !n.value.IsNil() {
			if countIntKey(n.key, &nums) {
				numArrayKeys++
			}
			totalKeys++
		}
	}
	if countIntKey(extraKey, &nums) {
		numArrayKeys++
	}
	totalKeys++
	arraySize, arrayKeys := computeSizes(&nums, numArrayKeys)
	return t.Resize(arraySize, totalKeys-arrayKeys)
}

// countArray adds the array part's non-nil entries to nums
// and returns the total.
func (t *Table) countArray(nums *[maxBits + 1]int) int {
	total := 0
	i := 1
	for lg, ttlg := 0, 1; lg <= maxBits; lg, ttlg = lg+1, ttlg*2 {
		lim := ttlg
		if lim > len(t.array) {
			lim = len(t.array)
			if i > lim {
				break
			}
		}
		n := 0
		for ; i <= lim; i++ {
			if !t.array[i-1].IsNil() {
				n++
			}
		}
		nums[lg] += n
		total += n
	}
	return total
}

func countIntKey(key Value, nums *[maxBits + 1]int) bool {
	if key.t != TypeNumber || !(1 <= key.n && key.n <= maxArraySize) {
		return false
	}
	k := int(key.n)
	if float64(k) != key.n {
		return false
	}
	nums[ceilLog2(uint(k))]++
	return true
}

func computeSizes(nums *[maxBits + 1]int, numArrayKeys int) (arraySize, arrayKeys int) {
	a := 0
	for i, twotoi := 0, 1; i <= maxBits && twotoi/2 < numArrayKeys; i, twotoi = i+1, twotoi*2 {
		if nums[i] > 0 {
			a += nums[i]
			if a > twotoi/2 {
				arraySize = twotoi
				arrayKeys = a
			}
		}
		if a == numArrayKeys {
			break
		}
	}
	return arraySize, arrayKeys
}

// ceilLog2 returns ⌈log₂(x)⌉ for x >= 1.
func ceilLog2(x uint) int {
	return bits.Len(x - 1)
}

// Resize changes the sizes of the table's parts.
// The hash part is rounded up to a power of two.
// Entries that no longer fit in the array part move to the hash part.
func (t *Table) Resize(numArray, numNodes int) error {
	if numArray < 0 || numArray > maxArraySize {
		return ErrTableOverflow
	}
	newNodes, err := makeNodes(numNodes)
	if err != nil {
		return err
	}
	t.init()
	oldArray := t.array
	oldNodes := t.nodes
	if numArray != len(oldArray) {
		t.array = make([]Value, numArray)
		copy(t.array, oldArray)
	}
	t.nodes = newNodes
	t.lastFree = len(newNodes)
	for i := numArray; i < len(oldArray); i++ {
		if v := oldArray[i]; !v.IsNil() {
			if err := t.reinsert(IntValue(int64(i)+1), v); err != nil {
				return err
			}
		}
	}
	for i := len(oldNodes) - 1; i >= 0; i-- {
		if n := &oldNodes[i]; !n.value.IsNil() {
			if err := t.reinsert(n.key, n.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Table) reinsert(key, value Value) error {
	p, err := t.newKey(key)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

func makeNodes(n int) ([]node, error) {
	if n < 0 {
		return nil, ErrTableOverflow
	}
	if n == 0 {
		return nil, nil
	}
	lg := ceilLog2(uint(n))
	if lg > maxBits {
		return nil, ErrTableOverflow
	}
	nodes := make([]node, 1<<lg)
	for i := range nodes {
		nodes[i].next = -1
	}
	return nodes, nil
}
