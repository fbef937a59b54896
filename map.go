// Copyright 2025 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package nestmap implements a hash-keyed map that resolves collisions by
// recursively spawning smaller nested tables rather than by chaining or
// probing. The design follows the nested-table map in libGPC
// (https://github.com/PrinssiFiestas/libGPC).
//
// # Nested tables
//
// A table level is a bucket array of 2^s slots. A slot holds a 64-bit hash (a
// hash of zero means the slot is empty), an element, and a reference to an
// optional sub-table. Insertion indexes a level with the low s bits of the
// hash. If the slot is empty the element is stored there and insertion is
// done. If the slot is occupied, the hash is rotated right by s bits (so the
// bits already consumed at this level stop steering placement below) and
// insertion descends into the slot's sub-table, spawning it first if
// necessary. Each sub-table is a quarter the capacity of its parent, down to
// a floor of 16 slots, so the hierarchy both shrinks geometrically and stays
// shallow for any realistic hash distribution.
//
// The occupant of a colliding slot is never moved: collisions grow structure
// below a slot instead of rehashing or relocating elements. References
// returned by Put, Get, and Remove therefore remain valid until the table is
// closed, no matter what is inserted afterwards. The cost of this stability
// is that inserting two elements with equal hashes stores both; the caller
// is expected to ensure hash equality coincides with key equality (see
// HashMap for a byte-key front end that hashes for you).
//
// # Iteration without a stack
//
// Every bucket array carries one extra trailing slot, the sentinel. The
// root's sentinel is a terminator; a sub-table's sentinel encodes the
// identity of the parent bucket array, the parent's size shift, and the slot
// index in the parent at which the sub-table hangs. The original C
// implementation smuggles this into the unused low alignment bits of the
// parent pointer; here the bucket arrays live in an index-addressed arena
// and a childRef packs the same fields into the low tag bits of an arena
// index. An iterator descends by following child references and returns
// upward by decoding the sentinel of the array it just exhausted, so a
// cursor is a constant-size value regardless of hierarchy depth.
//
// # Memory
//
// Each bucket array is a single allocation obtained from a pluggable
// Allocator captured at construction. Removal only clears a slot's hash;
// sub-tables are freed exclusively by Close, which tears the hierarchy down
// depth-first and releases every allocation exactly once.
//
// A Map is NOT goroutine-safe: any number of concurrent readers are fine
// only while no writer is active.
package nestmap

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	debug      = false
	invariants = false

	minShift = 4
	maxShift = 14

	minCapacity     = 1 << minShift // 16
	maxCapacity     = 1 << maxShift // 0x4000
	defaultCapacity = 256
)

// childRef is the "children" field of a slot. The low 4 bits are a tag,
// mirroring the alignment bits the C implementation reuses in its bucket
// array pointers, and the remaining bits hold a bucket array's arena index
// biased by one:
//
//	empty:           0
//	sub-table:       (arena+1)<<4            (low nibble zero)
//	sentinel:        (parent+1)<<4 | shift-1 (low nibble in [3,13])
//	root terminator: 0xf
//
// The sentinel's low nibble can never be zero or 0xf because a size shift is
// always in [4,14], which keeps the four cases disjoint.
type childRef uint64

const (
	childEmpty    childRef = 0
	childRootStop childRef = 0xf
)

func childNode(arena int) childRef { return childRef(arena+1) << 4 }

func childSentinel(parent int, parentShift uint32) childRef {
	return childRef(parent+1)<<4 | childRef(parentShift-1)
}

func (c childRef) isNode() bool { return c != childEmpty && c&0xf == 0 }

func (c childRef) node() int { return int(c>>4) - 1 }

func (c childRef) parent() int { return int(c>>4) - 1 }

func (c childRef) parentShift() uint32 { return uint32(c&0xf) + 1 }

// Slot is one cell of a bucket array: a hash, the element it owns, and a
// reference to the sub-table hanging below it, if any. A hash of zero marks
// the slot empty; zero is reserved and never a valid element hash.
type Slot[V any] struct {
	hash  uint64
	child childRef
	value V
}

// node is one bucket array in the arena. slots is capacity+1 in length;
// slots[capacity] is the sentinel. Neither field changes after creation.
type node[V any] struct {
	slots []Slot[V]
	shift uint32
}

func (n *node[V]) mask() uint64 { return 1<<n.shift - 1 }

// Map is a map from 64-bit hashes to elements of type V with Put, Get,
// Remove, Close, and cursor iteration. Keys never reach the Map: callers
// hash them first, or use HashMap which does.
//
// A Map is NOT goroutine-safe.
type Map[V any] struct {
	// The allocator used for the root bucket array and every sub-table the
	// map ever spawns.
	allocator Allocator[V]
	// Optional per-element destructor, run by Remove and by Close.
	destructor func(*V)
	// The arena of bucket arrays; nodes[0] is the root. Sub-tables are
	// appended and never removed, so the arena index packed into a childRef
	// is stable for the life of the map.
	nodes []node[V]
	// The number of live elements across all levels.
	used int
}

// New constructs a Map with the specified initial capacity for the root
// bucket array. A capacity of 0 means the default of 256. Capacities are
// clamped into [16, 16384] and rounded so that the size shift is even,
// which keeps the quartering at lower levels exact. The zero value for a
// Map is not usable.
func New[V any](initialCapacity int, options ...option[V]) *Map[V] {
	m := &Map[V]{allocator: defaultAllocator[V]{}}
	for _, op := range options {
		op.apply(m)
	}

	shift := normalizeShift(initialCapacity)
	slots := m.allocator.AllocSlots((1 << shift) + 1)
	slots[1<<shift].child = childRootStop
	m.nodes = []node[V]{{slots: slots, shift: shift}}

	m.checkInvariants()
	return m
}

// normalizeShift clamps a requested capacity into [minCapacity, maxCapacity]
// and returns the position of its highest set bit, rounded up to an even
// number.
func normalizeShift(capacity int) uint32 {
	switch {
	case capacity == 0:
		capacity = defaultCapacity
	case capacity < minCapacity:
		capacity = minCapacity
	case capacity > maxCapacity:
		capacity = maxCapacity
	}
	s := uint32(bits.Len(uint(capacity)) - 1)
	return (s + 1) &^ 1
}

// Put stores value under hash and returns a reference to the stored element.
// The reference stays valid until Close, unaffected by later insertions.
// Equal hashes always collide and store both elements; Put never overwrites.
// A hash of zero is reserved for empty slots and panics.
func (m *Map[V]) Put(hash uint64, value V) *V {
	if hash == 0 {
		panic("nestmap: Put with reserved zero hash")
	}

	ni := 0
	for {
		n := &m.nodes[ni]
		i := hash & n.mask()
		s := &n.slots[i]
		if debug {
			fmt.Printf("put(%016x): node=%d index=%d occupied=%t\n", hash, ni, i, s.hash != 0)
		}
		if s.hash == 0 {
			// An empty slot, possibly one cleared by Remove; any sub-table
			// already hanging off it is kept.
			s.hash = hash
			s.value = value
			m.used++
			m.checkInvariants()
			return &s.value
		}

		hash = bits.RotateLeft64(hash, -int(n.shift))
		if s.child.isNode() {
			ni = s.child.node()
			continue
		}

		// First collision at this slot: spawn a sub-table and place the new
		// element in it. The occupant stays where it is.
		ci := m.spawn(ni, i)
		cn := &m.nodes[ci]
		cs := &cn.slots[hash&cn.mask()]
		cs.hash = hash
		cs.value = value
		m.nodes[ni].slots[i].child = childNode(ci)
		m.used++
		m.checkInvariants()
		return &cs.value
	}
}

// spawn allocates the sub-table hanging off slot parentIdx of the bucket
// array at arena index parent. The new array's sentinel records the way
// back: the parent's arena index and shift in the child field and the slot
// index in the hash field. Iteration decodes these to return upward without
// a stack.
func (m *Map[V]) spawn(parent int, parentIdx uint64) int {
	shift := m.nodes[parent].shift - 2
	if shift < minShift {
		shift = minShift
	}
	capacity := 1 << shift
	slots := m.allocator.AllocSlots(capacity + 1)
	slots[capacity] = Slot[V]{hash: parentIdx, child: childSentinel(parent, m.nodes[parent].shift)}
	m.nodes = append(m.nodes, node[V]{slots: slots, shift: shift})
	if debug {
		fmt.Printf("spawn: node=%d shift=%d parent=%d parent-index=%d\n",
			len(m.nodes)-1, shift, parent, parentIdx)
	}
	return len(m.nodes) - 1
}

// Get returns a reference to the element stored under hash, or nil if no
// element is present. A hash of zero panics.
func (m *Map[V]) Get(hash uint64) *V {
	if hash == 0 {
		panic("nestmap: Get with reserved zero hash")
	}

	ni := 0
	for {
		n := &m.nodes[ni]
		s := &n.slots[hash&n.mask()]
		if s.hash == hash {
			return &s.value
		}
		if !s.child.isNode() {
			return nil
		}
		hash = bits.RotateLeft64(hash, -int(n.shift))
		ni = s.child.node()
	}
}

// Remove clears the element stored under hash, running the configured
// destructor on it, and returns a reference to the element's prior storage,
// or nil if no element is present. The storage itself is not cleared and
// stays readable until the slot is reused by a later Put. Remove never
// frees sub-tables; only Close does. A hash of zero panics.
func (m *Map[V]) Remove(hash uint64) *V {
	if hash == 0 {
		panic("nestmap: Remove with reserved zero hash")
	}

	ni := 0
	for {
		n := &m.nodes[ni]
		i := hash & n.mask()
		s := &n.slots[i]
		if s.hash == hash {
			if debug {
				fmt.Printf("remove(%016x): node=%d index=%d\n", hash, ni, i)
			}
			s.hash = 0
			m.used--
			if m.destructor != nil {
				m.destructor(&s.value)
			}
			m.checkInvariants()
			return &s.value
		}
		if !s.child.isNode() {
			return nil
		}
		hash = bits.RotateLeft64(hash, -int(n.shift))
		ni = s.child.node()
	}
}

// Close closes the map, running the configured destructor on every live
// element and releasing every bucket array back to the configured allocator.
// It is unnecessary to close a map using the default allocator. It is
// invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[V]) Close() {
	if m.allocator == nil {
		return
	}
	if len(m.nodes) > 0 {
		m.closeNode(0)
	}
	m.nodes = nil
	m.used = 0
	m.destructor = nil
	m.allocator = nil
}

// closeNode tears down the branch rooted at arena index ni depth-first.
// Sub-tables are freed before their parent, the root last. Each bucket
// array reaches FreeSlots exactly once: slots cleared by Remove have a zero
// hash and are skipped by the destructor walk.
func (m *Map[V]) closeNode(ni int) {
	n := &m.nodes[ni]
	capacity := len(n.slots) - 1
	for i := 0; i < capacity; i++ {
		s := &n.slots[i]
		if s.hash != 0 && m.destructor != nil {
			m.destructor(&s.value)
		}
		if s.child.isNode() {
			m.closeNode(s.child.node())
		}
	}
	m.allocator.FreeSlots(n.slots)
	n.slots = nil
}

// Len returns the number of elements in the map.
func (m *Map[V]) Len() int {
	return m.used
}

// All calls yield sequentially for each element in the map. If yield
// returns false, All stops the iteration. The map must not be mutated
// during iteration.
func (m *Map[V]) All(yield func(elem *V) bool) {
	for it := m.Iter(); it.Next(); {
		if !yield(it.Elem()) {
			return
		}
	}
}

// capacity returns the total slot capacity across all levels.
func (m *Map[V]) capacity() int {
	var capacity int
	for i := range m.nodes {
		capacity += len(m.nodes[i].slots) - 1
	}
	return capacity
}

func (m *Map[V]) checkInvariants() {
	if invariants {
		live := 0
		for ni := range m.nodes {
			n := &m.nodes[ni]
			capacity := len(n.slots) - 1
			if capacity != 1<<n.shift {
				panic(fmt.Sprintf("invariant failed: node %d has %d slots for shift %d\n%s",
					ni, capacity, n.shift, m.debugString()))
			}
			sentinel := &n.slots[capacity]
			if ni == 0 {
				if sentinel.child != childRootStop {
					panic(fmt.Sprintf("invariant failed: root sentinel is %#x, not the terminator\n%s",
						uint64(sentinel.child), m.debugString()))
				}
			} else {
				parent := sentinel.child.parent()
				if parent < 0 || parent >= len(m.nodes) {
					panic(fmt.Sprintf("invariant failed: node %d sentinel parent %d out of range\n%s",
						ni, parent, m.debugString()))
				}
				pn := &m.nodes[parent]
				if sentinel.child.parentShift() != pn.shift {
					panic(fmt.Sprintf("invariant failed: node %d sentinel shift %d, parent shift %d\n%s",
						ni, sentinel.child.parentShift(), pn.shift, m.debugString()))
				}
				if sentinel.hash >= uint64(len(pn.slots)-1) {
					panic(fmt.Sprintf("invariant failed: node %d sentinel index %d out of range\n%s",
						ni, sentinel.hash, m.debugString()))
				}
				if pn.slots[sentinel.hash].child != childNode(ni) {
					panic(fmt.Sprintf("invariant failed: parent slot %d of node %d does not reference it\n%s",
						sentinel.hash, ni, m.debugString()))
				}
			}
			for i := 0; i < capacity; i++ {
				if n.slots[i].hash != 0 {
					live++
				}
			}
		}
		if live != m.used {
			panic(fmt.Sprintf("invariant failed: found %d live slots, but used count is %d\n%s",
				live, m.used, m.debugString()))
		}
	}
}

func (m *Map[V]) debugString() string {
	var buf strings.Builder
	for ni := range m.nodes {
		n := &m.nodes[ni]
		capacity := len(n.slots) - 1
		fmt.Fprintf(&buf, "node=%d shift=%d capacity=%d\n", ni, n.shift, capacity)
		for i := 0; i <= capacity; i++ {
			s := &n.slots[i]
			switch {
			case i == capacity && s.child == childRootStop:
				fmt.Fprintf(&buf, "  %4d: terminator\n", i)
			case i == capacity:
				fmt.Fprintf(&buf, "  %4d: sentinel parent=%d parent-shift=%d parent-index=%d\n",
					i, s.child.parent(), s.child.parentShift(), s.hash)
			case s.hash == 0 && s.child == childEmpty:
				fmt.Fprintf(&buf, "  %4d: empty\n", i)
			case s.child.isNode():
				fmt.Fprintf(&buf, "  %4d: hash=%016x child=%d\n", i, s.hash, s.child.node())
			default:
				fmt.Fprintf(&buf, "  %4d: hash=%016x\n", i, s.hash)
			}
		}
	}
	return buf.String()
}
