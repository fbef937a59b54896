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

package nestmap

// Iter is a cursor over the elements of a Map, instantiated by Map.Iter and
// advanced by Next. The cursor is a constant-size value no matter how deep
// the table hierarchy is: all the state needed to climb back out of a
// sub-table is decoded from the sentinel slots on the way.
type Iter[V any] struct {
	m *Map[V]
	// Arena index and slot index of the current element.
	node int
	idx  int
	slot *Slot[V]
}

// Iter instantiates an Iter positioned before the first element. Use it as:
//
//	for it := m.Iter(); it.Next(); {
//		_ = it.Elem()
//	}
//
// The map must not be mutated while an Iter on it is in use.
func (m *Map[V]) Iter() *Iter[V] {
	return &Iter[V]{m: m, node: -1}
}

// Next advances the cursor to the next element, or to the first element on
// the first call. It returns false once every element has been visited.
func (it *Iter[V]) Next() bool {
	m := it.m
	if m == nil || len(m.nodes) == 0 {
		return false
	}

	var ni, i int
	if it.node < 0 {
		ni, i = 0, 0
	} else {
		// Step past the current slot. Its sub-table, if any, is visited
		// after the slot itself: a colliding slot keeps its own element in
		// place above the structure it spawned, and that element must not
		// be skipped.
		s := &m.nodes[it.node].slots[it.idx]
		if s.child.isNode() {
			ni, i = s.child.node(), 0
		} else {
			ni, i = it.node, it.idx+1
		}
	}

	for {
		n := &m.nodes[ni]
		capacity := len(n.slots) - 1
		if i >= capacity {
			// Reached the sentinel: either the top of the hierarchy, or the
			// encoded path back into the parent array, one slot past where
			// this sub-table hangs.
			s := &n.slots[capacity]
			if s.child == childRootStop {
				it.m = nil
				it.slot = nil
				return false
			}
			ni, i = s.child.parent(), int(s.hash)+1
			continue
		}
		s := &n.slots[i]
		if s.hash != 0 {
			it.node, it.idx, it.slot = ni, i, s
			return true
		}
		if s.child.isNode() {
			ni, i = s.child.node(), 0
			continue
		}
		i++
	}
}

// Elem returns a reference to the element the cursor is positioned at. The
// reference stays valid until the map is closed. Elem must only be called
// after a call to Next that returned true.
func (it *Iter[V]) Elem() *V {
	return &it.slot.value
}
