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

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIterEmpty(t *testing.T) {
	m := New[int](16)
	defer m.Close()

	it := m.Iter()
	require.False(t, it.Next())
	require.False(t, it.Next())

	// A map emptied by removal iterates as empty, even though the removals
	// left sub-table structure behind.
	for i := 0; i < 64; i++ {
		m.Put(uint64(i+1), i)
	}
	for i := 0; i < 64; i++ {
		m.Remove(uint64(i + 1))
	}
	require.Greater(t, len(m.nodes), 1)
	require.False(t, m.Iter().Next())
}

func TestIterCompleteness(t *testing.T) {
	// Every live element is visited exactly once; removed elements are not
	// visited. Values mirror keys so visits can be counted per key.
	const count = 2000

	m := New[uint64](16)
	defer m.Close()

	e := make(map[uint64]bool)
	for len(e) < count {
		k := rand.Uint64()
		if k == 0 || e[k] {
			continue
		}
		e[k] = true
		m.Put(k, k)
	}

	removed := make(map[uint64]bool)
	for k := range e {
		if len(removed) == count/4 {
			break
		}
		removed[k] = true
		delete(e, k)
		require.NotNil(t, m.Remove(k))
	}

	seen := make(map[uint64]int)
	for it := m.Iter(); it.Next(); {
		seen[*it.Elem()]++
	}
	require.EqualValues(t, len(e), len(seen))
	for k := range e {
		require.EqualValues(t, 1, seen[k])
	}
	for k := range removed {
		require.Zero(t, seen[k])
	}
}

func TestIterDeepHierarchy(t *testing.T) {
	// Equal hashes chain one element per level; the cursor has to descend
	// through every level and climb all the way back out.
	const count = 100

	m := New[int](16)
	defer m.Close()
	for i := 0; i < count; i++ {
		m.Put(0xcafe, i)
	}

	counts := toCounts(m.toValues())
	require.EqualValues(t, count, len(counts))
	for i := 0; i < count; i++ {
		require.EqualValues(t, 1, counts[i])
	}
}

func TestIterAscendsAcrossSiblings(t *testing.T) {
	// Hang a sub-table off several slots of a 16-slot root: the scan has to
	// descend at each colliding slot, ascend through the sentinel, and
	// resume at the right root index each time.
	m := New[uint64](16)
	defer m.Close()

	e := make(map[uint64]bool)
	for _, slot := range []uint64{1, 5, 11, 15} {
		for level := uint64(0); level < 3; level++ {
			k := slot + (level+1)<<4
			e[k] = true
			m.Put(k, k)
		}
	}

	seen := make(map[uint64]int)
	for it := m.Iter(); it.Next(); {
		seen[*it.Elem()]++
	}
	require.EqualValues(t, len(e), len(seen))
	for k := range e {
		require.EqualValues(t, 1, seen[k])
	}
}

func TestAllEarlyStop(t *testing.T) {
	m := New[int](16)
	defer m.Close()
	for i := 0; i < 10; i++ {
		m.Put(uint64(i+1), i)
	}

	var visited int
	m.All(func(elem *int) bool {
		visited++
		return false
	})
	require.EqualValues(t, 1, visited)
}
