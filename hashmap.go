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

// HashMap is a Map keyed by byte strings. It hashes each key with Hash64
// and forwards to an underlying Map, so two keys with equal hashes are
// treated as equal; with 64-bit FNV-1a that is vanishingly unlikely for
// non-adversarial keys. Callers that precompute hashes should use Map
// directly.
//
// A HashMap is NOT goroutine-safe.
type HashMap[V any] struct {
	m *Map[V]
}

// NewHash constructs a HashMap. Capacity handling and options are those of
// New.
func NewHash[V any](initialCapacity int, options ...option[V]) *HashMap[V] {
	return &HashMap[V]{m: New(initialCapacity, options...)}
}

// Put stores value under key and returns a reference to the stored element.
func (h *HashMap[V]) Put(key []byte, value V) *V {
	return h.m.Put(Hash64(key), value)
}

// Get returns a reference to the element stored under key, or nil if the
// key is not present.
func (h *HashMap[V]) Get(key []byte) *V {
	return h.m.Get(Hash64(key))
}

// Remove clears the element stored under key and returns a reference to its
// prior storage, or nil if the key is not present.
func (h *HashMap[V]) Remove(key []byte) *V {
	return h.m.Remove(Hash64(key))
}

// Len returns the number of elements in the map.
func (h *HashMap[V]) Len() int {
	return h.m.Len()
}

// Close closes the map. See Map.Close.
func (h *HashMap[V]) Close() {
	h.m.Close()
}

// Iter instantiates a cursor over the elements. See Map.Iter.
func (h *HashMap[V]) Iter() *Iter[V] {
	return h.m.Iter()
}

// All calls yield sequentially for each element in the map. If yield
// returns false, All stops the iteration.
func (h *HashMap[V]) All(yield func(elem *V) bool) {
	h.m.All(yield)
}
