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

import "math/bits"

// FNV-1a parameters. See
// http://www.isthe.com/chongo/tech/comp/fnv/index.html.
const (
	fnvPrime32 uint32 = 0x01000193
	fnvBasis32 uint32 = 0x811c9dc5
	fnvPrime64 uint64 = 0x00000100000001b3
	fnvBasis64 uint64 = 0xcbf29ce484222325
)

var (
	fnvPrime128 = Uint128{Lo: 0x000000000000013b, Hi: 0x0000000001000000}
	fnvBasis128 = Uint128{Lo: 0x62b821756295c58d, Hi: 0x6c62272e07bb0142}
)

// Uint128 is a 128-bit unsigned integer in a low-64/high-64 split
// representation, as produced by Hash128.
type Uint128 struct {
	Lo, Hi uint64
}

// mul returns u*v mod 2^128.
func (u Uint128) mul(v Uint128) Uint128 {
	hi, lo := bits.Mul64(u.Lo, v.Lo)
	hi += u.Hi*v.Lo + u.Lo*v.Hi
	return Uint128{Lo: lo, Hi: hi}
}

// Hash32 returns the 32-bit FNV-1a hash of data.
func Hash32(data []byte) uint32 {
	hash := fnvBasis32
	for _, b := range data {
		hash ^= uint32(b)
		hash *= fnvPrime32
	}
	return hash
}

// Hash64 returns the 64-bit FNV-1a hash of data. This is the hash HashMap
// keys with. Empty input hashes to the offset basis, so a HashMap key never
// produces the zero hash Map reserves for empty slots.
func Hash64(data []byte) uint64 {
	hash := fnvBasis64
	for _, b := range data {
		hash ^= uint64(b)
		hash *= fnvPrime64
	}
	return hash
}

// Hash128 returns the 128-bit FNV-1a hash of data.
func Hash128(data []byte) Uint128 {
	hash := fnvBasis128
	for _, b := range data {
		hash.Lo ^= uint64(b)
		hash = hash.mul(fnvPrime128)
	}
	return hash
}
