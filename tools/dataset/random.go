/*
 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package dataset

import (
	"math/rand"
)

// Seed produces identically seeded, independently owned random generators.
//
// Nothing in this package touches the global math/rand state. Every consumer of
// randomness (dataset construction, each Session) owns the *rand.Rand returned by
// Rand, so the draws made under a seed don't depend on any other random activity
// in the process, and sessions can run in parallel.
type Seed int64

// Rand returns a new generator in the initial state for the seed.
func (s Seed) Rand() *rand.Rand {
	return rand.New(rand.NewSource(int64(s)))
}

// pick returns a uniformly random element of a non empty slice.
func pick[T any](rng *rand.Rand, from []T) (int, T) {
	idx := rng.Intn(len(from))
	return idx, from[idx]
}
