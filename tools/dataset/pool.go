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
	"context"
	"math"
	"math/rand"
)

const ratioTolerance = 1e-9

// DefaultRatio is the default train/valid/test ratio.
var DefaultRatio = []float64{0.90, 0.05, 0.05}

func validateRatio(ratio []float64) error {
	if len(ratio) != 3 {
		return configErrorf("ratio", "%v must have exactly 3 values (train, valid, test)", ratio)
	}
	sum := 0.0
	for _, r := range ratio {
		if r < 0 || math.IsNaN(r) {
			return configErrorf("ratio", "%v contains a negative or NaN value", ratio)
		}
		sum += r
	}
	if sum > 1+ratioTolerance {
		return configErrorf("ratio", "%v sums to %v, more than 1", ratio, sum)
	}
	return nil
}

// buildPool lists one item for every whole chunk of every file of the speakers, in the order
// of keys and then of file names. It also returns the keys, in order, of the speakers with at
// least one stored file.
func buildPool(ctx context.Context, store Store, keys []string, chunkSize int) ([]Item, []string, error) {
	items := []Item{}
	stored := []string{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		files, err := store.Files(ctx, key)
		if err != nil {
			return nil, nil, &StoreAccessError{Item: Item{Speaker: key}, Err: err}
		}
		if len(files) > 0 {
			stored = append(stored, key)
		}
		for _, file := range files {
			chunks := file.Length / chunkSize
			for chunk := 0; chunk < chunks; chunk++ {
				items = append(items, Item{Speaker: key, File: file.Name, Chunk: chunk})
			}
		}
	}
	return items, stored, nil
}

// shufflePool shuffles items in place.
func shufflePool(rng *rand.Rand, items []Item) {
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// partition cuts items at floor(L*r0) and floor(L*(r0+r1)). Test gets everything after the
// second cut, so the splits always cover the pool.
func partition(items []Item, ratio []float64) [3][]Item {
	l := float64(len(items))
	first := int(l * ratio[0])
	second := int(l * (ratio[0] + ratio[1]))
	if second > len(items) {
		second = len(items)
	}
	if first > second {
		first = second
	}
	return [3][]Item{
		items[:first:first],
		items[first:second:second],
		items[second:],
	}
}
