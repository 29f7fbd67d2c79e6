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

	"gonum.org/v1/gonum/floats"
)

// Mixture is the sum of the chunks of several speakers.
type Mixture struct {
	// Mix is the sample wise sum of Components.
	Mix []float64
	// Components[slotIdx] is the unmixed chunk of one speaker.
	Components [][]float64
	// SpeakerIndices[slotIdx] is the speaker index of Components[slotIdx].
	SpeakerIndices []int
	// Items[slotIdx] is the item Components[slotIdx] was read from.
	Items []Item
}

// Mixer reads chunks from a store and mixes them.
type Mixer struct {
	store     Store
	chunkSize int
}

// NewMixer returns a mixer of chunkSize sample chunks from store.
func NewMixer(store Store, chunkSize int) *Mixer {
	return &Mixer{store: store, chunkSize: chunkSize}
}

// Mix reads the chunk of every draw and sums them.
func (m *Mixer) Mix(ctx context.Context, draws []Draw) (*Mixture, error) {
	result := &Mixture{
		Mix:            make([]float64, m.chunkSize),
		Components:     make([][]float64, len(draws)),
		SpeakerIndices: make([]int, len(draws)),
		Items:          make([]Item, len(draws)),
	}
	for idx, draw := range draws {
		samples, err := m.store.ReadSlice(ctx, draw.Speaker, draw.File, draw.Chunk*m.chunkSize, m.chunkSize)
		if err != nil {
			return nil, &StoreAccessError{Item: draw.Item, Err: err}
		}
		component := make([]float64, len(samples))
		for sampleIdx, v := range samples {
			component[sampleIdx] = float64(v)
		}
		if len(component) != m.chunkSize {
			return nil, &StoreAccessError{Item: draw.Item, Err: errShortRead(len(component), m.chunkSize)}
		}
		floats.Add(result.Mix, component)
		result.Components[idx] = component
		result.SpeakerIndices[idx] = draw.SpeakerIndex
		result.Items[idx] = draw.Item
	}
	return result, nil
}
