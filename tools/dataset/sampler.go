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
	"fmt"
	"iter"
	"math/rand"

	"github.com/google-research/mixprep/tools/speakers"
)

// Batch is BatchSize mixtures drawn from a split.
type Batch struct {
	// Draws[mixtureIdx][slotIdx] is the item in a slot of a mixture.
	Draws [][]Draw
	// Mixtures[mixtureIdx] is the mixed audio, nil in fake sessions.
	Mixtures []*Mixture
}

// Session is one pass over a split. It owns its working pool and random generator,
// and is not safe for concurrent use.
type Session struct {
	ds      *Dataset
	split   Split
	pool    *Tree
	rng     *rand.Rand
	fake    bool
	emitted int
	err     error
}

// Split returns the split the session draws from.
func (s *Session) Split() Split {
	return s.split
}

// Emitted returns the number of batches returned so far.
func (s *Session) Emitted() int {
	return s.emitted
}

// Remaining returns the number of items left in the working pool.
func (s *Session) Remaining() int {
	return s.pool.TotalItems()
}

// Next returns the next batch. When the working pool can't supply a full batch it returns
// ErrEpochExhausted, and keeps doing so; the mixtures drawn for the incomplete batch are lost.
func (s *Session) Next(ctx context.Context) (*Batch, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit := s.ds.conf.MaxBatches; limit > 0 && s.emitted >= limit {
		s.err = fmt.Errorf("%w: %d batches of %v", ErrBatchLimit, limit, s.split)
		return nil, s.err
	}
	batch := &Batch{Draws: make([][]Draw, s.ds.conf.BatchSize)}
	if !s.fake {
		batch.Mixtures = make([]*Mixture, s.ds.conf.BatchSize)
	}
	for idx := range batch.Draws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		draws, err := s.nextDraws()
		if err != nil {
			s.err = err
			return nil, err
		}
		batch.Draws[idx] = draws
		if s.fake {
			continue
		}
		mixture, err := s.ds.mixer.Mix(ctx, draws)
		if err != nil {
			s.err = err
			return nil, err
		}
		batch.Mixtures[idx] = mixture
	}
	s.emitted++
	return batch, nil
}

// All iterates over the remaining batches of the session. Iteration stops without an
// error at the end of the epoch, other errors are yielded once before stopping.
func (s *Session) All(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for {
			batch, err := s.Next(ctx)
			if IsEndOfEpoch(err) {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// slotSexes assigns a sex to each slot of a mixture.
func (s *Session) slotSexes() []speakers.Sex {
	result := make([]speakers.Sex, s.ds.conf.NbSpeakers)
	sexes := s.ds.sexes
	if !s.ds.conf.NoRandomPicking || len(sexes) == 1 {
		for idx := range result {
			_, result[idx] = pick(s.rng, sexes)
		}
		return result
	}
	for idx := range result {
		if idx%2 == 0 {
			result[idx] = speakers.Male
		} else {
			result[idx] = speakers.Female
		}
	}
	return result
}

// nextDraws draws the items of one mixture and removes them from the working pool.
func (s *Session) nextDraws() ([]Draw, error) {
	slots := s.slotSexes()
	result := make([]Draw, len(slots))
	for _, sex := range s.ds.sexes {
		slotIndices := []int{}
		for idx, slotSex := range slots {
			if slotSex == sex {
				slotIndices = append(slotIndices, idx)
			}
		}
		g := s.pool.groups[sex]
		if len(slotIndices) > len(g.order) {
			return nil, fmt.Errorf("%w: %v needs %d %v speakers, %d left", ErrEpochExhausted, s.split, len(slotIndices), sex, len(g.order))
		}
		chosen := make([]string, len(slotIndices))
		for idx, perm := range s.rng.Perm(len(g.order))[:len(slotIndices)] {
			chosen[idx] = g.order[perm]
		}
		for idx, speaker := range chosen {
			result[slotIndices[idx]] = Draw{
				Item:         g.remove(s.rng, speaker),
				Sex:          sex,
				SpeakerIndex: s.ds.keyToIndex[speaker],
			}
		}
	}
	return result, nil
}
