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
	"fmt"

	"github.com/google-research/mixprep/tools/speakers"
)

// Split identifies one of the partitions of the item pool.
type Split int

const (
	// Train is the training split.
	Train Split = iota
	// Valid is the validation split.
	Valid
	// Test is the test split.
	Test
)

// Splits lists all splits in pool order.
var Splits = []Split{Train, Valid, Test}

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

// Valid returns whether s is one of Train, Valid or Test.
func (s Split) Valid() bool {
	return s >= Train && s <= Test
}

// ParseSplit returns the split named by its String form.
func ParseSplit(name string) (Split, error) {
	for _, s := range Splits {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown split %q", name)
}

// Item addresses one chunk of one recording of one speaker.
type Item struct {
	Speaker string
	File    string
	Chunk   int
}

func (i Item) String() string {
	return fmt.Sprintf("%v/%v/%d", i.Speaker, i.File, i.Chunk)
}

// Draw is an item picked for one slot of a mixture.
type Draw struct {
	Item
	// Sex is the sex the slot was assigned.
	Sex speakers.Sex
	// SpeakerIndex is the dataset wide index of the item's speaker.
	SpeakerIndex int
}

// SexSet is the ordered set of sexes a dataset draws from.
type SexSet []speakers.Sex

// ParseSexes accepts exactly ["M","F"], ["F","M"], ["M"] or ["F"].
func ParseSexes(tags []string) (SexSet, error) {
	switch len(tags) {
	case 1:
		if s := speakers.Sex(tags[0]); s.Valid() {
			return SexSet{s}, nil
		}
	case 2:
		a, b := speakers.Sex(tags[0]), speakers.Sex(tags[1])
		if a.Valid() && b.Valid() && a != b {
			return SexSet{a, b}, nil
		}
	}
	return nil, configErrorf("sex", `%q must be ["M","F"] | ["F","M"] | ["M"] | ["F"]`, tags)
}

// Contains returns whether sex is in the set.
func (s SexSet) Contains(sex speakers.Sex) bool {
	for _, c := range s {
		if c == sex {
			return true
		}
	}
	return false
}
