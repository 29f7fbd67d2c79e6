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
	"slices"

	"github.com/google-research/mixprep/tools/speakers"
)

// sexGroup holds the remaining items of one sex, per speaker.
// order lists exactly the speakers with a non empty item list, in the order they were first seen.
type sexGroup struct {
	order []string
	items map[string][]Item
	total int
}

// Tree indexes the remaining items of a split by sex and then by speaker.
type Tree struct {
	sexes  SexSet
	groups map[speakers.Sex]*sexGroup
}

func newTree(sexes SexSet) *Tree {
	t := &Tree{
		sexes:  sexes,
		groups: map[speakers.Sex]*sexGroup{},
	}
	for _, sex := range sexes {
		t.groups[sex] = &sexGroup{items: map[string][]Item{}}
	}
	return t
}

// buildTree groups items by the sex of their speaker, then by speaker, keeping encounter
// order. Items of speakers without a sex in sexes are skipped.
func buildTree(items []Item, sexOf map[string]speakers.Sex, sexes SexSet) *Tree {
	t := newTree(sexes)
	for _, item := range items {
		g, found := t.groups[sexOf[item.Speaker]]
		if !found {
			continue
		}
		if _, found := g.items[item.Speaker]; !found {
			g.order = append(g.order, item.Speaker)
		}
		g.items[item.Speaker] = append(g.items[item.Speaker], item)
		g.total++
	}
	return t
}

// Total returns the number of items of a sex.
func (t *Tree) Total(sex speakers.Sex) int {
	if g, found := t.groups[sex]; found {
		return g.total
	}
	return 0
}

// TotalItems returns the number of items of all sexes.
func (t *Tree) TotalItems() int {
	sum := 0
	for _, g := range t.groups {
		sum += g.total
	}
	return sum
}

// Speakers returns the speakers of a sex that have items left, in encounter order.
func (t *Tree) Speakers(sex speakers.Sex) []string {
	if g, found := t.groups[sex]; found {
		return append([]string(nil), g.order...)
	}
	return nil
}

// Items returns a copy of the items left for a speaker of a sex.
func (t *Tree) Items(sex speakers.Sex, speaker string) []Item {
	if g, found := t.groups[sex]; found {
		return append([]Item(nil), g.items[speaker]...)
	}
	return nil
}

// Clone returns a deep copy sharing nothing mutable with t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		sexes:  t.sexes,
		groups: make(map[speakers.Sex]*sexGroup, len(t.groups)),
	}
	for sex, g := range t.groups {
		cg := &sexGroup{
			order: append([]string(nil), g.order...),
			items: make(map[string][]Item, len(g.items)),
			total: g.total,
		}
		for key, items := range g.items {
			cg.items[key] = append([]Item(nil), items...)
		}
		c.groups[sex] = cg
	}
	return c
}

// remove takes a uniformly random item of speaker out of the group, dropping the
// speaker once it has nothing left.
func (g *sexGroup) remove(rng *rand.Rand, speaker string) Item {
	items := g.items[speaker]
	idx, item := pick(rng, items)
	items = slices.Delete(items, idx, idx+1)
	g.total--
	if len(items) == 0 {
		delete(g.items, speaker)
		g.order = slices.DeleteFunc(g.order, func(k string) bool { return k == speaker })
	} else {
		g.items[speaker] = items
	}
	return item
}

// balance removes random items of the majority sex until both sexes have the same
// number of items, and returns the majority sex and the number of items removed.
//
// Speakers are visited round robin over the live speaker list, recomputed before every
// removal: the i:th removal takes from order[i % len(order)] of the speakers still
// holding items, so a removal can never land on an emptied speaker.
func (t *Tree) balance(rng *rand.Rand) (speakers.Sex, int) {
	if len(t.sexes) < 2 {
		return "", 0
	}
	maj, minority := t.sexes[0], t.sexes[1]
	if t.Total(maj) < t.Total(minority) {
		maj, minority = minority, maj
	}
	g := t.groups[maj]
	d := g.total - t.Total(minority)
	for i := 0; i < d; i++ {
		g.remove(rng, g.order[i%len(g.order)])
	}
	return maj, d
}
