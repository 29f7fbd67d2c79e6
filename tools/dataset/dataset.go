/* Package dataset turns a pool of per speaker audio chunks into repeatable, sex balanced
 * batches of speaker mixtures for source separation training.
 *
 * A Dataset is built once: every whole chunk of every recording becomes an Item, the items
 * are shuffled under a seed and cut into train, valid and test splits, and each split is
 * grouped by sex and speaker and balanced so both sexes have as many items. Sessions then
 * consume a private copy of a split, one mixture at a time, until the split can't supply
 * another full batch.
 *
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

	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/speakers"
)

// Store is the audio backing a dataset. *audiostore.Store implements it.
type Store interface {
	// Files lists the recordings of a speaker with their lengths in samples.
	Files(ctx context.Context, speaker string) ([]audiostore.File, error)
	// ReadSlice returns length samples of a recording starting at offset.
	ReadSlice(ctx context.Context, speaker, file string, offset, length int) ([]float32, error)
}

// Config defines a dataset.
type Config struct {
	// Seed seeds the shuffle, the balancing and every Session.
	Seed int64
	// ChunkSize is the number of samples in an item.
	ChunkSize int
	// BatchSize is the number of mixtures in a batch.
	BatchSize int
	// NbSpeakers is the number of speakers in a mixture.
	NbSpeakers int
	// Sex is the set of sexes to draw from: ["M","F"], ["F","M"], ["M"] or ["F"].
	Sex []string
	// NoRandomPicking makes two sex datasets alternate M,F,M,... between the slots
	// of a mixture instead of drawing the sex of each slot.
	NoRandomPicking bool
	// Ratio is the train, valid and test share of the pool.
	Ratio []float64
	// MaxBatches bounds the number of batches of a Session, zero means unbounded.
	MaxBatches int
}

// DefaultConfig returns the configuration used unless told otherwise.
func DefaultConfig() Config {
	return Config{
		Seed:       42,
		ChunkSize:  20480,
		BatchSize:  1,
		NbSpeakers: 2,
		Sex:        []string{string(speakers.Male), string(speakers.Female)},
		Ratio:      append([]float64(nil), DefaultRatio...),
	}
}

func (c *Config) validate() (SexSet, error) {
	sexes, err := ParseSexes(c.Sex)
	if err != nil {
		return nil, err
	}
	if c.ChunkSize <= 0 {
		return nil, configErrorf("chunk_size", "%d is not positive", c.ChunkSize)
	}
	if c.BatchSize <= 0 {
		return nil, configErrorf("batch_size", "%d is not positive", c.BatchSize)
	}
	if c.NbSpeakers <= 0 {
		return nil, configErrorf("nb_speakers", "%d is not positive", c.NbSpeakers)
	}
	if c.MaxBatches < 0 {
		return nil, configErrorf("max_batches", "%d is negative", c.MaxBatches)
	}
	if err := validateRatio(c.Ratio); err != nil {
		return nil, err
	}
	return sexes, nil
}

// Dataset holds the balanced splits of a pool of items. It is immutable after New and
// safe for concurrent use by several Sessions.
type Dataset struct {
	conf   Config
	sexes  SexSet
	store  Store
	logger logrus.FieldLogger
	mixer  *Mixer

	keyToIndex map[string]int
	sexOf      map[string]speakers.Sex
	keys       []string

	poolSize int
	splits   [3]*Tree
	removed  [3]int
}

// New builds the dataset of the speakers in index whose sex is in conf.Sex.
// Speakers get indices in the order M speakers, then F speakers, sorted by key within a sex.
//
// All configuration problems, including an NbSpeakers that the available speakers can
// never satisfy under the picking policy, are reported as *ConfigurationError.
func New(ctx context.Context, conf Config, index *speakers.Index, store Store, logger logrus.FieldLogger) (*Dataset, error) {
	sexes, err := conf.validate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Dataset{
		conf:       conf,
		sexes:      sexes,
		store:      store,
		logger:     logger,
		mixer:      NewMixer(store, conf.ChunkSize),
		keyToIndex: map[string]int{},
		sexOf:      map[string]speakers.Sex{},
	}
	candidates := []string{}
	sexOf := map[string]speakers.Sex{}
	for _, sex := range []speakers.Sex{speakers.Male, speakers.Female} {
		if !sexes.Contains(sex) {
			continue
		}
		for _, key := range index.KeysForSex(sex) {
			candidates = append(candidates, key)
			sexOf[key] = sex
		}
	}

	pool, stored, err := buildPool(ctx, store, candidates, conf.ChunkSize)
	if err != nil {
		return nil, err
	}
	// Speakers without audio get no index.
	for _, key := range stored {
		d.keyToIndex[key] = len(d.keys)
		d.sexOf[key] = sexOf[key]
		d.keys = append(d.keys, key)
	}
	if skipped := len(candidates) - len(stored); skipped > 0 {
		logger.WithField("speakers", skipped).Warn("Skipped speakers without stored audio")
	}
	d.poolSize = len(pool)
	if err := d.checkFeasible(pool); err != nil {
		return nil, err
	}

	rng := Seed(conf.Seed).Rand()
	shufflePool(rng, pool)
	for idx, items := range partition(pool, conf.Ratio) {
		split := Split(idx)
		tree := buildTree(items, d.sexOf, sexes)
		maj, removed := tree.balance(rng)
		d.splits[split] = tree
		d.removed[split] = removed
		fields := logrus.Fields{
			"split":   split,
			"items":   tree.TotalItems(),
			"removed": removed,
		}
		if removed > 0 {
			fields["sex"] = maj
		}
		logger.WithFields(fields).Info("Built split")
	}
	return d, nil
}

// slotsPerSex returns the largest number of slots of one mixture a sex can be assigned.
func (d *Dataset) slotsPerSex(sex speakers.Sex) int {
	if d.conf.NoRandomPicking && len(d.sexes) > 1 {
		if sex == speakers.Male {
			return (d.conf.NbSpeakers + 1) / 2
		}
		return d.conf.NbSpeakers / 2
	}
	return d.conf.NbSpeakers
}

// checkFeasible makes sure every sex has enough speakers with audio to fill the slots it
// may be assigned, so sessions can't be empty by construction.
func (d *Dataset) checkFeasible(pool []Item) error {
	withItems := map[speakers.Sex]map[string]bool{}
	for _, item := range pool {
		sex := d.sexOf[item.Speaker]
		if withItems[sex] == nil {
			withItems[sex] = map[string]bool{}
		}
		withItems[sex][item.Speaker] = true
	}
	for _, sex := range d.sexes {
		if need, have := d.slotsPerSex(sex), len(withItems[sex]); need > have {
			return configErrorf("nb_speakers", "%d speakers per mixture may need %d %v speakers, but only %d have audio of at least %d samples",
				d.conf.NbSpeakers, need, sex, have, d.conf.ChunkSize)
		}
	}
	return nil
}

// Config returns the configuration of the dataset.
func (d *Dataset) Config() Config {
	return d.conf
}

// Sexes returns the sexes the dataset draws from.
func (d *Dataset) Sexes() SexSet {
	return d.sexes
}

// TotalSpeakers returns the number of indexed speakers.
func (d *Dataset) TotalSpeakers() int {
	return len(d.keys)
}

// SpeakerIndex returns the index of a speaker.
func (d *Dataset) SpeakerIndex(key string) (int, bool) {
	idx, found := d.keyToIndex[key]
	return idx, found
}

// SpeakerKeys returns the speaker keys in index order.
func (d *Dataset) SpeakerKeys() []string {
	return append([]string(nil), d.keys...)
}

// PoolSize returns the number of items before splitting and balancing.
func (d *Dataset) PoolSize() int {
	return d.poolSize
}

// Removed returns the number of items balancing dropped from a split.
func (d *Dataset) Removed(split Split) int {
	return d.removed[split]
}

// Tree returns a copy of the balanced tree of a split.
func (d *Dataset) Tree(split Split) *Tree {
	return d.splits[split].Clone()
}

// Mixer returns the mixer used by non fake sessions.
func (d *Dataset) Mixer() *Mixer {
	return d.mixer
}

// NewSession starts a pass over a split. Fake sessions only draw items, without reading audio.
func (d *Dataset) NewSession(split Split, fake bool) (*Session, error) {
	if !split.Valid() {
		return nil, fmt.Errorf("dataset: invalid split %v", split)
	}
	return &Session{
		ds:    d,
		split: split,
		pool:  d.splits[split].Clone(),
		rng:   Seed(d.conf.Seed).Rand(),
		fake:  fake,
	}, nil
}

// CountBatches returns the number of batches in one epoch of a split.
func (d *Dataset) CountBatches(ctx context.Context, split Split) (int, error) {
	session, err := d.NewSession(split, true)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, err := range session.All(ctx) {
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
