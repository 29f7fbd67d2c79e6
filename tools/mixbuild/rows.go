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
package mixbuild

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/tfexamples"
)

const (
	rowSpace   = "rows"
	shapeSpace = "shape"
	metaSpace  = "meta"
)

// RowStore holds mixtures as rows of keys. *audiostore.Store implements it.
type RowStore interface {
	Set(ctx context.Context, key audiostore.Key, value []byte) error
	Get(ctx context.Context, key audiostore.Key) ([]byte, error)
	BatchSet(ctx context.Context, entries []audiostore.Entry) error
	List(ctx context.Context, prefix audiostore.Key) iter.Seq2[audiostore.Entry, error]
}

// Shape describes the rows of a split.
type Shape struct {
	ChunkSize  int `yaml:"chunk_size"`
	NbSpeakers int `yaml:"nb_speakers"`
	Mixtures   int `yaml:"mixtures"`
}

func rowKey(split string, idx int, feature string) audiostore.Key {
	return audiostore.Key{rowSpace, split, fmt.Sprintf("%010d", idx), feature}
}

// rowEntries returns the mix, non_mix and ind rows of a record.
func rowEntries(split string, idx int, r *tfexamples.Record) []audiostore.Entry {
	nonMix := make([]float32, 0, r.ChunkSize()*r.NbSpeakers())
	for _, component := range r.NonMix {
		nonMix = append(nonMix, component...)
	}
	return []audiostore.Entry{
		{Key: rowKey(split, idx, tfexamples.MixFeature), Value: tfexamples.EncodeFloats(r.Mix)},
		{Key: rowKey(split, idx, tfexamples.NonMixFeature), Value: tfexamples.EncodeFloats(nonMix)},
		{Key: rowKey(split, idx, tfexamples.IndFeature), Value: tfexamples.EncodeInts(r.Ind)},
	}
}

func putShape(ctx context.Context, store RowStore, split string, shape Shape) error {
	b, err := yaml.Marshal(shape)
	if err != nil {
		return err
	}
	return store.Set(ctx, audiostore.Key{shapeSpace, split}, b)
}

// ReadShape returns the shape of the rows of a split.
func ReadShape(ctx context.Context, store RowStore, split string) (*Shape, error) {
	b, err := store.Get(ctx, audiostore.Key{shapeSpace, split})
	if err != nil {
		return nil, err
	}
	shape := &Shape{}
	if err := yaml.Unmarshal(b, shape); err != nil {
		return nil, err
	}
	return shape, nil
}

// ReadRowManifest returns the manifest of a build into a row store.
func ReadRowManifest(ctx context.Context, store RowStore) (*Manifest, error) {
	b, err := store.Get(ctx, audiostore.Key{metaSpace, ManifestName})
	if err != nil {
		return nil, err
	}
	return ReadManifest(bytes.NewReader(b))
}

// ReadRows iterates over the records of a split in the order they were written.
func ReadRows(ctx context.Context, store RowStore, split string) iter.Seq2[*tfexamples.Record, error] {
	return func(yield func(*tfexamples.Record, error) bool) {
		shape, err := ReadShape(ctx, store, split)
		if err != nil {
			yield(nil, fmt.Errorf("reading shape of %v: %w", split, err))
			return
		}
		var current *tfexamples.Record
		currentIdx := -1
		fields := 0
		flush := func() bool {
			if current == nil {
				return true
			}
			if fields != 3 {
				return yield(nil, fmt.Errorf("row %d of %v has %d of 3 features", currentIdx, split, fields))
			}
			return yield(current, nil)
		}
		for entry, err := range store.List(ctx, audiostore.Key{rowSpace, split}) {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(entry.Key) != 4 {
				yield(nil, fmt.Errorf("malformed row key %v", entry.Key))
				return
			}
			idx, err := strconv.Atoi(entry.Key[2])
			if err != nil {
				yield(nil, fmt.Errorf("malformed row key %v: %w", entry.Key, err))
				return
			}
			if idx != currentIdx {
				if !flush() {
					return
				}
				current, currentIdx, fields = &tfexamples.Record{}, idx, 0
			}
			if err := decodeRow(current, entry.Key[3], entry.Value, shape); err != nil {
				yield(nil, fmt.Errorf("row %d of %v: %w", idx, split, err))
				return
			}
			fields++
		}
		flush()
	}
}

func decodeRow(r *tfexamples.Record, feature string, value []byte, shape *Shape) error {
	switch feature {
	case tfexamples.MixFeature:
		mix, err := tfexamples.DecodeFloats(value)
		if err != nil {
			return err
		}
		if len(mix) != shape.ChunkSize {
			return fmt.Errorf("%v has %d samples, wanted %d", feature, len(mix), shape.ChunkSize)
		}
		r.Mix = mix
	case tfexamples.NonMixFeature:
		nonMix, err := tfexamples.DecodeFloats(value)
		if err != nil {
			return err
		}
		if len(nonMix) != shape.ChunkSize*shape.NbSpeakers {
			return fmt.Errorf("%v has %d samples, wanted %d", feature, len(nonMix), shape.ChunkSize*shape.NbSpeakers)
		}
		r.NonMix = make([][]float32, shape.NbSpeakers)
		for idx := range r.NonMix {
			r.NonMix[idx] = nonMix[idx*shape.ChunkSize : (idx+1)*shape.ChunkSize]
		}
	case tfexamples.IndFeature:
		ind, err := tfexamples.DecodeInts(value)
		if err != nil {
			return err
		}
		if len(ind) != shape.NbSpeakers {
			return fmt.Errorf("%v has %d values, wanted %d", feature, len(ind), shape.NbSpeakers)
		}
		r.Ind = ind
	default:
		return fmt.Errorf("unknown feature %q", feature)
	}
	return nil
}
