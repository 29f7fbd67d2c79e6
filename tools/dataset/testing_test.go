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
	"sort"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/speakers"
)

// memStore is an in memory Store.
type memStore struct {
	audio   map[string]map[string][]float32
	readErr error
	reads   int
}

func newMemStore() *memStore {
	return &memStore{audio: map[string]map[string][]float32{}}
}

func (m *memStore) put(speaker, file string, samples []float32) {
	if m.audio[speaker] == nil {
		m.audio[speaker] = map[string][]float32{}
	}
	m.audio[speaker][file] = samples
}

func (m *memStore) Files(_ context.Context, speaker string) ([]audiostore.File, error) {
	result := []audiostore.File{}
	for name, samples := range m.audio[speaker] {
		result = append(result, audiostore.File{Name: name, Length: len(samples)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *memStore) ReadSlice(_ context.Context, speaker, file string, offset, length int) ([]float32, error) {
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	samples, found := m.audio[speaker][file]
	if !found {
		return nil, audiostore.ErrNotFound
	}
	if offset+length > len(samples) {
		return nil, audiostore.ErrOutOfRange
	}
	return append([]float32(nil), samples[offset:offset+length]...), nil
}

// makeCorpus creates nMale and nFemale speakers with files recordings each. Recording
// lengths vary so speakers have different numbers of chunks.
func makeCorpus(nMale, nFemale, files, chunkSize int) (*speakers.Index, *memStore) {
	store := newMemStore()
	all := []*speakers.Speaker{}
	add := func(prefix string, sex speakers.Sex, n int) {
		for speakerIdx := 0; speakerIdx < n; speakerIdx++ {
			key := fmt.Sprintf("%v%02d", prefix, speakerIdx)
			all = append(all, &speakers.Speaker{Key: key, Sex: sex})
			for fileIdx := 0; fileIdx < files; fileIdx++ {
				length := chunkSize*(1+(speakerIdx+fileIdx)%4) + speakerIdx%chunkSize
				samples := make([]float32, length)
				for idx := range samples {
					samples[idx] = float32(speakerIdx*100+fileIdx) + float32(idx%chunkSize)/float32(chunkSize)
				}
				store.put(key, fmt.Sprintf("%v-%d.wav", key, fileIdx), samples)
			}
		}
	}
	add("m", speakers.Male, nMale)
	add("f", speakers.Female, nFemale)
	return speakers.NewIndex(all), store
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func mustNew(t *testing.T, conf Config, index *speakers.Index, store Store) *Dataset {
	t.Helper()
	d, err := New(context.Background(), conf, index, store, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return d
}
