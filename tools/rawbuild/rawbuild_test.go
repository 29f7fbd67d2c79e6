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
package rawbuild

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/metrics"
	"github.com/google-research/mixprep/tools/speakers"
	"github.com/google-research/mixprep/tools/waveform"
)

func writeTone(t *testing.T, path string, rate waveform.Hz, length int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	tone := make(waveform.Float64Slice, length)
	for idx := range tone {
		tone[idx] = 0.5 * math.Sin(2*math.Pi*200*float64(idx)/float64(rate))
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tone.WriteWAV(f, rate); err != nil {
		t.Fatal(err)
	}
}

func testCorpus(t *testing.T) (string, *speakers.Index) {
	root := t.TempDir()
	writeTone(t, filepath.Join(root, "dev-clean", "84", "121123", "84-121123-0000.wav"), 16000, 16000)
	writeTone(t, filepath.Join(root, "dev-clean", "84", "121123", "84-121123-0001.wav"), 16000, 8000)
	writeTone(t, filepath.Join(root, "dev-clean", "174", "50561", "nested", "174-50561-0000.wav"), 8000, 4000)
	if err := os.WriteFile(filepath.Join(root, "dev-clean", "84", "121123", "84-121123.trans.txt"), []byte("TEXT"), 0o644); err != nil {
		t.Fatal(err)
	}
	index := speakers.NewIndex([]*speakers.Speaker{
		{Key: "84", Sex: speakers.Female, Subset: "dev-clean", Chapters: []string{"121123", "121550"}},
		{Key: "174", Sex: speakers.Male, Subset: "dev-clean", Chapters: []string{"50561"}},
		{Key: "251", Sex: speakers.Male, Subset: "dev-clean", Chapters: []string{"136532"}},
	})
	return root, index
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	root, index := testCorpus(t)
	store, err := audiostore.Open(audiostore.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	m := metrics.New(prometheus.NewRegistry())
	progress := []int{}
	result, err := Build(ctx, store, Options{
		Root:     root,
		Subset:   "dev-clean",
		Index:    index,
		Rate:     8000,
		Workers:  2,
		Metrics:  m,
		Progress: func(done, total int) { progress = append(progress, done*10+total) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Speakers != 2 || result.Files != 3 || result.Skipped != 0 {
		t.Errorf("Build returned %+v", result)
	}
	if diff := cmp.Diff([]int{13, 23, 33}, progress); diff != "" {
		t.Errorf("progress reports: %v", diff)
	}
	if got := testutil.ToFloat64(m.FilesStored); got != 3 {
		t.Errorf("metrics counted %v stored files", got)
	}

	for _, tc := range []struct {
		speaker string
		want    []audiostore.File
	}{
		{speaker: "84", want: []audiostore.File{{Name: "84-121123-0000.wav", Length: 8000}, {Name: "84-121123-0001.wav", Length: 4000}}},
		{speaker: "174", want: []audiostore.File{{Name: "174-50561-0000.wav", Length: 4000}}},
		{speaker: "251", want: []audiostore.File{}},
	} {
		got, err := store.Files(ctx, tc.speaker)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("Files(%v): %v", tc.speaker, diff)
		}
	}
	if got := result.Samples; got != 16000 {
		t.Errorf("stored %d samples, wanted 16000", got)
	}

	stored, err := store.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(index, stored, cmpopts.IgnoreUnexported(speakers.Index{})); diff != "" {
		t.Errorf("stored index: %v", diff)
	}
}

func TestBuildFailsOnBadRecordings(t *testing.T) {
	root, index := testCorpus(t)
	bad := filepath.Join(root, "dev-clean", "174", "50561", "broken.wav")
	if err := os.WriteFile(bad, []byte("not a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := audiostore.Open(audiostore.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := Build(context.Background(), store, Options{Root: root, Subset: "dev-clean", Index: index, Rate: 8000, Workers: 1}); err == nil {
		t.Errorf("Build with a broken recording succeeded")
	}
	if _, err := store.Index(context.Background()); err == nil {
		t.Errorf("a failed build stored the index")
	}
	if _, err := Build(context.Background(), store, Options{Root: root, Index: index}); err == nil {
		t.Errorf("Build without a rate succeeded")
	}
}
