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
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/dataset"
	"github.com/google-research/mixprep/tools/filestore"
	"github.com/google-research/mixprep/tools/metrics"
	"github.com/google-research/mixprep/tools/speakers"
	"github.com/google-research/mixprep/tools/tfexamples"
)

const chunkSize = 16

func newTestDataset(t *testing.T, modify func(c *dataset.Config)) (*dataset.Dataset, *audiostore.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := audiostore.Open(audiostore.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	all := []*speakers.Speaker{}
	for speakerIdx := 0; speakerIdx < 8; speakerIdx++ {
		sex := speakers.Male
		if speakerIdx%2 == 1 {
			sex = speakers.Female
		}
		key := fmt.Sprintf("s%d", speakerIdx)
		all = append(all, &speakers.Speaker{Key: key, Sex: sex})
		for fileIdx := 0; fileIdx < 2; fileIdx++ {
			samples := make([]float32, chunkSize*(3+speakerIdx%3))
			for idx := range samples {
				samples[idx] = float32(math.Sin(float64(speakerIdx*1000+fileIdx*100+idx) / 7))
			}
			if err := store.PutAudio(ctx, key, fmt.Sprintf("%v-%d.wav", key, fileIdx), samples); err != nil {
				t.Fatal(err)
			}
		}
	}
	conf := dataset.DefaultConfig()
	conf.ChunkSize = chunkSize
	conf.BatchSize = 2
	conf.Ratio = []float64{0.6, 0.2, 0.2}
	if modify != nil {
		modify(&conf)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ds, err := dataset.New(ctx, conf, speakers.NewIndex(all), store, logger)
	if err != nil {
		t.Fatal(err)
	}
	return ds, store
}

func readRecords(t *testing.T, path string) []*tfexamples.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	result := []*tfexamples.Record{}
	r := tfexamples.NewReader(f)
	for {
		record, err := r.Read()
		if err == io.EOF {
			return result
		}
		if err != nil {
			t.Fatal(err)
		}
		result = append(result, record)
	}
}

func TestBuildTFRecords(t *testing.T) {
	ds, _ := newTestDataset(t, nil)
	dir := t.TempDir()
	files, err := filestore.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New(prometheus.NewRegistry())
	manifest, err := Build(context.Background(), ds, Options{Format: TFRecords, Files: files, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ds.SpeakerKeys(), manifest.Speakers); diff != "" {
		t.Errorf("manifest speakers: %v", diff)
	}
	for _, split := range dataset.Splits {
		summary := manifest.Splits[split.String()]
		if summary == nil {
			t.Fatalf("manifest has no %v split", split)
		}
		if summary.EndedBy != "exhausted" || summary.Mixtures != 2*summary.Batches {
			t.Errorf("%v summary is unexpectedly %+v", split, summary)
		}
		count, err := ds.CountBatches(context.Background(), split)
		if err != nil || count != summary.Batches {
			t.Errorf("%v: CountBatches is %d, %v, manifest says %d", split, count, err, summary.Batches)
		}
		records := readRecords(t, filepath.Join(dir, FileName(split)))
		if len(records) != summary.Mixtures {
			t.Errorf("%v file has %d records, manifest says %d", split, len(records), summary.Mixtures)
		}
		for recordIdx, r := range records {
			if r.ChunkSize() != chunkSize || r.NbSpeakers() != 2 {
				t.Errorf("%v record %d has shape %d x %d", split, recordIdx, r.NbSpeakers(), r.ChunkSize())
				continue
			}
			for idx := range r.Mix {
				sum := float64(r.NonMix[0][idx]) + float64(r.NonMix[1][idx])
				if math.Abs(sum-float64(r.Mix[idx])) > 1e-6 {
					t.Errorf("%v record %d sample %d: mix %v is not the sum %v", split, recordIdx, idx, r.Mix[idx], sum)
				}
			}
			if r.Ind[0] == r.Ind[1] || r.Ind[0] < 0 || r.Ind[0] >= int64(len(manifest.Speakers)) {
				t.Errorf("%v record %d has speaker indices %v", split, recordIdx, r.Ind)
			}
		}
		if got := testutil.ToFloat64(m.MixturesWritten.WithLabelValues(split.String())); got != float64(summary.Mixtures) {
			t.Errorf("%v: metrics counted %v mixtures", split, got)
		}
	}

	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	stored, err := ReadManifest(f)
	if err != nil {
		t.Fatal(err)
	}
	if stored.BuildID != manifest.BuildID || !stored.Created.Equal(manifest.Created) {
		t.Errorf("stored manifest %v/%v differs from returned %v/%v", stored.BuildID, stored.Created, manifest.BuildID, manifest.Created)
	}
	if diff := cmp.Diff(manifest.Splits, stored.Splits); diff != "" {
		t.Errorf("stored split summaries: %v", diff)
	}
	if diff := cmp.Diff(manifest.Dataset, stored.Dataset); diff != "" {
		t.Errorf("stored dataset summary: %v", diff)
	}
}

// slowFailingFiles fails the writes of one file once every other file was closed.
type slowFailingFiles struct {
	filestore.FileStore
	fail   string
	others int
	mutex  sync.Mutex
	closed chan struct{}
	done   int
}

type closeNotifier struct {
	io.WriteCloser
	files *slowFailingFiles
}

func (c *closeNotifier) Close() error {
	err := c.WriteCloser.Close()
	c.files.mutex.Lock()
	defer c.files.mutex.Unlock()
	if c.files.done++; c.files.done == c.files.others {
		close(c.files.closed)
	}
	return err
}

func (s *slowFailingFiles) Write(ctx context.Context, path string) (io.WriteCloser, error) {
	if path == s.fail {
		<-s.closed
		return nil, errors.New("disk full")
	}
	w, err := s.FileStore.Write(ctx, path)
	if err != nil {
		return nil, err
	}
	return &closeNotifier{WriteCloser: w, files: s}, nil
}

func TestFailedBuildRemovesFinishedSplits(t *testing.T) {
	ds, _ := newTestDataset(t, nil)
	dir := t.TempDir()
	local, err := filestore.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	files := &slowFailingFiles{
		FileStore: local,
		fail:      FileName(dataset.Valid),
		others:    2,
		closed:    make(chan struct{}),
	}
	if _, err := Build(context.Background(), ds, Options{Format: TFRecords, Files: files}); err == nil {
		t.Fatal("Build succeeded with a failing split")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		t.Errorf("%v was left behind", entry.Name())
	}
}

func TestBuildsAreReproducible(t *testing.T) {
	ds, _ := newTestDataset(t, nil)
	outputs := [][]byte{}
	var buildIDs []string
	for attempt := 0; attempt < 2; attempt++ {
		dir := t.TempDir()
		files, err := filestore.NewLocal(dir)
		if err != nil {
			t.Fatal(err)
		}
		manifest, err := Build(context.Background(), ds, Options{Format: TFRecords, Files: files})
		if err != nil {
			t.Fatal(err)
		}
		buildIDs = append(buildIDs, manifest.BuildID)
		b, err := os.ReadFile(filepath.Join(dir, FileName(dataset.Train)))
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, b)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Errorf("two builds of the same dataset wrote different train files")
	}
	if buildIDs[0] == buildIDs[1] {
		t.Errorf("two builds share the build id %v", buildIDs[0])
	}
}

func TestBuildRows(t *testing.T) {
	ds, store := newTestDataset(t, func(c *dataset.Config) { c.MaxBatches = 1 })
	ctx := context.Background()
	manifest, err := Build(ctx, ds, Options{Format: StoreRows, Rows: store})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	files, err := filestore.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(ctx, ds, Options{Format: TFRecords, Files: files}); err != nil {
		t.Fatal(err)
	}
	for _, split := range dataset.Splits {
		summary := manifest.Splits[split.String()]
		if summary.Batches > 1 || (summary.Batches == 1 && summary.EndedBy != "limit") {
			t.Errorf("%v: MaxBatches 1 gave %+v", split, summary)
		}
		shape, err := ReadShape(ctx, store, split.String())
		if err != nil {
			t.Fatal(err)
		}
		if want := (&Shape{ChunkSize: chunkSize, NbSpeakers: 2, Mixtures: summary.Mixtures}); *shape != *want {
			t.Errorf("%v shape is %+v, wanted %+v", split, shape, want)
		}
		rows := []*tfexamples.Record{}
		for r, err := range ReadRows(ctx, store, split.String()) {
			if err != nil {
				t.Fatal(err)
			}
			rows = append(rows, r)
		}
		if diff := cmp.Diff(readRecords(t, filepath.Join(dir, FileName(split))), rows); diff != "" {
			t.Errorf("%v rows differ from the TFRecords: %v", split, diff)
		}
	}
	stored, err := ReadRowManifest(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if stored.BuildID != manifest.BuildID || stored.Format != StoreRows {
		t.Errorf("stored manifest is unexpectedly %+v", stored)
	}
}

func TestBuildOptions(t *testing.T) {
	ds, store := newTestDataset(t, nil)
	for _, tc := range []struct {
		desc string
		opts Options
	}{
		{desc: "Unknown format", opts: Options{Format: "csv", Rows: store}},
		{desc: "TFRecords without files", opts: Options{Format: TFRecords, Rows: store}},
		{desc: "Rows without a store", opts: Options{Format: StoreRows}},
	} {
		if _, err := Build(context.Background(), ds, tc.opts); err == nil {
			t.Errorf("%v: Build succeeded", tc.desc)
		}
	}
}
