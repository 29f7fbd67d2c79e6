/*
Package rawbuild decodes the recordings of a corpus subset into an audio store.

Recordings are found under <root>/<subset>/<speaker>/<chapter>/ for every chapter the metadata
lists for a speaker, and are stored mono, resampled, under their file name.

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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/metrics"
	"github.com/google-research/mixprep/tools/speakers"
	"github.com/google-research/mixprep/tools/waveform"
	"github.com/google-research/mixprep/tools/workerpool"
)

// Store receives the decoded audio. *audiostore.Store implements it.
type Store interface {
	PutAudio(ctx context.Context, speaker, file string, samples []float32) error
	PutIndex(ctx context.Context, idx *speakers.Index) error
}

// Options configures Build.
type Options struct {
	// Root is the corpus directory, holding SPEAKERS.TXT, CHAPTERS.TXT and a directory per subset.
	Root string
	// Subset is the subset to decode, e.g. "train-clean-100".
	Subset string
	// Index lists the speakers to decode. When nil it is loaded from Root.
	Index *speakers.Index
	// Rate is the sample rate of the stored audio.
	Rate waveform.Hz
	// Workers is the number of files decoded at once.
	Workers int
	Logger  logrus.FieldLogger
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Progress, when set, is called after each file with the number of files done and in total.
	Progress func(done, total int)
}

// Result summarizes a build.
type Result struct {
	Speakers int
	Files    int
	Skipped  int
	Samples  int64
}

type recording struct {
	speaker string
	path    string
}

// findRecordings lists the WAV files of the chapters of a speaker, sorted by path. Missing
// chapter directories are skipped.
func findRecordings(root, subset string, s *speakers.Speaker) ([]recording, error) {
	result := []recording{}
	for _, chapter := range s.Chapters {
		dir := filepath.Join(root, subset, s.Key, chapter)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".wav") {
				result = append(result, recording{speaker: s.Key, path: path})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].path < result[j].path })
	return result, nil
}

// decode reads a recording as mono audio at rate.
func decode(path string, rate waveform.Hz) (waveform.Float64Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, fileRate, err := waveform.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %v: %w", path, err)
	}
	if len(samples) == 0 {
		return samples, nil
	}
	resampled, err := samples.Resample(fileRate, rate)
	if err != nil {
		return nil, fmt.Errorf("resampling %v: %w", path, err)
	}
	return resampled, nil
}

// Build decodes all recordings of the indexed speakers into store, and then stores the index.
func Build(ctx context.Context, store Store, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Rate <= 0 {
		return nil, fmt.Errorf("rawbuild: rate %v is not positive", opts.Rate)
	}
	index := opts.Index
	if index == nil {
		var err error
		if index, err = speakers.Load(opts.Root, opts.Subset); err != nil {
			return nil, fmt.Errorf("rawbuild: loading metadata: %w", err)
		}
	}

	recordings := []recording{}
	for _, s := range index.Speakers {
		found, err := findRecordings(opts.Root, opts.Subset, s)
		if err != nil {
			return nil, fmt.Errorf("rawbuild: listing recordings of %v: %w", s.Key, err)
		}
		recordings = append(recordings, found...)
	}
	logger.WithFields(logrus.Fields{
		"speakers":   index.Len(),
		"recordings": len(recordings),
		"subset":     opts.Subset,
	}).Info("Decoding recordings")

	result := &Result{}
	withAudio := map[string]bool{}
	mutex := &sync.Mutex{}
	done := 0
	wp := workerpool.New(ctx, opts.Workers)
	for _, rec := range recordings {
		wp.Go(func(ctx context.Context) error {
			samples, err := decode(rec.path, opts.Rate)
			if err != nil {
				return err
			}
			name := filepath.Base(rec.path)
			if len(samples) > 0 {
				if err := store.PutAudio(ctx, rec.speaker, name, samples.ToFloat32()); err != nil {
					return fmt.Errorf("storing %v/%v: %w", rec.speaker, name, err)
				}
			}
			mutex.Lock()
			defer mutex.Unlock()
			if len(samples) == 0 {
				logger.WithField("path", rec.path).Warn("Skipping empty recording")
				result.Skipped++
				if opts.Metrics != nil {
					opts.Metrics.FilesSkipped.Inc()
				}
			} else {
				withAudio[rec.speaker] = true
				result.Files++
				result.Samples += int64(len(samples))
				if opts.Metrics != nil {
					opts.Metrics.FilesStored.Inc()
					opts.Metrics.SamplesStored.Add(float64(len(samples)))
				}
			}
			done++
			if opts.Progress != nil {
				opts.Progress(done, len(recordings))
			}
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, fmt.Errorf("rawbuild: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Speakers = len(withAudio)
	if err := store.PutIndex(ctx, index); err != nil {
		return nil, fmt.Errorf("rawbuild: storing index: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"speakers": result.Speakers,
		"files":    result.Files,
		"skipped":  result.Skipped,
		"samples":  result.Samples,
	}).Info("Stored recordings")
	return result, nil
}
