/*
Package mixbuild writes one epoch of mixtures of every split of a dataset, either as TFRecord
files or as rows of a store, together with a manifest describing the build.

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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/dataset"
	"github.com/google-research/mixprep/tools/filestore"
	"github.com/google-research/mixprep/tools/metrics"
	"github.com/google-research/mixprep/tools/tfexamples"
	"github.com/google-research/mixprep/tools/workerpool"
)

// Output formats.
const (
	TFRecords = "tfrecords"
	StoreRows = "store"
)

// Options configures Build.
type Options struct {
	// Format is TFRecords or StoreRows.
	Format string
	// Files receives the TFRecord files and the manifest. Required for TFRecords.
	Files filestore.FileStore
	// Rows receives the rows, shapes and manifest. Required for StoreRows.
	Rows   RowStore
	Logger logrus.FieldLogger
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Progress, when set, is called after every batch with the number of mixtures of the split
	// written so far. It is called concurrently for different splits.
	Progress func(split dataset.Split, mixtures int)
}

// FileName returns the name of the TFRecord file of a split.
func FileName(split dataset.Split) string {
	return split.String() + ".tfrecords"
}

// writer receives the batches of one split.
type writer interface {
	writeBatch(ctx context.Context, records []*tfexamples.Record) error
	// close completes the output, abort discards it.
	close(ctx context.Context) error
	abort(ctx context.Context)
}

type fileWriter struct {
	files filestore.FileStore
	name  string
	out   io.WriteCloser
	buf   *bufio.Writer
	w     *tfexamples.Writer
}

func newFileWriter(ctx context.Context, files filestore.FileStore, name string) (*fileWriter, error) {
	out, err := files.Write(ctx, name)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(out)
	return &fileWriter{files: files, name: name, out: out, buf: buf, w: tfexamples.NewWriter(buf)}, nil
}

func (f *fileWriter) writeBatch(_ context.Context, records []*tfexamples.Record) error {
	for _, r := range records {
		if err := f.w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fileWriter) close(context.Context) error {
	if err := f.buf.Flush(); err != nil {
		f.out.Close()
		return err
	}
	return f.out.Close()
}

func (f *fileWriter) abort(ctx context.Context) {
	f.out.Close()
	f.files.Delete(context.WithoutCancel(ctx), f.name)
}

type rowWriter struct {
	store RowStore
	split string
	shape Shape
}

func (r *rowWriter) writeBatch(ctx context.Context, records []*tfexamples.Record) error {
	entries := make([]audiostore.Entry, 0, 3*len(records))
	for _, record := range records {
		entries = append(entries, rowEntries(r.split, r.shape.Mixtures, record)...)
		r.shape.Mixtures++
	}
	return r.store.BatchSet(ctx, entries)
}

func (r *rowWriter) close(ctx context.Context) error {
	return putShape(ctx, r.store, r.split, r.shape)
}

func (r *rowWriter) abort(context.Context) {}

func (o *Options) validate() error {
	switch o.Format {
	case TFRecords:
		if o.Files == nil {
			return errors.New("mixbuild: writing TFRecords needs a file store")
		}
	case StoreRows:
		if o.Rows == nil {
			return errors.New("mixbuild: writing rows needs a row store")
		}
	default:
		return fmt.Errorf("mixbuild: unknown format %q", o.Format)
	}
	return nil
}

// Build writes one epoch of every split, running the splits concurrently, and returns the
// manifest it stored. When a split fails, the TFRecord files of the other splits are deleted;
// rows already written stay in the store, without a manifest.
func Build(ctx context.Context, ds *dataset.Dataset, opts Options) (*Manifest, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	start := time.Now()
	m := &Manifest{
		BuildID:  uuid.NewString(),
		Created:  start.UTC(),
		Format:   opts.Format,
		Dataset:  summarize(ds.Config()),
		Speakers: ds.SpeakerKeys(),
		Splits:   map[string]*SplitSummary{},
	}
	summaries := make([]*SplitSummary, len(dataset.Splits))
	wp := workerpool.New(ctx, len(dataset.Splits))
	for _, split := range []dataset.Split{dataset.Train, dataset.Test, dataset.Valid} {
		wp.Go(func(ctx context.Context) error {
			summary, err := buildSplit(ctx, ds, split, &opts)
			if err != nil {
				return fmt.Errorf("%v: %w", split, err)
			}
			summaries[split] = summary
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		removeFinished(ctx, summaries, &opts)
		return nil, fmt.Errorf("mixbuild: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, split := range dataset.Splits {
		m.Splits[split.String()] = summaries[split]
	}
	if err := saveManifest(ctx, m, &opts); err != nil {
		return nil, fmt.Errorf("mixbuild: storing manifest: %w", err)
	}
	if opts.Metrics != nil {
		opts.Metrics.BuildDuration.WithLabelValues("mix").Observe(time.Since(start).Seconds())
	}
	opts.Logger.WithFields(logrus.Fields{
		"build_id": m.BuildID,
		"duration": time.Since(start),
	}).Info("Built mixtures")
	return m, nil
}

// removeFinished deletes the files of the splits that completed before another failed.
func removeFinished(ctx context.Context, summaries []*SplitSummary, opts *Options) {
	if opts.Format != TFRecords {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, summary := range summaries {
		if summary == nil {
			continue
		}
		if err := opts.Files.Delete(ctx, summary.File); err != nil {
			opts.Logger.WithError(err).WithField("file", summary.File).Warn("Failed to delete output")
		}
	}
}

func saveManifest(ctx context.Context, m *Manifest, opts *Options) error {
	buf := &bytes.Buffer{}
	if err := m.Save(buf); err != nil {
		return err
	}
	if opts.Rows != nil && opts.Format == StoreRows {
		if err := opts.Rows.Set(ctx, audiostore.Key{metaSpace, ManifestName}, buf.Bytes()); err != nil {
			return err
		}
	}
	if opts.Files == nil {
		return nil
	}
	w, err := opts.Files.Write(ctx, ManifestName)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func buildSplit(ctx context.Context, ds *dataset.Dataset, split dataset.Split, opts *Options) (*SplitSummary, error) {
	logger := opts.Logger.WithField("split", split)
	summary := &SplitSummary{
		Items:   ds.Tree(split).TotalItems(),
		Removed: ds.Removed(split),
	}
	if opts.Metrics != nil {
		opts.Metrics.ItemsDropped.WithLabelValues(split.String()).Add(float64(summary.Removed))
	}
	var out writer
	if opts.Format == TFRecords {
		summary.File = FileName(split)
		fw, err := newFileWriter(ctx, opts.Files, summary.File)
		if err != nil {
			return nil, err
		}
		out = fw
	} else {
		out = &rowWriter{
			store: opts.Rows,
			split: split.String(),
			shape: Shape{ChunkSize: ds.Config().ChunkSize, NbSpeakers: ds.Config().NbSpeakers},
		}
	}

	session, err := ds.NewSession(split, false)
	if err != nil {
		out.abort(ctx)
		return nil, err
	}
	for {
		batch, err := session.Next(ctx)
		if dataset.IsEndOfEpoch(err) {
			summary.EndedBy = "exhausted"
			if errors.Is(err, dataset.ErrBatchLimit) {
				summary.EndedBy = "limit"
			}
			break
		}
		if err != nil {
			out.abort(ctx)
			return nil, err
		}
		records := make([]*tfexamples.Record, len(batch.Mixtures))
		for idx, mixture := range batch.Mixtures {
			records[idx] = tfexamples.FromMixture(mixture)
		}
		if err := out.writeBatch(ctx, records); err != nil {
			out.abort(ctx)
			return nil, err
		}
		summary.Batches++
		summary.Mixtures += len(records)
		if opts.Metrics != nil {
			opts.Metrics.BatchesWritten.WithLabelValues(split.String()).Inc()
			opts.Metrics.MixturesWritten.WithLabelValues(split.String()).Add(float64(len(records)))
		}
		if opts.Progress != nil {
			opts.Progress(split, summary.Mixtures)
		}
	}
	if err := out.close(ctx); err != nil {
		return nil, err
	}
	if opts.Metrics != nil {
		opts.Metrics.EpochsEnded.WithLabelValues(split.String(), summary.EndedBy).Inc()
	}
	logger.WithFields(logrus.Fields{
		"batches":  summary.Batches,
		"mixtures": summary.Mixtures,
		"ended_by": summary.EndedBy,
	}).Info("Wrote split")
	return summary, nil
}
