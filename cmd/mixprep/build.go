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
package main

import (
	"errors"
	"fmt"
	"sync"
	"text/tabwriter"

	"github.com/cheggaaa/pb"
	"github.com/spf13/cobra"

	"github.com/google-research/mixprep/tools/config"
	"github.com/google-research/mixprep/tools/dataset"
	"github.com/google-research/mixprep/tools/filestore"
	"github.com/google-research/mixprep/tools/mixbuild"
	"github.com/google-research/mixprep/tools/rawbuild"
	"github.com/google-research/mixprep/tools/waveform"
)

var buildRawCmd = &cobra.Command{
	Use:   "build-raw",
	Short: "Decode a corpus subset into the audio store",
	Long: `Decode every WAV recording of the speakers of a corpus subset into the audio store.

Metadata is read from SPEAKERS.TXT and CHAPTERS.TXT in --corpus_root, and recordings
from <corpus_root>/<subset>/<speaker>/<chapter>/. Recordings are mixed down to mono
and resampled to --rate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if conf.Corpus.Root == "" {
			return errors.New("no --corpus_root")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		var bar *pb.ProgressBar
		result, err := rawbuild.Build(cmd.Context(), store, rawbuild.Options{
			Root:    conf.Corpus.Root,
			Subset:  conf.Corpus.Subset,
			Rate:    waveform.Hz(conf.Corpus.Rate),
			Workers: conf.Corpus.Workers,
			Logger:  logger,
			Metrics: promMets,
			Progress: func(_, total int) {
				if bar == nil {
					bar = pb.StartNew(total).Prefix("Decoding")
				}
				bar.Increment()
			},
		})
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d recordings of %d speakers, %d samples at %v Hz. Skipped %d empty recordings.\n",
			result.Files, result.Speakers, result.Samples, conf.Corpus.Rate, result.Skipped)
		return nil
	},
}

var buildMixCmd = &cobra.Command{
	Use:   "build-mix",
	Short: "Write one epoch of mixtures of every split",
	Long: `Write one epoch of mixtures of the train, test and valid splits.

With --format tfrecords, <split>.tfrecords files and manifest.yaml are written to --out,
a directory or s3://bucket/prefix. With --format store, the mixtures are written as
rows into the audio store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		ds, store, err := openDataset(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		opts := mixbuild.Options{
			Format:  conf.Output.Format,
			Logger:  logger,
			Metrics: promMets,
		}
		if conf.Output.Format == config.TFRecords {
			files, err := filestore.Open(ctx, conf.Output.Location, filestore.Options{
				S3Endpoint: conf.Output.S3Endpoint,
				S3Region:   conf.Output.S3Region,
			})
			if err != nil {
				return err
			}
			opts.Files = files
		} else {
			opts.Rows = store
		}

		total := 0
		for _, split := range dataset.Splits {
			batches, err := ds.CountBatches(ctx, split)
			if err != nil {
				return err
			}
			total += batches * ds.Config().BatchSize
		}
		bar := pb.StartNew(total).Prefix("Mixing")
		mutex := &sync.Mutex{}
		written := map[dataset.Split]int{}
		opts.Progress = func(split dataset.Split, mixtures int) {
			mutex.Lock()
			defer mutex.Unlock()
			bar.Add(mixtures - written[split])
			written[split] = mixtures
		}
		manifest, err := mixbuild.Build(ctx, ds, opts)
		bar.Finish()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Build %v\n", manifest.BuildID)
		fmt.Fprintln(w, "split\tmixtures\tbatches\tremoved\tended by")
		for _, split := range dataset.Splits {
			s := manifest.Splits[split.String()]
			fmt.Fprintf(w, "%v\t%d\t%d\t%d\t%v\n", split, s.Mixtures, s.Batches, s.Removed, s.EndedBy)
		}
		return w.Flush()
	},
}

func init() {
	flags := buildRawCmd.Flags()
	flags.String("corpus_root", "", "Corpus directory with SPEAKERS.TXT, CHAPTERS.TXT and the subset directories.")
	flags.String("subset", "train-clean-100", "Corpus subset to decode.")
	flags.Float64("rate", 8000, "Sample rate of the stored audio.")
	flags.Int("workers", 4, "Number of recordings decoded at once.")

	flags = buildMixCmd.Flags()
	addDatasetFlags(flags)
	flags.String("out", "mixtures", "Output directory or s3://bucket/prefix.")
	flags.String("format", config.TFRecords, "Output format: tfrecords or store.")
	flags.String("s3_endpoint", "", "Endpoint of an S3 compatible store.")
	flags.String("s3_region", "", "Region of the S3 bucket.")
}
