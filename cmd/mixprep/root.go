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
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/google-research/mixprep/tools/audiostore"
	"github.com/google-research/mixprep/tools/config"
	"github.com/google-research/mixprep/tools/dataset"
	"github.com/google-research/mixprep/tools/metrics"
)

var (
	cfgFile string

	conf     *config.Config
	logger   *logrus.Logger
	registry = prometheus.NewRegistry()
	promMets = metrics.New(registry)
)

var rootCmd = &cobra.Command{
	Use:   "mixprep",
	Short: "Build sex balanced speech mixture datasets",
	Long: `mixprep decodes a LibriSpeech style corpus into an audio store, and builds
reproducible train, valid and test mixtures of several speakers from it.

Configuration is read from --config (YAML), then MIXPREP_* environment variables
(MIXPREP_DATASET_SEED sets dataset.seed), then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		conf = c
		logger = c.Logger()
		if c.MetricsListen != "" {
			go serveMetrics(c.MetricsListen)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")
	flags.String("log_level", "info", "Log level: debug, info, warn or error.")
	flags.String("log_format", "text", "Log format: text or json.")
	flags.String("metrics_listen", "", "Address to serve Prometheus metrics on, e.g. :9090. Empty disables.")
	flags.String("store", "audio.badger", "Directory of the audio store.")

	rootCmd.AddCommand(buildRawCmd)
	rootCmd.AddCommand(buildMixCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(previewCmd)
}

// addDatasetFlags adds the flags of the dataset configuration.
func addDatasetFlags(flags *pflag.FlagSet) {
	d := dataset.DefaultConfig()
	flags.Int64("seed", d.Seed, "Seed of the shuffle, the balancing and the sessions.")
	flags.Int("chunk_size", d.ChunkSize, "Number of samples in a chunk.")
	flags.Int("batch_size", d.BatchSize, "Number of mixtures in a batch.")
	flags.Int("nb_speakers", d.NbSpeakers, "Number of speakers in a mixture.")
	flags.StringSlice("sex", d.Sex, "Sexes to draw from: M,F or F,M or M or F.")
	flags.Bool("no_random_picking", d.NoRandomPicking, "Alternate M,F,M,... between the slots of a mixture instead of drawing sexes.")
	flags.StringSlice("ratio", []string{"0.9", "0.05", "0.05"}, "Train, valid and test share of the chunks.")
	flags.Int("max_batches", d.MaxBatches, "Maximum number of batches per split, 0 for no limit.")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.WithField("addr", addr).Info("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Metrics server failed")
	}
}

func openStore() (*audiostore.Store, error) {
	return audiostore.Open(audiostore.Options{Dir: conf.Store.Dir, Logger: logger})
}

// openDataset opens the store and builds the configured dataset from its index.
func openDataset(ctx context.Context) (*dataset.Dataset, *audiostore.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	index, err := store.Index(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	ds, err := dataset.New(ctx, conf.DatasetConfig(), index, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return ds, store, nil
}
