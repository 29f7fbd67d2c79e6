/*
Package config loads the mixprep configuration from defaults, a YAML file, MIXPREP_ environment
variables and command line flags, in increasing order of precedence.

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
package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/google-research/mixprep/tools/dataset"
)

// EnvPrefix prefixes the environment variables overriding configuration keys, with dots
// replaced by underscores: MIXPREP_DATASET_SEED sets dataset.seed.
const EnvPrefix = "MIXPREP"

// Output formats.
const (
	TFRecords = "tfrecords"
	StoreRows = "store"
)

// Corpus locates the recordings and metadata.
type Corpus struct {
	Root    string  `mapstructure:"root"`
	Subset  string  `mapstructure:"subset"`
	Rate    float64 `mapstructure:"rate"`
	Workers int     `mapstructure:"workers"`
}

// Store locates the audio store.
type Store struct {
	Dir string `mapstructure:"dir"`
}

// Dataset mirrors dataset.Config.
type Dataset struct {
	Seed            int64     `mapstructure:"seed"`
	ChunkSize       int       `mapstructure:"chunk_size"`
	BatchSize       int       `mapstructure:"batch_size"`
	NbSpeakers      int       `mapstructure:"nb_speakers"`
	Sex             []string  `mapstructure:"sex"`
	NoRandomPicking bool      `mapstructure:"no_random_picking"`
	Ratio           []float64 `mapstructure:"ratio"`
	MaxBatches      int       `mapstructure:"max_batches"`
}

// Output locates the mixture outputs.
type Output struct {
	// Location is a directory or s3://bucket/prefix.
	Location   string `mapstructure:"location"`
	Format     string `mapstructure:"format"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// Config is the complete configuration.
type Config struct {
	LogLevel      string  `mapstructure:"log_level"`
	LogFormat     string  `mapstructure:"log_format"`
	MetricsListen string  `mapstructure:"metrics_listen"`
	Corpus        Corpus  `mapstructure:"corpus"`
	Store         Store   `mapstructure:"store"`
	Dataset       Dataset `mapstructure:"dataset"`
	Output        Output  `mapstructure:"output"`
}

// FlagKeys maps command line flag names to the configuration keys they set.
var FlagKeys = map[string]string{
	"log_level":         "log_level",
	"log_format":        "log_format",
	"metrics_listen":    "metrics_listen",
	"corpus_root":       "corpus.root",
	"subset":            "corpus.subset",
	"rate":              "corpus.rate",
	"workers":           "corpus.workers",
	"store":             "store.dir",
	"seed":              "dataset.seed",
	"chunk_size":        "dataset.chunk_size",
	"batch_size":        "dataset.batch_size",
	"nb_speakers":       "dataset.nb_speakers",
	"sex":               "dataset.sex",
	"no_random_picking": "dataset.no_random_picking",
	"ratio":             "dataset.ratio",
	"max_batches":       "dataset.max_batches",
	"out":               "output.location",
	"format":            "output.format",
	"s3_endpoint":       "output.s3_endpoint",
	"s3_region":         "output.s3_region",
}

func setDefaults(v *viper.Viper) {
	d := dataset.DefaultConfig()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_listen", "")
	v.SetDefault("corpus.root", "")
	v.SetDefault("corpus.subset", "train-clean-100")
	v.SetDefault("corpus.rate", 8000.0)
	v.SetDefault("corpus.workers", 4)
	v.SetDefault("store.dir", "audio.badger")
	v.SetDefault("dataset.seed", d.Seed)
	v.SetDefault("dataset.chunk_size", d.ChunkSize)
	v.SetDefault("dataset.batch_size", d.BatchSize)
	v.SetDefault("dataset.nb_speakers", d.NbSpeakers)
	v.SetDefault("dataset.sex", d.Sex)
	v.SetDefault("dataset.no_random_picking", d.NoRandomPicking)
	v.SetDefault("dataset.ratio", d.Ratio)
	v.SetDefault("dataset.max_batches", d.MaxBatches)
	v.SetDefault("output.location", "mixtures")
	v.SetDefault("output.format", TFRecords)
	v.SetDefault("output.s3_endpoint", "")
	v.SetDefault("output.s3_region", "")
}

// Load reads the configuration. path may be empty, and flags may be nil; flags not in FlagKeys
// are ignored, and flags left unset don't override the file or the environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %v: %w", path, err)
		}
	}
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, found := FlagKeys[f.Name]
			if !found || !f.Changed || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that are not checked by the packages they configure.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format %q is neither text nor json", c.LogFormat)
	}
	switch c.Output.Format {
	case TFRecords, StoreRows:
	default:
		return fmt.Errorf("config: output.format %q is neither %v nor %v", c.Output.Format, TFRecords, StoreRows)
	}
	if c.Corpus.Rate <= 0 {
		return fmt.Errorf("config: corpus.rate %v is not positive", c.Corpus.Rate)
	}
	return nil
}

// DatasetConfig returns the dataset configuration.
func (c *Config) DatasetConfig() dataset.Config {
	return dataset.Config{
		Seed:            c.Dataset.Seed,
		ChunkSize:       c.Dataset.ChunkSize,
		BatchSize:       c.Dataset.BatchSize,
		NbSpeakers:      c.Dataset.NbSpeakers,
		Sex:             append([]string(nil), c.Dataset.Sex...),
		NoRandomPicking: c.Dataset.NoRandomPicking,
		Ratio:           append([]float64(nil), c.Dataset.Ratio...),
		MaxBatches:      c.Dataset.MaxBatches,
	}
}

// Logger returns a logger with the configured level and format.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
