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
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/google-research/mixprep/tools/dataset"
)

func TestDefaults(t *testing.T) {
	c, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(dataset.DefaultConfig(), c.DatasetConfig()); diff != "" {
		t.Errorf("default dataset configuration differs: %v", diff)
	}
	if c.Corpus.Rate != 8000 || c.Output.Format != TFRecords || c.LogLevel != "info" {
		t.Errorf("unexpected defaults %+v", c)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mixprep.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
log_format: json
corpus:
  rate: 16000
dataset:
  seed: 7
  nb_speakers: 3
  sex: [F]
  ratio: [0.8, 0.1, 0.1]
output:
  location: s3://bucket/mixes
`)
	t.Setenv("MIXPREP_DATASET_SEED", "11")
	t.Setenv("MIXPREP_DATASET_BATCH_SIZE", "4")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("nb_speakers", 2, "")
	flags.Int("batch_size", 1, "")
	flags.Bool("unrelated", false, "")
	if err := flags.Parse([]string{"--nb_speakers=4", "--unrelated"}); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		desc string
		got  interface{}
		want interface{}
	}{
		{desc: "Value from the file", got: c.Corpus.Rate, want: 16000.0},
		{desc: "List from the file", got: c.Dataset.Sex, want: []string{"F"}},
		{desc: "Ratio from the file", got: c.Dataset.Ratio, want: []float64{0.8, 0.1, 0.1}},
		{desc: "Environment over file", got: c.Dataset.Seed, want: int64(11)},
		{desc: "Environment over default", got: c.Dataset.BatchSize, want: 4},
		{desc: "Flag over file", got: c.Dataset.NbSpeakers, want: 4},
		{desc: "Default", got: c.Dataset.ChunkSize, want: 20480},
		{desc: "Output location", got: c.Output.Location, want: "s3://bucket/mixes"},
	} {
		if diff := cmp.Diff(tc.want, tc.got); diff != "" {
			t.Errorf("%v: %v", tc.desc, diff)
		}
	}
	if _, ok := c.Logger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("log_format json didn't give a JSON formatter")
	}
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		content string
	}{
		{desc: "Unknown log level", content: "log_level: loud\n"},
		{desc: "Unknown log format", content: "log_format: xml\n"},
		{desc: "Unknown output format", content: "output:\n  format: csv\n"},
		{desc: "Zero rate", content: "corpus:\n  rate: 0\n"},
	} {
		if _, err := Load(writeConfig(t, tc.content), nil); err == nil {
			t.Errorf("%v: Load succeeded", tc.desc)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Errorf("loading a missing file succeeded")
	}
}
