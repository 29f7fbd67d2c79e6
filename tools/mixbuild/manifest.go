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
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google-research/mixprep/tools/dataset"
)

// ManifestName is the name of the manifest written next to the outputs.
const ManifestName = "manifest.yaml"

// DatasetSummary records the dataset configuration of a build.
type DatasetSummary struct {
	Seed            int64     `yaml:"seed"`
	ChunkSize       int       `yaml:"chunk_size"`
	BatchSize       int       `yaml:"batch_size"`
	NbSpeakers      int       `yaml:"nb_speakers"`
	Sex             []string  `yaml:"sex"`
	NoRandomPicking bool      `yaml:"no_random_picking"`
	Ratio           []float64 `yaml:"ratio"`
	MaxBatches      int       `yaml:"max_batches,omitempty"`
}

func summarize(c dataset.Config) DatasetSummary {
	return DatasetSummary{
		Seed:            c.Seed,
		ChunkSize:       c.ChunkSize,
		BatchSize:       c.BatchSize,
		NbSpeakers:      c.NbSpeakers,
		Sex:             c.Sex,
		NoRandomPicking: c.NoRandomPicking,
		Ratio:           c.Ratio,
		MaxBatches:      c.MaxBatches,
	}
}

// SplitSummary describes the output of one split.
type SplitSummary struct {
	// Items is the number of items in the balanced split.
	Items int `yaml:"items"`
	// Removed is the number of items balancing dropped.
	Removed  int `yaml:"removed"`
	Batches  int `yaml:"batches"`
	Mixtures int `yaml:"mixtures"`
	// EndedBy is "exhausted" or "limit".
	EndedBy string `yaml:"ended_by"`
	// File is the TFRecord file of the split, when writing files.
	File string `yaml:"file,omitempty"`
}

// Manifest describes a build.
type Manifest struct {
	BuildID string         `yaml:"build_id"`
	Created time.Time      `yaml:"created"`
	Format  string         `yaml:"format"`
	Dataset DatasetSummary `yaml:"dataset"`
	// Speakers lists the speaker keys by speaker index, so Speakers[ind] is the speaker of a component.
	Speakers []string                 `yaml:"speakers"`
	Splits   map[string]*SplitSummary `yaml:"splits"`
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// ReadManifest decodes a manifest written by Save.
func ReadManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.NewDecoder(r).Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}
