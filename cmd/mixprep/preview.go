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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/google-research/mixprep/tools/filestore"
	"github.com/google-research/mixprep/tools/tfexamples"
	"github.com/google-research/mixprep/tools/waveform"
)

var (
	previewRows   string
	previewRecord int
	previewOut    string
	previewGain   float64
)

var previewCmd = &cobra.Command{
	Use:   "preview [file.tfrecords]",
	Short: "Write one mixture and its components as WAV files",
	Long: `Write record --record of a TFRecord file, or of a split stored as rows with --rows,
to --out as mix.wav and one s<slot>-<speaker index>.wav per component.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		location, err := sourceArgs(args, previewRows)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		var found *tfexamples.Record
		idx := 0
		for record, err := range readRecords(ctx, location, previewRows) {
			if err != nil {
				return err
			}
			if idx == previewRecord {
				found = record
				break
			}
			idx++
		}
		if found == nil {
			return fmt.Errorf("no record %d, only %d records", previewRecord, idx)
		}
		dir, err := filestore.NewLocal(previewOut)
		if err != nil {
			return err
		}
		write := func(name string, samples []float32) error {
			wave := waveform.FromFloat32(samples)
			wave.AddLevel(waveform.DB(previewGain))
			out, err := dir.Write(ctx, name)
			if err != nil {
				return err
			}
			if err := wave.WriteWAV(out, waveform.Hz(conf.Corpus.Rate)); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		}
		if err := write("mix.wav", found.Mix); err != nil {
			return err
		}
		for slot, component := range found.NonMix {
			if err := write(fmt.Sprintf("s%d-%d.wav", slot, found.Ind[slot]), component); err != nil {
				return err
			}
		}
		logger.WithField("dir", dir.Root()).Infof("Wrote record %d with %d components", previewRecord, len(found.NonMix))
		return nil
	},
}

func init() {
	flags := previewCmd.Flags()
	flags.StringVar(&previewRows, "rows", "", "Read the rows of this split from the audio store instead of a file.")
	flags.IntVar(&previewRecord, "record", 0, "Index of the record to write.")
	flags.StringVar(&previewOut, "out", "preview", "Directory to write the WAV files to.")
	flags.Float64Var(&previewGain, "gain", 0, "Gain in dB applied before writing.")
	flags.Float64("rate", 8000, "Sample rate of the mixtures.")
}
