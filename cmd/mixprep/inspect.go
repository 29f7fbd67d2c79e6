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
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/google-research/mixprep/tools/waveform"
)

var errSource = errors.New("give either one TFRecord file or --rows <split>")

var (
	inspectRows      string
	inspectTolerance float64
	inspectVerbose   bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file.tfrecords]",
	Short: "Check and summarize written mixtures",
	Long: `Read the mixtures of a TFRecord file (a path or an s3:// URL), or of a split stored
as rows with --rows, check that every mixture is the sum of its components, and
summarize the component levels relative to the mixture.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		location, err := sourceArgs(args, inspectRows)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		if inspectVerbose {
			fmt.Fprintln(w, "record\tspeakers\tlevels (dB)\tdominant (Hz)\terror")
		}
		records := 0
		maxErr := 0.0
		levels := [][]float64{}
		for record, err := range readRecords(cmd.Context(), location, inspectRows) {
			if err != nil {
				return err
			}
			mix := waveform.FromFloat32(record.Mix)
			sum := make([]float64, len(mix))
			mixDB := mix.DBFS()
			recordLevels := make([]float64, len(record.NonMix))
			for slot, component := range record.NonMix {
				c := waveform.FromFloat32(component)
				if len(c) != len(sum) {
					return fmt.Errorf("record %d: component %d has %d samples, the mixture %d", records, slot, len(c), len(sum))
				}
				floats.Add(sum, c)
				recordLevels[slot] = float64(c.DBFS() - mixDB)
				for len(levels) <= slot {
					levels = append(levels, nil)
				}
				if !math.IsInf(recordLevels[slot], 0) && !math.IsNaN(recordLevels[slot]) {
					levels[slot] = append(levels[slot], recordLevels[slot])
				}
			}
			recordErr := 0.0
			if len(mix) > 0 {
				recordErr = floats.Distance(mix, sum, math.Inf(1))
			}
			maxErr = math.Max(maxErr, recordErr)
			if inspectVerbose {
				fmt.Fprintf(w, "%d\t%v\t%.1f\t%.0f\t%.2g\n",
					records, record.Ind, recordLevels, float64(mix.DominantFrequency(waveform.Hz(conf.Corpus.Rate))), recordErr)
			}
			records++
		}
		fmt.Fprintf(w, "%d records, max |mix - sum of components| %.2g\n", records, maxErr)
		for slot, l := range levels {
			if len(l) == 0 {
				fmt.Fprintf(w, "slot %d\tsilent\n", slot)
				continue
			}
			mean, std := l[0], 0.0
			if len(l) > 1 {
				mean, std = stat.MeanStdDev(l, nil)
			}
			fmt.Fprintf(w, "slot %d\t%.1f±%.1f dB relative to the mixture\n", slot, mean, std)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if maxErr > inspectTolerance {
			return fmt.Errorf("mixtures differ from the sum of their components by up to %v", maxErr)
		}
		return nil
	},
}

func init() {
	flags := inspectCmd.Flags()
	flags.StringVar(&inspectRows, "rows", "", "Read the rows of this split from the audio store instead of a file.")
	flags.Float64Var(&inspectTolerance, "tolerance", 1e-5, "Largest accepted difference between a mixture and the sum of its components.")
	flags.BoolVar(&inspectVerbose, "verbose", false, "Print every record.")
	flags.Float64("rate", 8000, "Sample rate of the mixtures.")
}
