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
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/google-research/mixprep/tools/dataset"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count the items and batches of every split",
	Long: `Build the configured dataset without reading any audio, and print the balanced
item counts, the items dropped by balancing and the number of batches of one epoch
of every split.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		ds, store, err := openDataset(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "%d speakers, %d items of %d samples\n", ds.TotalSpeakers(), ds.PoolSize(), ds.Config().ChunkSize)
		fmt.Fprintln(w, "split\tsex\tspeakers\titems\titems/speaker\tremoved\tbatches")
		for _, split := range dataset.Splits {
			batches, err := ds.CountBatches(ctx, split)
			if err != nil {
				return err
			}
			tree := ds.Tree(split)
			for _, sex := range ds.Sexes() {
				perSpeaker := []float64{}
				for _, key := range tree.Speakers(sex) {
					perSpeaker = append(perSpeaker, float64(len(tree.Items(sex, key))))
				}
				mean, std := 0.0, 0.0
				if len(perSpeaker) > 1 {
					mean, std = stat.MeanStdDev(perSpeaker, nil)
				} else if len(perSpeaker) == 1 {
					mean = perSpeaker[0]
				}
				fmt.Fprintf(w, "%v\t%v\t%d\t%d\t%.1f±%.1f\t%d\t%d\n",
					split, sex, len(perSpeaker), tree.Total(sex), mean, std, ds.Removed(split), batches)
			}
		}
		return w.Flush()
	},
}

func init() {
	addDatasetFlags(countCmd.Flags())
}
