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
	"bufio"
	"context"
	"io"
	"iter"
	"os"
	"path"
	"strings"

	"github.com/google-research/mixprep/tools/filestore"
	"github.com/google-research/mixprep/tools/mixbuild"
	"github.com/google-research/mixprep/tools/tfexamples"
)

func openInput(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "s3://") {
		return os.Open(location)
	}
	dir, name := path.Split(location)
	files, err := filestore.Open(ctx, dir, filestore.Options{
		S3Endpoint: conf.Output.S3Endpoint,
		S3Region:   conf.Output.S3Region,
	})
	if err != nil {
		return nil, err
	}
	return files.Read(ctx, name)
}

// readRecords yields the records of a TFRecord file, or the rows of a split in the audio
// store when rowSplit is set.
func readRecords(ctx context.Context, location, rowSplit string) iter.Seq2[*tfexamples.Record, error] {
	if rowSplit != "" {
		return func(yield func(*tfexamples.Record, error) bool) {
			store, err := openStore()
			if err != nil {
				yield(nil, err)
				return
			}
			defer store.Close()
			for r, err := range mixbuild.ReadRows(ctx, store, rowSplit) {
				if !yield(r, err) || err != nil {
					return
				}
			}
		}
	}
	return func(yield func(*tfexamples.Record, error) bool) {
		in, err := openInput(ctx, location)
		if err != nil {
			yield(nil, err)
			return
		}
		defer in.Close()
		reader := tfexamples.NewReader(bufio.NewReader(in))
		for {
			r, err := reader.Read()
			if err == io.EOF {
				return
			}
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

func sourceArgs(args []string, rowSplit string) (string, error) {
	switch {
	case rowSplit != "" && len(args) == 0:
		return "", nil
	case rowSplit == "" && len(args) == 1:
		return args[0], nil
	}
	return "", errSource
}
