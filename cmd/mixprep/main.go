/*
mixprep builds sex balanced speech mixture datasets.

Usage:

	mixprep build-raw --corpus_root /data/LibriSpeech --subset train-clean-100 --store audio.badger
	mixprep build-mix --store audio.badger --out s3://bucket/mixtures --nb_speakers 2
	mixprep count --store audio.badger
	mixprep inspect mixtures/train.tfrecords
	mixprep preview mixtures/train.tfrecords --record 3 --out preview/

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
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if logger != nil {
			logger.WithError(err).Fatal("mixprep failed")
		}
		logrus.WithError(err).Fatal("mixprep failed")
	}
}
