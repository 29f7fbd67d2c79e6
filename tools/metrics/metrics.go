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
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics of the builders.
type Metrics struct {
	// Raw audio
	FilesStored   prometheus.Counter
	SamplesStored prometheus.Counter
	FilesSkipped  prometheus.Counter

	// Mixtures, by split
	MixturesWritten *prometheus.CounterVec
	BatchesWritten  *prometheus.CounterVec
	EpochsEnded     *prometheus.CounterVec
	ItemsDropped    *prometheus.CounterVec

	BuildDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "mixprep_files_stored_total",
			Help: "Total number of recordings decoded and stored",
		}),
		SamplesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "mixprep_samples_stored_total",
			Help: "Total number of resampled samples stored",
		}),
		FilesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mixprep_files_skipped_total",
			Help: "Total number of recordings too short to hold a sample after resampling",
		}),
		MixturesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixprep_mixtures_written_total",
			Help: "Total number of mixtures written",
		}, []string{"split"}),
		BatchesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixprep_batches_written_total",
			Help: "Total number of batches written",
		}, []string{"split"}),
		EpochsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixprep_epochs_ended_total",
			Help: "Total number of sessions ended, by reason",
		}, []string{"split", "reason"}),
		ItemsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixprep_items_dropped_total",
			Help: "Total number of items dropped to balance the sexes of a split",
		}, []string{"split"}),
		BuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mixprep_build_duration_seconds",
			Help:    "Duration of builds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1s to ~4.5 hours
		}, []string{"stage"}),
	}
}

// Handler serves the metrics of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
