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
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.MixturesWritten.WithLabelValues("train").Add(3)
	m.MixturesWritten.WithLabelValues("test").Inc()
	m.FilesStored.Inc()
	if got := testutil.ToFloat64(m.MixturesWritten.WithLabelValues("train")); got != 3 {
		t.Errorf("train mixtures is %v, wanted 3", got)
	}
	if got := testutil.ToFloat64(m.FilesStored); got != 1 {
		t.Errorf("stored files is %v, wanted 1", got)
	}

	server := httptest.NewServer(Handler(reg))
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if want := `mixprep_mixtures_written_total{split="test"} 1`; !strings.Contains(string(body), want) {
		t.Errorf("%q is missing from %s", want, body)
	}
}

func TestRegisteringTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Errorf("registering the metrics twice didn't panic")
		}
	}()
	New(reg)
}
