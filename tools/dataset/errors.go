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
package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrEpochExhausted is returned by a Session when its working pool can't supply another
	// full batch. It ends the epoch and is not a failure.
	ErrEpochExhausted = errors.New("dataset: epoch exhausted")
	// ErrBatchLimit is returned by a Session that has emitted Config.MaxBatches batches.
	ErrBatchLimit = errors.New("dataset: batch limit reached")
)

// IsEndOfEpoch returns whether err is one of the signals that end a Session normally.
func IsEndOfEpoch(err error) bool {
	return errors.Is(err, ErrEpochExhausted) || errors.Is(err, ErrBatchLimit)
}

// ConfigurationError is returned by New when the configuration can't produce a dataset.
type ConfigurationError struct {
	// Field is the configuration field at fault.
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("dataset: invalid %v: %v", c.Field, c.Reason)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StoreAccessError is returned when the audio of an item can't be read.
type StoreAccessError struct {
	Item Item
	Err  error
}

func (s *StoreAccessError) Error() string {
	return fmt.Sprintf("dataset: reading %v: %v", s.Item, s.Err)
}

func (s *StoreAccessError) Unwrap() error {
	return s.Err
}

func errShortRead(got, want int) error {
	return fmt.Errorf("read %d samples, wanted %d", got, want)
}
