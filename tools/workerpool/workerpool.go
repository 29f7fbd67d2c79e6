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
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiErr contains multiple errors.
type MultiErr []error

// Error returns a string representation of the multi error.
func (m MultiErr) Error() string {
	return fmt.Sprint([]error(m))
}

// Is reports whether any of the errors matches target.
func (m MultiErr) Is(target error) bool {
	for _, err := range m {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Job is a unit of work. The context is cancelled once any job of the pool has failed.
type Job func(ctx context.Context) error

// WorkerPool runs a limited number of error handling goroutines concurrently.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Job
	errors chan error
}

// Go will run the job, blocking while the pool is at its concurrency limit. Jobs submitted after a
// failure are skipped. Go must not be called after Wait.
func (w *WorkerPool) Go(job Job) {
	w.queue <- job
}

// Wait stops accepting jobs, and waits for all submitted jobs to finish and returns the errors.
func (w *WorkerPool) Wait() error {
	close(w.queue)
	me := MultiErr{}
	for err := range w.errors {
		if err != nil {
			me = append(me, err)
		}
	}
	w.cancel()
	if len(me) == 0 {
		return nil
	}
	return me
}

// New returns a new worker pool running at most concurrency jobs at once, or any number of
// jobs if concurrency is not positive.
func New(ctx context.Context, concurrency int) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	w := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan Job),
		errors: make(chan error),
	}

	go func() {
		wg := &sync.WaitGroup{}
		tickets := make(chan struct{}, concurrency)
		for job := range w.queue {
			if concurrency > 0 {
				tickets <- struct{}{}
			}
			wg.Add(1)
			go func() {
				var err error
				if w.ctx.Err() == nil {
					if err = job(w.ctx); err != nil {
						w.cancel()
					}
				}
				if concurrency > 0 {
					<-tickets
				}
				w.errors <- err
				wg.Done()
			}()
		}
		wg.Wait()
		close(w.errors)
	}()
	return w
}
