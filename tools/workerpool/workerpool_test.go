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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerpool(t *testing.T) {
	for _, tc := range []struct {
		concurrency int
		wantMax     int64
	}{
		{concurrency: 3, wantMax: 3},
		{concurrency: 1, wantMax: 1},
	} {
		wp := New(context.Background(), tc.concurrency)
		var running, maxRunning, ran int64
		mutex := &sync.Mutex{}
		for j := 0; j < 50; j++ {
			wp.Go(func(context.Context) error {
				now := atomic.AddInt64(&running, 1)
				mutex.Lock()
				if now > maxRunning {
					maxRunning = now
				}
				mutex.Unlock()
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&running, -1)
				atomic.AddInt64(&ran, 1)
				return nil
			})
		}
		if err := wp.Wait(); err != nil {
			t.Errorf("Wait() returned %v", err)
		}
		if ran != 50 {
			t.Errorf("%d of 50 jobs ran", ran)
		}
		if maxRunning > tc.wantMax {
			t.Errorf("New(%d) ran %d jobs at once", tc.concurrency, maxRunning)
		}
	}
}

func TestUnlimitedWorkerpool(t *testing.T) {
	wp := New(context.Background(), 0)
	release := make(chan struct{})
	var started int64
	for j := 0; j < 20; j++ {
		wp.Go(func(context.Context) error {
			atomic.AddInt64(&started, 1)
			<-release
			return nil
		})
	}
	for atomic.LoadInt64(&started) < 20 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	if err := wp.Wait(); err != nil {
		t.Errorf("Wait() returned %v", err)
	}
}

func TestWorkerpoolErrors(t *testing.T) {
	errBoom := errors.New("boom")
	wp := New(context.Background(), 1)
	wp.Go(func(context.Context) error { return errBoom })
	var skipped int64 = 1
	wp.Go(func(ctx context.Context) error {
		atomic.StoreInt64(&skipped, 0)
		return nil
	})
	err := wp.Wait()
	var me MultiErr
	if !errors.As(err, &me) || len(me) != 1 {
		t.Fatalf("Wait() returned %v, wanted one error", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Wait() returned %v, wanted it to contain %v", err, errBoom)
	}
	if atomic.LoadInt64(&skipped) != 1 {
		t.Errorf("a job queued after a failure ran")
	}
}
