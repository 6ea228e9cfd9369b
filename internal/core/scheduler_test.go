package core

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerSameKeyIsSerialized(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 8})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var (
		inFlight atomic.Int32
		overlaps atomic.Int32
		order    []int
		mu       sync.Mutex
	)
	for i := 0; i < 200; i++ {
		i := i
		err := s.SubmitWork(context.Background(), "same-label", func(item *WorkItem) error {
			if inFlight.Add(1) > 1 {
				overlaps.Add(1)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatalf("SubmitWork: %v", err)
		}
	}
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if overlaps.Load() != 0 {
		t.Fatalf("same key ran concurrently %d times", overlaps.Load())
	}
	if len(order) != 200 {
		t.Fatalf("ran %d items; want 200", len(order))
	}
	for i := range order {
		if order[i] != i {
			t.Fatalf("items for one key ran out of order at %d: %d", i, order[i])
		}
	}
}

func TestSchedulerDrainRunsQueuedWork(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 2, QueueCapacity: 64})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var ran atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		if err := s.SubmitWork(context.Background(), key, func(item *WorkItem) error {
			<-release
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("SubmitWork: %v", err)
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- s.Drain(context.Background()) }()

	// Drain must be waiting on the blocked items, and must refuse new work.
	time.Sleep(20 * time.Millisecond)
	if err := s.SubmitWork(context.Background(), "x", func(*WorkItem) error { return nil }); !errors.Is(err, ErrWorkerShutdown) {
		t.Fatalf("SubmitWork during drain error = %v; want ErrWorkerShutdown", err)
	}
	close(release)

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Drain did not return")
	}
	if ran.Load() != 50 {
		t.Fatalf("ran %d items; want 50", ran.Load())
	}
}

func TestSchedulerSurvivesParentCancel(t *testing.T) {
	t.Parallel()
	parent, cancel := context.WithCancel(context.Background())
	s, err := NewScheduler(parent, SchedulerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var ran atomic.Int32
	gate := make(chan struct{})
	for i := 0; i < 5; i++ {
		if err := s.SubmitWork(parent, "k", func(*WorkItem) error {
			<-gate
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("SubmitWork: %v", err)
		}
	}
	cancel()
	close(gate)

	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if ran.Load() != 5 {
		t.Fatalf("ran %d items after parent cancel; want 5", ran.Load())
	}
}

func TestTrySubmitQueueFull(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 1, QueueCapacity: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	// First item occupies the worker, second fills the queue.
	if err := s.TrySubmit(context.Background(), "k", func(*WorkItem) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("TrySubmit #1: %v", err)
	}
	<-started
	if err := s.TrySubmit(context.Background(), "k", func(*WorkItem) error { return nil }); err != nil {
		t.Fatalf("TrySubmit #2: %v", err)
	}

	err = s.TrySubmit(context.Background(), "k", func(*WorkItem) error { return nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("TrySubmit #3 error = %v; want ErrQueueFull", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("ErrQueueFull should be retryable")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.SubmitWork(ctx, "k", func(*WorkItem) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocking SubmitWork error = %v; want deadline exceeded", err)
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var after atomic.Bool
	s.SubmitWork(context.Background(), "k", func(*WorkItem) error { panic("boom") })
	s.SubmitWork(context.Background(), "k", func(*WorkItem) error { return errors.New("plain failure") })
	s.SubmitWork(context.Background(), "k", func(*WorkItem) error { after.Store(true); return nil })
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if !after.Load() {
		t.Fatalf("worker stopped after a panic")
	}
	st := s.Stats()[0]
	if st.Panics != 1 || st.Failed != 1 || st.Processed != 1 {
		t.Fatalf("worker stats = %+v; want 1 panic, 1 failure, 1 processed", st)
	}
}

func TestSchedulerRecordsQueueWait(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	started := make(chan struct{})
	s.SubmitWork(context.Background(), "k", func(*WorkItem) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	<-started
	// Queued behind the sleeping item.
	s.SubmitWork(context.Background(), "k", func(*WorkItem) error { return nil })
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	st := s.Stats()[0]
	if st.Processed != 2 {
		t.Fatalf("Processed = %d; want 2", st.Processed)
	}
	if st.MaxWait < 20*time.Millisecond {
		t.Fatalf("MaxWait = %s; want at least 20ms", st.MaxWait)
	}
}

func TestSummarizeWorkers(t *testing.T) {
	t.Parallel()
	if got := SummarizeWorkers(nil); got != "workers=0" {
		t.Fatalf("SummarizeWorkers(nil) = %q", got)
	}
	got := SummarizeWorkers([]WorkerStats{
		{ID: 0, Queued: 2, Processed: 10, Failed: 1, MaxWait: time.Millisecond},
		{ID: 1, Queued: 7, Processed: 5, Panics: 1, MaxWait: 3 * time.Millisecond},
		{ID: 2, Queued: 7, Processed: 1},
	})
	want := "workers=3 queued=16 processed=16 failed=1 panics=1 max_wait=3ms busiest=#1(7)"
	if got != want {
		t.Fatalf("SummarizeWorkers = %q; want %q", got, want)
	}
}

func TestNewSchedulerLimits(t *testing.T) {
	t.Parallel()
	if _, err := NewScheduler(context.Background(), SchedulerConfig{Workers: MaxWorkers + 1}); err == nil {
		t.Fatalf("expected error above MaxWorkers")
	}
	s, err := NewScheduler(context.Background(), SchedulerConfig{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()
	if s.NumWorkers() < 1 {
		t.Fatalf("NumWorkers = %d", s.NumWorkers())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(context.Background(), SchedulerConfig{Workers: 2})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Shutdown()
	s.Shutdown()
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain after Shutdown: %v", err)
	}
	if err := s.TrySubmit(context.Background(), "k", func(*WorkItem) error { return nil }); !errors.Is(err, ErrWorkerShutdown) {
		t.Fatalf("TrySubmit after Shutdown error = %v; want ErrWorkerShutdown", err)
	}
}
