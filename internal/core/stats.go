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
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// DispatcherStats uses atomic counters for safe concurrent updates from workers.
type DispatcherStats struct {
	Events       atomic.Int64
	Heartbeats   atomic.Int64
	Updates      atomic.Int64
	Other        atomic.Int64
	Names        atomic.Int64
	Excluded     atomic.Int64
	SplitErrors  atomic.Int64
	Noise        atomic.Int64
	Observed     atomic.Int64
	NewLabels    atomic.Int64
	Milestones   atomic.Int64
	LedgerErrors atomic.Int64
	Dropped      atomic.Int64
	Busy         atomic.Int64 // subset of Dropped shed because a queue was full
	StartTime    time.Time
}

// StatsSnapshot is a point-in-time copy of DispatcherStats.
type StatsSnapshot struct {
	Events       int64
	Heartbeats   int64
	Updates      int64
	Other        int64
	Names        int64
	Excluded     int64
	SplitErrors  int64
	Noise        int64
	Observed     int64
	NewLabels    int64
	Milestones   int64
	LedgerErrors int64
	Dropped      int64
	Busy         int64
	Uptime       time.Duration
}

// Snapshot copies the counters.
func (s *DispatcherStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Events:       s.Events.Load(),
		Heartbeats:   s.Heartbeats.Load(),
		Updates:      s.Updates.Load(),
		Other:        s.Other.Load(),
		Names:        s.Names.Load(),
		Excluded:     s.Excluded.Load(),
		SplitErrors:  s.SplitErrors.Load(),
		Noise:        s.Noise.Load(),
		Observed:     s.Observed.Load(),
		NewLabels:    s.NewLabels.Load(),
		Milestones:   s.Milestones.Load(),
		LedgerErrors: s.LedgerErrors.Load(),
		Dropped:      s.Dropped.Load(),
		Busy:         s.Busy.Load(),
		Uptime:       time.Since(s.StartTime),
	}
}

// String renders the snapshot as a single log line.
func (s StatsSnapshot) String() string {
	rate := 0.0
	if secs := s.Uptime.Seconds(); secs > 0 {
		rate = float64(s.Updates) / secs
	}
	return fmt.Sprintf("certs=%d (%.1f/s) heartbeats=%d names=%d excluded=%d noise=%d observed=%d new=%d milestones=%d split_errors=%d ledger_errors=%d dropped=%d (busy=%d) uptime=%s",
		s.Updates, rate, s.Heartbeats, s.Names, s.Excluded, s.Noise, s.Observed,
		s.NewLabels, s.Milestones, s.SplitErrors, s.LedgerErrors, s.Dropped, s.Busy, s.Uptime.Truncate(time.Second))
}

// SummarizeWorkers folds per-worker counters into one log fragment. The busiest
// worker is the one with the deepest queue, ties going to the lower id.
func SummarizeWorkers(ws []WorkerStats) string {
	if len(ws) == 0 {
		return "workers=0"
	}
	queued := 0
	var processed, failed, panics int64
	var maxWait time.Duration
	busiest := ws[0]
	for _, w := range ws {
		queued += w.Queued
		processed += w.Processed
		failed += w.Failed
		panics += w.Panics
		if w.MaxWait > maxWait {
			maxWait = w.MaxWait
		}
		if w.Queued > busiest.Queued {
			busiest = w
		}
	}
	return fmt.Sprintf("workers=%d queued=%d processed=%d failed=%d panics=%d max_wait=%s busiest=#%d(%d)",
		len(ws), queued, processed, failed, panics, maxWait.Round(time.Microsecond), busiest.ID, busiest.Queued)
}

// ReportStats logs a snapshot every interval until ctx is done. A non-positive interval disables it.
// When sched is non-nil the line also carries the worker summary.
func ReportStats(ctx context.Context, stats *DispatcherStats, sched *Scheduler, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sched != nil {
				log.Printf("Stats: %s %s", stats.Snapshot(), SummarizeWorkers(sched.Stats()))
			} else {
				log.Printf("Stats: %s", stats.Snapshot())
			}
		}
	}
}
