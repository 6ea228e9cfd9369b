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
	"time"
)

const (
	// WorkerQueueCapacity is the capacity of a worker's queue
	WorkerQueueCapacity = 1000

	// MaxWorkers caps the worker count regardless of configuration.
	MaxWorkers = 256

	// MilestoneInterval: a repeat observation whose count is a multiple of this emits a milestone notice.
	MilestoneInterval = 50

	// StatsReportInterval is the default period of the stats log line when enabled.
	StatsReportInterval = 30 * time.Second
)

// WorkItem represents a unit of work routed to a worker by Key.
// It is pooled via sync.Pool to reduce allocations in the hot path.
type WorkItem struct {
	Key       string          // Used for sharding work across workers.
	Callback  WorkCallback    // Function to execute for this work item.
	Ctx       context.Context // Context of the submitter.
	CreatedAt time.Time       // Set on submit; queue wait is measured from here.
}

// WorkCallback is the function signature for work item callbacks
type WorkCallback func(item *WorkItem) error
