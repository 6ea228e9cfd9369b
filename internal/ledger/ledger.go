/*
Package ledger persists the popularity count of every label that cleared the
noise classifier. Three backends share one interface: sqlite (default), badger
and an in-memory map for dry runs and tests.

Every backend makes Observe linearizable per label: the read, the increment and
the write happen as a single atomic step in the store, so concurrent callers can
never lose an increment.
*/
package ledger

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
	"fmt"
)

// ErrUnavailable wraps every storage fault surfaced by a Ledger.
var ErrUnavailable = errors.New("ledger unavailable")

var errClosed = errors.New("ledger closed")

// Observation is the result of counting one label.
type Observation struct {
	IsNew bool
	Count int64
}

// Entry is one exported ledger row.
type Entry struct {
	Label string
	Count int64
}

// Ledger maps label -> observation count.
type Ledger interface {
	// Observe inserts label with count 1, or increments its count, and returns the post-increment state.
	Observe(ctx context.Context, label string) (Observation, error)
	// Export returns all entries ordered by count descending. Ties keep a stable backend-defined order.
	Export(ctx context.Context) ([]Entry, error)
	// Len returns the number of distinct labels.
	Len(ctx context.Context) (int64, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	// Path is the sqlite file or the badger directory. Ignored for memory.
	Path string
}

// Open returns the backend named by cfg.Driver. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case DriverBadger:
		return OpenBadger(BadgerConfig{Path: cfg.Path})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
