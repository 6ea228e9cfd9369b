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
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "label/"

// maxConflictRetries bounds the optimistic-transaction retry loop in Observe.
const maxConflictRetries = 100

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Path           string
	GCInterval     time.Duration
	GCDiscardRatio float64
	// InMemory runs badger without touching disk (tests).
	InMemory bool
}

// Badger stores counts as 8-byte big-endian values under "label/<label>".
type Badger struct {
	db     *badger.DB
	config BadgerConfig
	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens the badger directory and starts value-log GC in the background.
func OpenBadger(config BadgerConfig) (*Badger, error) {
	if config.GCInterval == 0 {
		config.GCInterval = 10 * time.Minute
	}
	if config.GCDiscardRatio == 0 {
		config.GCDiscardRatio = 0.5
	}
	if config.Path == "" && !config.InMemory {
		config.Path = "subdomains.badger"
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, unavailable("open badger", err)
	}

	b := &Badger{
		db:     db,
		config: config,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	go b.runGC()
	return b, nil
}

// Observe increments inside one Update transaction; conflicting writers are retried.
func (b *Badger) Observe(ctx context.Context, label string) (Observation, error) {
	key := []byte(badgerPrefix + label)
	var obs Observation

	for attempt := 0; ; attempt++ {
		err := b.db.Update(func(txn *badger.Txn) error {
			var count uint64
			item, err := txn.Get(key)
			switch {
			case err == nil:
				if err := item.Value(func(v []byte) error {
					if len(v) != 8 {
						return fmt.Errorf("corrupt counter for %q: %d bytes", label, len(v))
					}
					count = binary.BigEndian.Uint64(v)
					return nil
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
			default:
				return err
			}

			count++
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, count)
			if err := txn.Set(key, buf); err != nil {
				return err
			}
			obs = Observation{IsNew: count == 1, Count: int64(count)}
			return nil
		})
		if err == nil {
			return obs, nil
		}
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return Observation{}, unavailable("observe", err)
		}
		if ctx.Err() != nil {
			return Observation{}, unavailable("observe", ctx.Err())
		}
	}
}

// Export scans the label prefix and sorts by count desc, label asc.
func (b *Badger) Export(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var count uint64
			if err := item.Value(func(v []byte) error {
				if len(v) == 8 {
					count = binary.BigEndian.Uint64(v)
				}
				return nil
			}); err != nil {
				return err
			}
			out = append(out, Entry{
				Label: string(item.Key()[len(prefix):]),
				Count: int64(count),
			})
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("export", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (b *Badger) Len(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (b *Badger) Close() error {
	close(b.stopGC)
	<-b.gcDone
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger ledger: %w", err)
	}
	return nil
}

func (b *Badger) runGC() {
	defer close(b.gcDone)
	ticker := time.NewTicker(b.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.performGC()
		case <-b.stopGC:
			return
		}
	}
}

func (b *Badger) performGC() {
	if b.config.InMemory {
		return
	}
	cycles := 0
	for {
		err := b.db.RunValueLogGC(b.config.GCDiscardRatio)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				log.Printf("Badger GC error after %d cycles: %v", cycles, err)
			}
			return
		}
		cycles++
	}
}
