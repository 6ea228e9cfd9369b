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
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

type backend struct {
	name string
	open func(t *testing.T) Ledger
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Ledger { return NewMemory() }},
		{"sqlite", func(t *testing.T) Ledger {
			l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "subdomains.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return l
		}},
		{"badger", func(t *testing.T) Ledger {
			l, err := OpenBadger(BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")})
			if err != nil {
				t.Fatalf("OpenBadger: %v", err)
			}
			return l
		}},
	}
}

func TestObserveCounts(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			l := b.open(t)
			defer l.Close()
			ctx := context.Background()

			obs, err := l.Observe(ctx, "api")
			if err != nil {
				t.Fatalf("Observe: %v", err)
			}
			if !obs.IsNew || obs.Count != 1 {
				t.Fatalf("first observe = %+v; want new with count 1", obs)
			}
			for want := int64(2); want <= 5; want++ {
				obs, err = l.Observe(ctx, "api")
				if err != nil {
					t.Fatalf("Observe: %v", err)
				}
				if obs.IsNew || obs.Count != want {
					t.Fatalf("observe #%d = %+v; want count %d, not new", want, obs, want)
				}
			}

			// Labels are case-sensitive keys.
			obs, err = l.Observe(ctx, "API")
			if err != nil || !obs.IsNew {
				t.Fatalf("Observe(API) = %+v, %v; want new", obs, err)
			}

			n, err := l.Len(ctx)
			if err != nil || n != 2 {
				t.Fatalf("Len = %d, %v; want 2", n, err)
			}
		})
	}
}

func TestExportSortedDescending(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			l := b.open(t)
			defer l.Close()
			ctx := context.Background()

			observe := func(label string, n int) {
				for i := 0; i < n; i++ {
					if _, err := l.Observe(ctx, label); err != nil {
						t.Fatalf("Observe(%s): %v", label, err)
					}
				}
			}
			observe("a", 3)
			observe("b", 1)
			observe("c", 5)

			entries, err := l.Export(ctx)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			want := []Entry{{"c", 5}, {"a", 3}, {"b", 1}}
			if len(entries) != len(want) {
				t.Fatalf("Export = %v; want %v", entries, want)
			}
			for i := range want {
				if entries[i] != want[i] {
					t.Fatalf("Export = %v; want %v", entries, want)
				}
			}
		})
	}
}

func TestExportEmpty(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			l := b.open(t)
			defer l.Close()
			entries, err := l.Export(context.Background())
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("Export = %v; want empty", entries)
			}
		})
	}
}

func TestConcurrentObserveSameLabel(t *testing.T) {
	t.Parallel()
	const goroutines, perG = 8, 50
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			l := b.open(t)
			defer l.Close()
			ctx := context.Background()

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				seen   = make(map[int64]bool)
				newCnt int
			)
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perG; i++ {
						obs, err := l.Observe(ctx, "shared")
						if err != nil {
							t.Errorf("Observe: %v", err)
							return
						}
						mu.Lock()
						if seen[obs.Count] {
							t.Errorf("count %d returned twice", obs.Count)
						}
						seen[obs.Count] = true
						if obs.IsNew {
							newCnt++
						}
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if newCnt != 1 {
				t.Fatalf("IsNew reported %d times; want 1", newCnt)
			}
			entries, err := l.Export(ctx)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if len(entries) != 1 || entries[0].Count != goroutines*perG {
				t.Fatalf("Export = %v; want shared=%d", entries, goroutines*perG)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subdomains.db")

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := l.Observe(ctx, "vpn"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	obs, err := l.Observe(ctx, "vpn")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.IsNew || obs.Count != 2 {
		t.Fatalf("after reopen = %+v; want count 2", obs)
	}
}

func TestSQLiteUpgradesLegacyTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subdomains.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE subdomains (
    id        INTEGER PRIMARY KEY,
    subdomain TEXT,
    count     INTEGER
);
INSERT INTO subdomains (subdomain, count) VALUES ('mail', 7);`)
	if err != nil {
		db.Close()
		t.Fatalf("create legacy table: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close legacy db: %v", err)
	}

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite on legacy table: %v", err)
	}
	defer l.Close()

	obs, err := l.Observe(ctx, "mail")
	if err != nil {
		t.Fatalf("Observe existing: %v", err)
	}
	if obs.IsNew || obs.Count != 8 {
		t.Fatalf("Observe(mail) = %+v; want count 8", obs)
	}
	for want := int64(1); want <= 2; want++ {
		obs, err = l.Observe(ctx, "vpn")
		if err != nil {
			t.Fatalf("Observe new: %v", err)
		}
		if obs.Count != want {
			t.Fatalf("Observe(vpn) #%d = %+v; want count %d", want, obs, want)
		}
	}
}

func TestClosedLedgerIsUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "subdomains.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	l.Close()
	if _, err := l.Observe(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("sqlite Observe after Close error = %v; want ErrUnavailable", err)
	}

	m := NewMemory()
	m.Close()
	if _, err := m.Observe(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("memory Observe after Close error = %v; want ErrUnavailable", err)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	l.Close()

	l, err = Open(ctx, Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	if _, ok := l.(*SQLite); !ok {
		t.Fatalf("default driver = %T; want *SQLite", l)
	}
	l.Close()

	if _, err := Open(ctx, Config{Driver: "redis"}); err == nil {
		t.Fatalf("Open(redis) should fail")
	}
}
