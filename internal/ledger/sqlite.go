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
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver, registers "sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subdomains (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    subdomain TEXT NOT NULL UNIQUE,
    count     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_subdomains_subdomain ON subdomains (subdomain);
CREATE INDEX IF NOT EXISTS idx_subdomains_count ON subdomains (count);
`

const sqliteObserve = `
INSERT INTO subdomains (subdomain, count) VALUES (?, 1)
ON CONFLICT(subdomain) DO UPDATE SET count = count + 1
RETURNING count`

// SQLite is the default, file-backed ledger. Tables written by earlier versions
// of the tool carry no UNIQUE constraint on subdomain; the schema adds a unique
// index so the upsert's conflict target exists for them too.
type SQLite struct {
	db      *sql.DB
	observe *sql.Stmt
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "subdomains.db"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}

	// SQLite works best with a single connection for writes
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable("create schema", err)
	}

	stmt, err := db.PrepareContext(ctx, sqliteObserve)
	if err != nil {
		db.Close()
		return nil, unavailable("prepare observe", err)
	}

	return &SQLite{db: db, observe: stmt}, nil
}

// Observe runs a single upsert; sqlite serializes writers, so the increment is atomic.
func (s *SQLite) Observe(ctx context.Context, label string) (Observation, error) {
	var count int64
	if err := s.observe.QueryRowContext(ctx, label).Scan(&count); err != nil {
		return Observation{}, unavailable("observe", err)
	}
	return Observation{IsNew: count == 1, Count: count}, nil
}

// Export orders by count and then by row id, i.e. first-seen order for ties.
func (s *SQLite) Export(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subdomain, count FROM subdomains ORDER BY count DESC, id ASC`)
	if err != nil {
		return nil, unavailable("export", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Label, &e.Count); err != nil {
			return nil, unavailable("scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("export", err)
	}
	return out, nil
}

func (s *SQLite) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subdomains`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	if s.observe != nil {
		s.observe.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite ledger: %w", err)
	}
	return nil
}
