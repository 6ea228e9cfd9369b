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
	"sort"
	"sync"
)

type memEntry struct {
	count int64
	seq   int64
}

// Memory is a non-persistent ledger. Ties in Export keep first-seen order.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	nextSeq int64
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memEntry)}
}

func (m *Memory) Observe(_ context.Context, label string) (Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Observation{}, unavailable("observe", errClosed)
	}

	e, ok := m.entries[label]
	if !ok {
		m.entries[label] = &memEntry{count: 1, seq: m.nextSeq}
		m.nextSeq++
		return Observation{IsNew: true, Count: 1}, nil
	}
	e.count++
	return Observation{Count: e.count}, nil
}

func (m *Memory) Export(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	type row struct {
		Entry
		seq int64
	}
	rows := make([]row, 0, len(m.entries))
	for label, e := range m.entries {
		rows = append(rows, row{Entry{Label: label, Count: e.count}, e.seq})
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]Entry, len(rows))
	for i := range rows {
		out[i] = rows[i].Entry
	}
	return out, nil
}

func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
