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
	"fmt"
	"io"
	"os"
	"sync"
)

// Notifier receives the user-visible notices of the pipeline.
// Implementations must be safe for concurrent use; workers call them in parallel.
type Notifier interface {
	NewLabel(label string)
	Milestone(label string, count int64)
}

// ConsoleNotifier prints notices one per line:
//
//	[+] api
//	[#] api (seen 50 times)
type ConsoleNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleNotifier writes to w, or to stdout when w is nil.
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleNotifier{w: w}
}

func (n *ConsoleNotifier) NewLabel(label string) {
	n.mu.Lock()
	fmt.Fprintf(n.w, "[+] %s\n", label)
	n.mu.Unlock()
}

func (n *ConsoleNotifier) Milestone(label string, count int64) {
	n.mu.Lock()
	fmt.Fprintf(n.w, "[#] %s (seen %d times)\n", label, count)
	n.mu.Unlock()
}
