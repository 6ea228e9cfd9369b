package subdomain

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

import "strings"

// Result is the outcome of decomposing one name.
// Label is only meaningful when Include is true.
type Result struct {
	Root    string
	Label   string
	Include bool
}

// Decomposer derives candidate labels. It holds no mutable state and is safe for concurrent use.
type Decomposer struct {
	splitter Splitter
	filter   Filter
}

// NewDecomposer returns a Decomposer. A nil splitter selects PublicSuffixSplitter.
func NewDecomposer(splitter Splitter, filter Filter) *Decomposer {
	if splitter == nil {
		splitter = PublicSuffixSplitter{}
	}
	return &Decomposer{splitter: splitter, filter: filter}
}

// Filter returns the root filter in use.
func (d *Decomposer) Filter() Filter {
	return d.filter
}

// Decompose splits raw and picks its candidate label.
//
// In filtered mode the label is the whole raw name, so multi-level names under a
// requested root are kept with their full context. In global mode the label is
// the left-most segment of the subdomain part ("www.testing.box" -> "www").
// Names outside the filter, and names whose label comes out empty, yield Include=false.
func (d *Decomposer) Decompose(raw string) (Result, error) {
	parts, err := d.splitter.Split(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Root: parts.Root()}
	if d.filter.Active() && !d.filter.Contains(res.Root) {
		return res, nil
	}

	if d.filter.Active() {
		res.Label = raw
	} else {
		res.Label = parts.Subdomain
		if i := strings.IndexByte(res.Label, '.'); i >= 0 {
			res.Label = res.Label[:i]
		}
	}
	res.Include = res.Label != ""
	return res, nil
}
