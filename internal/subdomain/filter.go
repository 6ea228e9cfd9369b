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

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
	"golang.org/x/net/idna"
)

// ErrInvalidRoot is returned by NewFilter for entries that are not registrable domains.
var ErrInvalidRoot = errors.New("invalid root domain")

// Filter is the immutable set of root domains the operator asked for.
// A nil or empty Filter means global mode.
type Filter map[string]struct{}

// NewFilter builds a Filter from roots. Entries may be comma separated; they are
// trimmed, lower-cased, stripped of trailing dots and converted to their ASCII
// (punycode) form. Every entry must be exactly an eTLD+1 under the ICANN list
// ("example.com", "tesco.co.uk", "github.io"), not a subdomain and not a bare suffix.
func NewFilter(roots ...string) (Filter, error) {
	f := make(Filter)
	for _, arg := range roots {
		for _, r := range strings.Split(arg, ",") {
			r = strings.ToLower(strings.TrimRight(strings.TrimSpace(r), "."))
			if r == "" {
				continue
			}
			ascii, err := idna.Lookup.ToASCII(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRoot, r, err)
			}
			r = ascii
			etld1, err := publicsuffix.DomainFromListWithOptions(publicsuffix.DefaultList, r, icannOnly)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRoot, r, err)
			}
			if etld1 != r {
				return nil, fmt.Errorf("%w: %q is not a registrable domain (did you mean %q?)", ErrInvalidRoot, r, etld1)
			}
			f[r] = struct{}{}
		}
	}
	if len(f) == 0 {
		return nil, nil
	}
	return f, nil
}

// Active reports whether filtered mode is on.
func (f Filter) Active() bool {
	return len(f) > 0
}

// Contains reports whether root is one of the requested roots. Comparison is case-insensitive.
func (f Filter) Contains(root string) bool {
	if len(f) == 0 {
		return false
	}
	_, ok := f[strings.ToLower(root)]
	return ok
}

// Roots returns the filter entries sorted, for logging.
func (f Filter) Roots() []string {
	out := make([]string, 0, len(f))
	for r := range f {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
