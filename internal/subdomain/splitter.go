/*
Package subdomain turns a raw certificate name into the candidate label that is
judged for noise and counted.

A name is split into (subdomain, domain, suffix) against the public suffix list,
the root domain is rebuilt as domain + "." + suffix, and the optional root filter
decides both whether the name is considered at all and which part of it becomes
the label.
*/
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
	"net/netip"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// ErrUnsplittable is returned when a name has no registrable domain.
var ErrUnsplittable = errors.New("name cannot be split")

// Parts holds the three components of a split name. Subdomain may be empty.
type Parts struct {
	Subdomain string
	Domain    string
	Suffix    string
}

// Root returns the registrable domain, e.g. "example.co.uk".
func (p Parts) Root() string {
	return p.Domain + "." + p.Suffix
}

// Splitter splits a domain name into its parts.
type Splitter interface {
	Split(name string) (Parts, error)
}

// icannOnly matches names against the ICANN section of the list only, so
// "foo.github.io" splits into foo / github / io. Unlisted TLDs fall back to the last label.
var icannOnly = &publicsuffix.FindOptions{IgnorePrivate: true, DefaultRule: publicsuffix.DefaultRule}

// PublicSuffixSplitter splits names with the compiled-in public suffix list
// from github.com/weppos/publicsuffix-go, ignoring privately registered suffixes.
type PublicSuffixSplitter struct{}

// Split implements Splitter. Lookup is case-insensitive but the returned parts
// keep the case of the input whenever lowering does not change its length.
func (PublicSuffixSplitter) Split(name string) (Parts, error) {
	if name == "" {
		return Parts{}, fmt.Errorf("%w: empty name", ErrUnsplittable)
	}
	if _, err := netip.ParseAddr(strings.Trim(name, "[]")); err == nil {
		return Parts{}, fmt.Errorf("%w: %q is an IP address", ErrUnsplittable, name)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return Parts{}, fmt.Errorf("%w: %q has an empty label", ErrUnsplittable, name)
	}

	lower := strings.ToLower(name)
	src := name
	if len(lower) != len(name) {
		src = lower
	}

	dn, err := publicsuffix.ParseFromListWithOptions(publicsuffix.DefaultList, lower, icannOnly)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: %q: %v", ErrUnsplittable, name, err)
	}
	if dn.SLD == "" {
		return Parts{}, fmt.Errorf("%w: %q is a public suffix", ErrUnsplittable, name)
	}

	// The parts are suffixes of lower, so their lengths index into src too.
	suffixStart := len(src) - len(dn.TLD)
	rootStart := suffixStart - 1 - len(dn.SLD)
	p := Parts{
		Domain: src[rootStart : suffixStart-1],
		Suffix: src[suffixStart:],
	}
	if rootStart > 0 {
		p.Subdomain = src[:rootStart-1]
	}
	return p, nil
}
