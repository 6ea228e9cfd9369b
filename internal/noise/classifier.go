package noise

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
	"regexp"
	"strings"
)

// ErrInvalidRule is returned by New when a rule cannot be used (bad regexp, empty expression, unknown kind).
var ErrInvalidRule = errors.New("invalid ignore rule")

type compiledPattern struct {
	rule Rule
	re   *regexp.Regexp
}

// Classifier evaluates labels against an immutable rule table.
// Hot Path: IsNoise runs once per name in every certificate; it does not allocate.
type Classifier struct {
	literals []Rule
	patterns []compiledPattern
}

// New compiles rules into a Classifier. Patterns are compiled here, once, never per event.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for _, r := range rules {
		if r.Expr == "" {
			return nil, fmt.Errorf("%w: empty %s expression", ErrInvalidRule, r.Kind)
		}
		switch r.Kind {
		case Literal:
			c.literals = append(c.literals, r)
		case Pattern:
			re, err := regexp.Compile(r.Expr)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, r.Expr, err)
			}
			c.patterns = append(c.patterns, compiledPattern{rule: r, re: re})
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidRule, r.Kind)
		}
	}
	return c, nil
}

// MustDefault returns a Classifier over DefaultRules. The defaults are known-good, so it panics on error.
func MustDefault() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// IsNoise reports whether label matches any literal or pattern rule.
func (c *Classifier) IsNoise(label string) bool {
	_, ok := c.Match(label)
	return ok
}

// Match returns the first rule matching label. Literals are checked before patterns.
func (c *Classifier) Match(label string) (Rule, bool) {
	for _, l := range c.literals {
		if strings.Contains(label, l.Expr) {
			return l, true
		}
	}
	for _, p := range c.patterns {
		if p.re.MatchString(label) {
			return p.rule, true
		}
	}
	return Rule{}, false
}

// Rules returns the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, 0, len(c.literals)+len(c.patterns))
	out = append(out, c.literals...)
	for _, p := range c.patterns {
		out = append(out, p.rule)
	}
	return out
}
