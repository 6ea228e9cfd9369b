/*
Package noise decides whether a candidate subdomain label is infrastructure noise:
names generated by cloud tooling, device fleets or CDNs rather than chosen by a human.

A label is noise when it contains any Literal rule as a substring or when any Pattern
rule matches somewhere inside it. The rule table is built once at startup and is
read-only afterwards, so a Classifier can be shared by every worker without locking.
*/
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

import "fmt"

// Kind distinguishes the two rule families.
type Kind int

const (
	// Literal rules match when their text occurs anywhere in the label (case-sensitive).
	Literal Kind = iota
	// Pattern rules are regular expressions searched anywhere in the label.
	Pattern
)

// String returns the lowercase kind name, used as a metric label.
func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Pattern:
		return "pattern"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rule is a single entry of the ignore table.
type Rule struct {
	Kind Kind
	Expr string
}

// String renders the rule as "<kind>:<expr>".
func (r Rule) String() string {
	return r.Kind.String() + ":" + r.Expr
}

// defaultLiterals are substrings seen on hostnames minted by tooling rather than people.
var defaultLiterals = []string{
	"www",
	"*",
	"azuregateway",
	"direwolf",
	"devshell-vm-",
	"device-local",
	"-local",
	"sni",
}

// defaultPatterns catch hex ids and UUIDs embedded in generated names.
var defaultPatterns = []string{
	// 81d556ba781237c92f0c410f
	`[a-f0-9]{24}`,
	// device1650096-3a628f22
	`device[a-f0-9]{7}-[a-f0-9]{8}`,
	// e4751426-33f2-4239-9765-56b4cbcb505d
	`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`,
	// device-3e90cd1b-50dc-48f1-90ac-6389856ccb2e
	`device-[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`,
}

// DefaultRules returns a fresh copy of the built-in ignore table, literals first.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultLiterals)+len(defaultPatterns))
	for _, l := range defaultLiterals {
		rules = append(rules, Rule{Kind: Literal, Expr: l})
	}
	for _, p := range defaultPatterns {
		rules = append(rules, Rule{Kind: Pattern, Expr: p})
	}
	return rules
}

// WithExtra appends operator-supplied literals and patterns to base.
// Empty strings are skipped; an empty literal would otherwise match every label.
func WithExtra(base []Rule, literals, patterns []string) []Rule {
	out := make([]Rule, 0, len(base)+len(literals)+len(patterns))
	out = append(out, base...)
	for _, l := range literals {
		if l != "" {
			out = append(out, Rule{Kind: Literal, Expr: l})
		}
	}
	for _, p := range patterns {
		if p != "" {
			out = append(out, Rule{Kind: Pattern, Expr: p})
		}
	}
	return out
}
