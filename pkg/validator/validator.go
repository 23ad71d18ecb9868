// Package validator cross-checks scanned table references against a semantic
// model: unknown tables, and join conditions that differ from the ones the
// model declares.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// Kind classifies a Finding.
type Kind int

// Finding kinds.
const (
	UnknownTable Kind = iota
	JoinMismatch
	MissingJoinCondition
)

func (k Kind) String() string {
	switch k {
	case UnknownTable:
		return "unknown-table"
	case JoinMismatch:
		return "join-mismatch"
	case MissingJoinCondition:
		return "missing-join-condition"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Finding is one problem detected in a document.
type Finding struct {
	Kind  Kind
	Table string
	// Range is the identifier for UnknownTable and MissingJoinCondition and
	// the written condition for JoinMismatch.
	Range     scanner.Range
	Condition string
	// Expected holds the normalized conditions the model declares.
	Expected []string
}

// MatchPolicy decides when a written condition satisfies a declared one.
type MatchPolicy string

// Match policies. Both compare case-sensitively after Normalize.
const (
	// MatchEqual requires the written condition to equal a declared one.
	MatchEqual MatchPolicy = "equal"
	// MatchContains accepts a written condition containing a declared one.
	MatchContains MatchPolicy = "contains"
)

// ParseMatchPolicy validates a configured policy name. Empty means MatchEqual.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MatchEqual, nil
	case MatchEqual, MatchContains:
		return p, nil
	default:
		return "", fmt.Errorf("unknown match policy %q (available: equal, contains)", s)
	}
}

func (p MatchPolicy) matches(observed, expected string) bool {
	if p == MatchContains {
		return strings.Contains(observed, expected)
	}
	return observed == expected
}

// Options tune Validate.
type Options struct {
	Match MatchPolicy
	// RequireCondition reports joins to known tables written without ON.
	RequireCondition bool
}

// Validate checks refs against idx and returns findings in reference order.
// A nil idx knows no tables.
func Validate(refs []scanner.TableReference, idx *semantic.Index, opts Options) []Finding {
	var findings []Finding

	for _, ref := range refs {
		if !idx.Has(ref.Name) {
			findings = append(findings, Finding{Kind: UnknownTable, Table: ref.Name, Range: ref.Range})
			continue
		}
		if ref.Role != scanner.RoleJoin {
			continue
		}

		if !ref.HasCondition() {
			if opts.RequireCondition {
				findings = append(findings, Finding{Kind: MissingJoinCondition, Table: ref.Name, Range: ref.Range})
			}
			continue
		}

		expected := ExpectedConditions(idx, ref.Name)
		observed := Normalize(ref.Condition)
		if matchesAny(opts.Match, observed, expected) {
			continue
		}
		findings = append(findings, Finding{
			Kind:      JoinMismatch,
			Table:     ref.Name,
			Range:     *ref.ConditionRange,
			Condition: observed,
			Expected:  expected,
		})
	}

	return findings
}

// ExpectedConditions returns the resolved, normalized join templates the
// model declares for the join key table, across every cube.
func ExpectedConditions(idx *semantic.Index, table string) []string {
	templates := idx.JoinTemplates(table)
	if len(templates) == 0 {
		return nil
	}
	out := make([]string, len(templates))
	for i, tmpl := range templates {
		out[i] = Normalize(ResolveTemplate(tmpl))
	}
	return out
}

func matchesAny(policy MatchPolicy, observed string, expected []string) bool {
	for _, e := range expected {
		if policy.matches(observed, e) {
			return true
		}
	}
	return false
}

var (
	placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// ResolveTemplate replaces every ${identifier} placeholder with the bare
// identifier. Dotted member references such as ${cube.member} are left as is.
func ResolveTemplate(tmpl string) string {
	return placeholder.ReplaceAllString(tmpl, "$1")
}

// Normalize collapses whitespace runs to one space, trims, and strips a
// single trailing semicolon.
func Normalize(s string) string {
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	return strings.TrimSuffix(s, ";")
}
