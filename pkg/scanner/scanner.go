// Package scanner extracts table references from SQL text: FROM and JOIN
// targets, JOIN conditions, and their source positions.
//
// Three interchangeable implementations satisfy Scanner:
//
//   - Regex: line-oriented pattern matching, tolerant of incomplete SQL.
//   - PgQuery: the PostgreSQL grammar via pg_query_go.
//   - External: an out-of-process parser speaking sqlglot's JSON dump format.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role says where a table reference appeared.
type Role int

// Reference roles.
const (
	RoleFrom Role = iota
	RoleJoin
)

func (r Role) String() string {
	switch r {
	case RoleFrom:
		return "from"
	case RoleJoin:
		return "join"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Range is a single-line span with zero-based line and byte columns.
type Range struct {
	Line     int
	StartCol int
	EndCol   int
}

// TableReference is a table named in a FROM or JOIN clause.
type TableReference struct {
	Name  string
	Role  Role
	Range Range

	// Condition is the verbatim text following ON, when present.
	Condition      string
	ConditionRange *Range
}

// HasCondition reports whether the reference carries an ON condition.
func (r TableReference) HasCondition() bool {
	return r.ConditionRange != nil
}

// Scanner extracts table references from a SQL document.
type Scanner interface {
	Scan(ctx context.Context, sql string) ([]TableReference, error)
}

// Kind names a Scanner implementation in configuration.
type Kind string

// Scanner kinds.
const (
	KindRegex    Kind = "regex"
	KindPgQuery  Kind = "pgquery"
	KindExternal Kind = "external"
)

// Kinds lists every supported scanner kind.
func Kinds() []Kind {
	return []Kind{KindRegex, KindPgQuery, KindExternal}
}

// ParseKind validates a configured scanner name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown scanner %q (available: regex, pgquery, external)", s)
}

// Options selects and configures a Scanner.
type Options struct {
	Kind            Kind
	ExternalCommand []string
	ExternalTimeout time.Duration
}

// New builds the scanner named by opts.Kind. An empty kind selects Regex.
func New(opts Options) (Scanner, error) {
	switch opts.Kind {
	case "", KindRegex:
		return NewRegex(), nil
	case KindPgQuery:
		return NewPgQuery(), nil
	case KindExternal:
		return NewExternal(opts.ExternalCommand, opts.ExternalTimeout), nil
	default:
		return nil, fmt.Errorf("unknown scanner %q", opts.Kind)
	}
}

// lineIndex maps byte offsets of a document to line/column pairs.
type lineIndex struct {
	text   string
	starts []int
}

func newLineIndex(text string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{text: text, starts: starts}
}

// position converts a byte offset into a zero-based line and column.
func (li *lineIndex) position(offset int) (line, col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(li.text) {
		offset = len(li.text)
	}
	lo, hi := 0, len(li.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if li.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, offset - li.starts[lo]
}

// span returns the single-line range of [start, start+length).
func (li *lineIndex) span(start, length int) Range {
	line, col := li.position(start)
	return Range{Line: line, StartCol: col, EndCol: col + length}
}

// lineEnd returns the offset of the end of the line containing offset,
// excluding the newline and any carriage return.
func (li *lineIndex) lineEnd(offset int) int {
	end := strings.IndexByte(li.text[offset:], '\n')
	if end < 0 {
		end = len(li.text)
	} else {
		end += offset
	}
	if end > offset && li.text[end-1] == '\r' {
		end--
	}
	return end
}
