package scanner

import (
	"context"
	"regexp"
	"strings"
)

var (
	fromPattern = regexp.MustCompile(`(?i)\bFROM\b\s+([a-zA-Z_][a-zA-Z0-9_]+)`)
	joinPattern = regexp.MustCompile(`(?i)\bJOIN\b\s+([a-zA-Z_][a-zA-Z0-9_]+)`)
	onPattern   = regexp.MustCompile(`(?i)\bON\s+(.*)`)
)

// commentPrefixes mark lines skipped entirely.
var commentPrefixes = []string{"--", "#", "/*"}

// Regex is the line-oriented scanner. Each line contributes at most one FROM
// and one JOIN reference; a JOIN condition must sit on the JOIN's line.
// Keywords inside string literals or trailing comments are not excluded.
type Regex struct{}

// NewRegex returns the regex scanner.
func NewRegex() *Regex {
	return &Regex{}
}

// Scan never fails.
func (Regex) Scan(_ context.Context, sql string) ([]TableReference, error) {
	return ScanLines(sql), nil
}

// ScanLines runs the regex scanner over sql.
func ScanLines(sql string) []TableReference {
	var refs []TableReference

	for lineNo, line := range strings.Split(sql, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if isCommentLine(line) {
			continue
		}

		if m := fromPattern.FindStringSubmatchIndex(line); m != nil {
			refs = append(refs, TableReference{
				Name:  line[m[2]:m[3]],
				Role:  RoleFrom,
				Range: Range{Line: lineNo, StartCol: m[2], EndCol: m[3]},
			})
		}

		m := joinPattern.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		ref := TableReference{
			Name:  line[m[2]:m[3]],
			Role:  RoleJoin,
			Range: Range{Line: lineNo, StartCol: m[2], EndCol: m[3]},
		}
		rest := line[m[3]:]
		if c := onPattern.FindStringSubmatchIndex(rest); c != nil {
			start := m[3] + c[2]
			cond := rest[c[2]:c[3]]
			ref.Condition = cond
			ref.ConditionRange = &Range{
				Line:     lineNo,
				StartCol: start,
				EndCol:   start + len(strings.TrimRight(cond, " \t")),
			}
		}
		refs = append(refs, ref)
	}

	return refs
}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range commentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
