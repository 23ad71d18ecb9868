package lsp

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

// DiagnosticSource is the source attached to every diagnostic.
const DiagnosticSource = "mock-sql-lsp"

// ActionTriggerReactUI is the DiagnosticData action type that asks the
// client to open its model editor.
const ActionTriggerReactUI = "triggerReactUI"

// Analyzer runs the scan and validate pipeline over one document.
type Analyzer struct {
	Scanner scanner.Scanner
	Options validator.Options
}

// Analyze returns the diagnostics for sql against idx. A scanner failure is
// returned alongside an empty, non-nil diagnostic list so callers can log it
// and still publish.
func (a Analyzer) Analyze(ctx context.Context, sql string, idx *semantic.Index) ([]Diagnostic, error) {
	sc := a.Scanner
	if sc == nil {
		sc = scanner.NewRegex()
	}

	refs, err := sc.Scan(ctx, sql)
	if err != nil {
		return []Diagnostic{}, fmt.Errorf("scan: %w", err)
	}
	return DiagnosticsForText(validator.Validate(refs, idx, a.Options), sql), nil
}

// Diagnostics converts findings to LSP diagnostics, keeping their columns as
// is. The result is never nil.
func Diagnostics(findings []validator.Finding) []Diagnostic {
	diags := make([]Diagnostic, 0, len(findings))
	for _, f := range findings {
		diags = append(diags, toDiagnostic(f))
	}
	return diags
}

// DiagnosticsForText converts findings over text to LSP diagnostics whose
// columns count UTF-16 code units.
func DiagnosticsForText(findings []validator.Finding, text string) []Diagnostic {
	lines := splitLines(text)
	diags := Diagnostics(findings)
	for i := range diags {
		r := &diags[i].Range
		if int(r.Start.Line) >= len(lines) {
			continue
		}
		line := lines[r.Start.Line]
		r.Start.Character = uint32(utf16Column(line, int(r.Start.Character))) //nolint:gosec // G115: bounded by the line length
		r.End.Character = uint32(utf16Column(line, int(r.End.Character)))     //nolint:gosec // G115: bounded by the line length
	}
	return diags
}

func toDiagnostic(f validator.Finding) Diagnostic {
	d := Diagnostic{
		Range:  toRange(f.Range),
		Code:   f.Kind.String(),
		Source: DiagnosticSource,
	}

	switch f.Kind {
	case validator.UnknownTable:
		d.Severity = DiagnosticSeverityError
		d.Message = fmt.Sprintf("Unknown table: '%s'", f.Table)
	case validator.JoinMismatch:
		d.Severity = DiagnosticSeverityWarning
		d.Message = fmt.Sprintf("Join condition does not match the specified relationship for '%s'.", f.Table)
		d.Data = &DiagnosticData{ActionType: ActionTriggerReactUI, TableName: f.Table}
	case validator.MissingJoinCondition:
		d.Severity = DiagnosticSeverityWarning
		d.Message = fmt.Sprintf("Missing join condition for '%s'.", f.Table)
		d.Data = &DiagnosticData{ActionType: ActionTriggerReactUI, TableName: f.Table}
	}

	return d
}

func toRange(r scanner.Range) Range {
	line := uint32(max(0, r.Line))      //nolint:gosec // G115: clamped to non-negative
	start := uint32(max(0, r.StartCol)) //nolint:gosec // G115: clamped to non-negative
	end := uint32(max(0, r.EndCol))     //nolint:gosec // G115: clamped to non-negative
	return Range{
		Start: Position{Line: line, Character: start},
		End:   Position{Line: line, Character: end},
	}
}
