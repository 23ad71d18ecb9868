package scanner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	onKeyword    = regexp.MustCompile(`(?i)\bON\s+`)
	deparsedHead = regexp.MustCompile(`(?i)^SELECT\s+WHERE\s+`)
)

// PgQuery scans SQL with the PostgreSQL grammar. Unlike Regex it sees every
// join of a statement, nested selects and set operations, but it needs the
// whole document to parse: incomplete SQL yields an error.
//
// Unquoted identifiers come back lowercased, as PostgreSQL folds them.
type PgQuery struct{}

// NewPgQuery returns the pg_query scanner.
func NewPgQuery() *PgQuery {
	return &PgQuery{}
}

// Scan parses sql and reports its FROM and JOIN relations in source order.
func (PgQuery) Scan(ctx context.Context, sql string) ([]TableReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("pg_query parse: %w", err)
	}

	w := &pgWalker{lines: newLineIndex(sql)}
	for _, stmt := range tree.Stmts {
		if stmt.Stmt == nil {
			continue
		}
		if err := w.walkNode(stmt.Stmt); err != nil {
			return nil, err
		}
	}
	return w.refs, nil
}

type pgWalker struct {
	lines *lineIndex
	refs  []TableReference
}

func (w *pgWalker) walkNode(node *pg_query.Node) error {
	switch {
	case node.GetSelectStmt() != nil:
		return w.walkSelect(node.GetSelectStmt())
	case node.GetInsertStmt() != nil:
		if sel := node.GetInsertStmt().SelectStmt; sel != nil {
			return w.walkNode(sel)
		}
	case node.GetExplainStmt() != nil:
		if q := node.GetExplainStmt().Query; q != nil {
			return w.walkNode(q)
		}
	}
	return nil
}

func (w *pgWalker) walkSelect(stmt *pg_query.SelectStmt) error {
	if stmt.Larg != nil {
		if err := w.walkSelect(stmt.Larg); err != nil {
			return err
		}
	}
	if stmt.Rarg != nil {
		if err := w.walkSelect(stmt.Rarg); err != nil {
			return err
		}
	}
	for _, from := range stmt.FromClause {
		if err := w.fromItem(from, RoleFrom, nil); err != nil {
			return err
		}
	}
	return nil
}

func (w *pgWalker) fromItem(node *pg_query.Node, role Role, quals *pg_query.Node) error {
	if node == nil {
		return nil
	}

	if rv := node.GetRangeVar(); rv != nil {
		return w.addRangeVar(rv, role, quals)
	}

	if jt := node.GetJoinExpr(); jt != nil {
		if err := w.fromItem(jt.Larg, role, quals); err != nil {
			return err
		}
		return w.fromItem(jt.Rarg, RoleJoin, jt.Quals)
	}

	if sub := node.GetRangeSubselect(); sub != nil && sub.Subquery != nil {
		return w.walkNode(sub.Subquery)
	}
	return nil
}

func (w *pgWalker) addRangeVar(rv *pg_query.RangeVar, role Role, quals *pg_query.Node) error {
	qualified := rv.Relname
	if rv.Schemaname != "" {
		qualified = rv.Schemaname + "." + rv.Relname
	}

	start := int(rv.Location)
	ref := TableReference{
		Name:  rv.Relname,
		Role:  role,
		Range: w.lines.span(start, len(qualified)),
	}

	if role == RoleJoin && quals != nil {
		cond, err := deparseCondition(quals)
		if err != nil {
			return err
		}
		ref.Condition = cond
		ref.ConditionRange = conditionSpan(w.lines, start+len(qualified))
		if ref.ConditionRange == nil {
			r := ref.Range
			ref.ConditionRange = &r
		}
	}

	w.refs = append(w.refs, ref)
	return nil
}

// deparseCondition renders a join qualifier back to SQL by deparsing it as
// the WHERE clause of an empty SELECT.
func deparseCondition(quals *pg_query.Node) (string, error) {
	stmt := &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: &pg_query.SelectStmt{
		WhereClause: quals,
		Op:          pg_query.SetOperation_SETOP_NONE,
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}}}

	out, err := pg_query.Deparse(&pg_query.ParseResult{Stmts: []*pg_query.RawStmt{{Stmt: stmt}}})
	if err != nil {
		return "", fmt.Errorf("pg_query deparse join condition: %w", err)
	}
	return strings.TrimSpace(deparsedHead.ReplaceAllString(out, "")), nil
}

// conditionSpan locates the text following the first ON at or after offset
// and returns its range up to the end of that line.
func conditionSpan(li *lineIndex, offset int) *Range {
	if offset < 0 || offset > len(li.text) {
		return nil
	}
	loc := onKeyword.FindStringIndex(li.text[offset:])
	if loc == nil {
		return nil
	}
	start := offset + loc[1]
	end := li.lineEnd(start)
	for end > start && (li.text[end-1] == ' ' || li.text[end-1] == '\t') {
		end--
	}
	r := li.span(start, end-start)
	return &r
}
