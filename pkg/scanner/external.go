package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultExternalTimeout bounds a single external parser run.
const DefaultExternalTimeout = 2 * time.Second

// DefaultExternalCommand runs the bundled sqlglot helper.
var DefaultExternalCommand = []string{"python3", "parse_sql.py"}

// ErrExternalParser matches every failure of the external parser.
var ErrExternalParser = errors.New("external parser failed")

// ExternalParserError describes a failed external parser run.
type ExternalParserError struct {
	// Stage is one of "start", "run", "timeout", "decode", "parser", "render".
	Stage  string
	Stderr string
	Err    error
}

func (e *ExternalParserError) Error() string {
	msg := fmt.Sprintf("external parser %s: %v", e.Stage, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (stderr: " + s + ")"
	}
	return msg
}

func (e *ExternalParserError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExternalParser) hold for every ExternalParserError.
func (e *ExternalParserError) Is(target error) bool {
	return target == ErrExternalParser
}

// External delegates parsing to a child process that reads SQL on stdin and
// writes a JSON array of sqlglot expression dumps on stdout. A payload of the
// form {"error": "..."} reports a parse failure.
type External struct {
	Command []string
	Timeout time.Duration
	// Dir is the working directory of the child; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// NewExternal returns an External running command. A zero timeout selects
// DefaultExternalTimeout.
func NewExternal(command []string, timeout time.Duration) *External {
	if len(command) == 0 {
		command = DefaultExternalCommand
	}
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	return &External{Command: command, Timeout: timeout}
}

// Scan runs the external parser over sql.
func (e *External) Scan(ctx context.Context, sql string) ([]TableReference, error) {
	if len(e.Command) == 0 {
		return nil, &ExternalParserError{Stage: "start", Err: errors.New("no command configured")}
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	cmd.Stdin = strings.NewReader(sql)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &ExternalParserError{Stage: "timeout", Stderr: stderr.String(), Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExternalParserError{Stage: "run", Stderr: stderr.String(), Err: err}
		}
		return nil, &ExternalParserError{Stage: "start", Stderr: stderr.String(), Err: err}
	}

	trees, err := decodeDump(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	c := &glotCollector{}
	for _, tree := range trees {
		if err := c.walk(tree); err != nil {
			return nil, &ExternalParserError{Stage: "render", Err: err}
		}
	}
	return locate(sql, c.refs), nil
}

// glotNode is one sqlglot expression: {"class": "Select", "args": {...}}.
type glotNode struct {
	Class string                     `json:"class"`
	Args  map[string]json.RawMessage `json:"args"`
}

func decodeDump(out []byte) ([]glotNode, error) {
	out = bytes.TrimSpace(out)

	if bytes.HasPrefix(out, []byte("{")) {
		var failure struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(out, &failure); err == nil && failure.Error != nil {
			return nil, &ExternalParserError{Stage: "parser", Err: errors.New(*failure.Error)}
		}
	}

	var trees []glotNode
	if err := json.Unmarshal(out, &trees); err != nil {
		return nil, &ExternalParserError{Stage: "decode", Err: err}
	}
	return trees, nil
}

// arg decodes a child expression; ok is false for absent or null args.
func (n glotNode) arg(name string) (glotNode, bool) {
	raw, found := n.Args[name]
	if !found || isNull(raw) {
		return glotNode{}, false
	}
	var child glotNode
	if err := json.Unmarshal(raw, &child); err != nil || child.Class == "" {
		return glotNode{}, false
	}
	return child, true
}

// list decodes a list of child expressions, skipping anything else.
func (n glotNode) list(name string) []glotNode {
	raw, found := n.Args[name]
	if !found || isNull(raw) {
		return nil
	}
	var children []glotNode
	if err := json.Unmarshal(raw, &children); err != nil {
		return nil
	}
	return children
}

// scalar returns a string or boolean arg as text.
func (n glotNode) scalar(name string) string {
	raw, found := n.Args[name]
	if !found {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		return "true"
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// glotRef is a reference found in a dump, before it is positioned.
type glotRef struct {
	name      string
	role      Role
	condition string
	hasOn     bool
}

type glotCollector struct {
	refs []glotRef
}

func (c *glotCollector) walk(n glotNode) error {
	switch n.Class {
	case "Select":
		if from, ok := n.arg("from"); ok {
			if err := c.walkFrom(from); err != nil {
				return err
			}
		}
		for _, j := range n.list("joins") {
			if err := c.walkJoin(j); err != nil {
				return err
			}
		}
		return nil
	case "Union", "Intersect", "Except":
		for _, side := range []string{"this", "expression"} {
			if child, ok := n.arg(side); ok {
				if err := c.walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	case "Subquery":
		if child, ok := n.arg("this"); ok {
			return c.walk(child)
		}
		return nil
	}

	// Statements wrapping a query (INSERT ... SELECT, CREATE ... AS SELECT).
	for _, key := range sortedKeys(n.Args) {
		if child, ok := n.arg(key); ok && child.Class == "Select" {
			if err := c.walk(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *glotCollector) walkFrom(from glotNode) error {
	items := from.list("expressions")
	if this, ok := from.arg("this"); ok {
		items = append([]glotNode{this}, items...)
	}
	for _, item := range items {
		switch item.Class {
		case "Table":
			if name := tableName(item); name != "" {
				c.refs = append(c.refs, glotRef{name: name, role: RoleFrom})
			}
		case "Subquery":
			if err := c.walk(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *glotCollector) walkJoin(join glotNode) error {
	target, ok := join.arg("this")
	if !ok {
		return nil
	}
	if target.Class == "Subquery" {
		return c.walk(target)
	}
	if target.Class != "Table" {
		return nil
	}

	ref := glotRef{name: tableName(target), role: RoleJoin}
	if on, ok := join.arg("on"); ok {
		cond, err := render(on)
		if err != nil {
			return err
		}
		ref.condition = cond
		ref.hasOn = true
	}
	if ref.name != "" {
		c.refs = append(c.refs, ref)
	}
	return nil
}

func tableName(table glotNode) string {
	id, ok := table.arg("this")
	if !ok {
		return ""
	}
	return id.scalar("this")
}

var glotBinary = map[string]string{
	"EQ":  "=",
	"NEQ": "<>",
	"GT":  ">",
	"GTE": ">=",
	"LT":  "<",
	"LTE": "<=",
	"And": "AND",
	"Or":  "OR",
}

// render turns a condition expression back into SQL text.
func render(n glotNode) (string, error) {
	if op, ok := glotBinary[n.Class]; ok {
		left, err := renderArg(n, "this")
		if err != nil {
			return "", err
		}
		right, err := renderArg(n, "expression")
		if err != nil {
			return "", err
		}
		return left + " " + op + " " + right, nil
	}

	switch n.Class {
	case "Column":
		col, err := renderArg(n, "this")
		if err != nil {
			return "", err
		}
		if table, ok := n.arg("table"); ok {
			t, err := render(table)
			if err != nil {
				return "", err
			}
			return t + "." + col, nil
		}
		return col, nil
	case "Identifier":
		if n.scalar("quoted") == "true" {
			return `"` + n.scalar("this") + `"`, nil
		}
		return n.scalar("this"), nil
	case "Literal":
		if n.scalar("is_string") == "true" {
			return "'" + strings.ReplaceAll(n.scalar("this"), "'", "''") + "'", nil
		}
		return n.scalar("this"), nil
	case "Paren":
		inner, err := renderArg(n, "this")
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	}
	return "", fmt.Errorf("unsupported expression %q in join condition", n.Class)
}

func renderArg(n glotNode, name string) (string, error) {
	child, ok := n.arg(name)
	if !ok {
		return "", fmt.Errorf("%s without %q", n.Class, name)
	}
	return render(child)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// locate assigns source positions to refs by searching the text for each
// keyword and name in order of appearance. A reference that cannot be found
// keeps a zero range.
func locate(sql string, refs []glotRef) []TableReference {
	li := newLineIndex(sql)
	out := make([]TableReference, 0, len(refs))
	cursor := 0

	for _, r := range refs {
		keyword := "FROM"
		if r.role == RoleJoin {
			keyword = "JOIN"
		}
		pattern := regexp.MustCompile(`(?i)\b` + keyword + `\s+(?:[a-zA-Z_][a-zA-Z0-9_]*\.)?("?)` + regexp.QuoteMeta(r.name) + `\b`)

		ref := TableReference{Name: r.name, Role: r.role, Condition: r.condition}
		nameStart := -1
		if m := pattern.FindStringSubmatchIndex(sql[cursor:]); m != nil {
			nameStart = cursor + m[3]
			cursor += m[1]
		} else if m := pattern.FindStringSubmatchIndex(sql); m != nil {
			nameStart = m[3]
		}
		if nameStart >= 0 {
			ref.Range = li.span(nameStart, len(r.name))
		}

		if r.hasOn {
			if nameStart >= 0 {
				ref.ConditionRange = conditionSpan(li, nameStart+len(r.name))
			}
			if ref.ConditionRange == nil {
				rr := ref.Range
				ref.ConditionRange = &rr
			}
		}
		out = append(out, ref)
	}
	return out
}
