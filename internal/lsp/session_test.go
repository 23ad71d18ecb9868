package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cubelsp/internal/testutil"
	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

const testURI = "file:///queries/report.sql"

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSessionWithLogger(testutil.CatalogIndex(t), SessionOptions{ID: "test"}, testutil.NewTestLogger(t))
}

func request(t *testing.T, s *Session, id int, method string, params any) *JSONRPCMessage {
	t.Helper()
	msg, err := NewRequest(id, method, params)
	require.NoError(t, err)
	reply, err := s.Handle(context.Background(), msg)
	require.NoError(t, err)
	return reply
}

func notify(t *testing.T, s *Session, method string, params any) *JSONRPCMessage {
	t.Helper()
	msg, err := NewNotification(method, params)
	require.NoError(t, err)
	reply, err := s.Handle(context.Background(), msg)
	require.NoError(t, err)
	return reply
}

func openDocument(t *testing.T, s *Session, text string) PublishDiagnosticsParams {
	t.Helper()
	reply := notify(t, s, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: testURI, LanguageID: "sql", Version: 1, Text: text},
	})
	return publishedDiagnostics(t, reply)
}

func publishedDiagnostics(t *testing.T, reply *JSONRPCMessage) PublishDiagnosticsParams {
	t.Helper()
	require.NotNil(t, reply)
	require.Nil(t, reply.ID, "diagnostics are a notification")
	require.Equal(t, "textDocument/publishDiagnostics", reply.Method)

	var params PublishDiagnosticsParams
	require.NoError(t, json.Unmarshal(reply.Params, &params))
	return params
}

func decodeResult[T any](t *testing.T, reply *JSONRPCMessage) T {
	t.Helper()
	require.NotNil(t, reply)
	require.Nil(t, reply.Error)
	var out T
	require.NoError(t, json.Unmarshal(reply.Result, &out))
	return out
}

func bySeverity(diags []Diagnostic, sev DiagnosticSeverity) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

func TestSession_Initialize(t *testing.T) {
	s := newTestSession(t)

	reply := request(t, s, 1, "initialize", InitializeParams{RootURI: "file:///project"})
	require.NotNil(t, reply)
	assert.JSONEq(t, "1", string(*reply.ID))
	assert.JSONEq(t, `{"capabilities":{
		"textDocumentSync": 1,
		"completionProvider": {"resolveProvider": true},
		"hoverProvider": true,
		"codeActionProvider": true
	}}`, string(reply.Result))
}

func TestSession_NotificationsHaveNoResponse(t *testing.T) {
	s := newTestSession(t)

	assert.Nil(t, notify(t, s, "initialized", map[string]any{}))
	assert.Nil(t, notify(t, s, "$/cancelRequest", map[string]any{"id": 4}))
	assert.Nil(t, notify(t, s, "$/setTrace", SetTraceParams{Value: "verbose"}))
	assert.Equal(t, "verbose", s.Trace())
}

func TestSession_UnhandledMethod(t *testing.T) {
	s := newTestSession(t)

	msg, err := NewRequest(7, "unknown/method", nil)
	require.NoError(t, err)

	reply, err := s.Handle(context.Background(), msg)
	assert.Nil(t, reply)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnhandledMethod))

	var unhandled *UnhandledMethodError
	require.ErrorAs(t, err, &unhandled)
	assert.Equal(t, "unknown/method", unhandled.Method)
}

func TestSession_UnknownTableIsOneError(t *testing.T) {
	tests := []string{
		"SELECT * FROM customers",
		"select id\nfrom customers\nwhere id = 1",
		"-- FROM orders\nSELECT * FROM customers",
		"SELECT * FROM customers JOIN orders",
	}

	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			s := newTestSession(t)
			published := openDocument(t, s, sql)

			errs := bySeverity(published.Diagnostics, DiagnosticSeverityError)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Message, "customers")
		})
	}
}

func TestSession_JoinConditionWarnings(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		warnings int
	}{
		{
			name:     "declared template",
			sql:      "SELECT *\nFROM orders\nJOIN products ON orders.product_id = products.id",
			warnings: 0,
		},
		{
			name:     "declared template with extra spacing",
			sql:      "SELECT *\nFROM orders\nJOIN products ON  orders.product_id   =  products.id;",
			warnings: 0,
		},
		{
			name:     "different condition",
			sql:      "SELECT *\nFROM orders\nJOIN products ON orders.id = products.id",
			warnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			published := openDocument(t, s, tt.sql)

			warnings := bySeverity(published.Diagnostics, DiagnosticSeverityWarning)
			require.Len(t, warnings, tt.warnings)
			for _, w := range warnings {
				require.NotNil(t, w.Data)
				assert.Equal(t, "triggerReactUI", w.Data.ActionType)
				assert.Equal(t, "products", w.Data.TableName)
				assert.Equal(t, uint32(2), w.Range.Start.Line)
			}
		})
	}
}

func TestSession_CatalogScenario(t *testing.T) {
	s := newTestSession(t)

	bad := "select * from products join product_categories on products._id = product_categories.product_id;"
	published := openDocument(t, s, bad)
	require.Len(t, published.Diagnostics, 1)

	d := published.Diagnostics[0]
	assert.Equal(t, DiagnosticSeverityWarning, d.Severity)
	assert.Equal(t, uint32(0), d.Range.Start.Line)
	assert.Equal(t, uint32(50), d.Range.Start.Character)
	assert.Equal(t, "mock-sql-lsp", d.Source)
	assert.Equal(t, &DiagnosticData{ActionType: "triggerReactUI", TableName: "product_categories"}, d.Data)

	good := "select * from products join product_categories on products.product_category_id = product_categories.id;"
	reply := notify(t, s, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: testURI}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: good}},
	})
	published = publishedDiagnostics(t, reply)
	assert.Empty(t, published.Diagnostics)

	// an empty list is published, not null
	assert.Contains(t, string(reply.Params), `"diagnostics":[]`)
}

func TestSession_DidChange(t *testing.T) {
	s := newTestSession(t)
	openDocument(t, s, "SELECT * FROM orders")

	change := func(changes ...TextDocumentContentChangeEvent) *JSONRPCMessage {
		return notify(t, s, "textDocument/didChange", DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: testURI}, Version: 2},
			ContentChanges: changes,
		})
	}

	// only the first change is applied
	published := publishedDiagnostics(t, change(
		TextDocumentContentChangeEvent{Text: "SELECT * FROM customers"},
		TextDocumentContentChangeEvent{Text: "SELECT * FROM orders"},
	))
	assert.Len(t, published.Diagnostics, 1)
	assert.Equal(t, "SELECT * FROM customers", s.Documents().Text(testURI))

	assert.Nil(t, change(), "no content change, no response")
	assert.Equal(t, "SELECT * FROM customers", s.Documents().Text(testURI))

	published = publishedDiagnostics(t, change(TextDocumentContentChangeEvent{Text: ""}))
	assert.Empty(t, published.Diagnostics)
	assert.Equal(t, "", s.Documents().Text(testURI))
}

func TestSession_DidClose(t *testing.T) {
	s := newTestSession(t)
	openDocument(t, s, "SELECT * FROM customers")

	reply := notify(t, s, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
	})
	published := publishedDiagnostics(t, reply)
	assert.Equal(t, testURI, published.URI)
	assert.Empty(t, published.Diagnostics)

	_, ok := s.Documents().Get(testURI)
	assert.False(t, ok)
}

func TestSession_Completion(t *testing.T) {
	s := newTestSession(t)

	reply := request(t, s, 2, "textDocument/completion", CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{TextDocument: TextDocumentIdentifier{URI: testURI}},
	})
	list := decodeResult[CompletionList](t, reply)
	assert.False(t, list.IsIncomplete)
	assert.Len(t, list.Items, 32)
	assert.Equal(t, CompletionItem{Label: "line_items", Kind: 6, Detail: "Cube"}, list.Items[0])

	// a completion sent without an id is a notification
	assert.Nil(t, notify(t, s, "textDocument/completion", map[string]any{}))
}

func TestSession_Hover(t *testing.T) {
	s := newTestSession(t)
	openDocument(t, s, "SELECT status\nFROM products")

	hover := func(line, char uint32) string {
		reply := request(t, s, 3, "textDocument/hover", HoverParams{TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: testURI},
			Position:     Position{Line: line, Character: char},
		}})
		h := decodeResult[Hover](t, reply)
		assert.Equal(t, MarkupKindMarkdown, h.Contents.Kind)
		return h.Contents.Value
	}

	assert.Equal(t, "**Dimension: status**\n\nType: string", hover(0, 9))
	assert.Regexp(t, `^\*\*Cube: products\*\*`, hover(1, 7))
	assert.Equal(t, NoInformation, hover(0, 2), "SELECT is not in the model")
	assert.Equal(t, NoInformation, hover(9, 0), "line past the end")
}

func TestSession_NonASCIIColumns(t *testing.T) {
	s := newTestSession(t)

	published := openDocument(t, s, "select 'café' as x from unknown_t")
	require.Len(t, published.Diagnostics, 1)
	assert.Equal(t, Range{
		Start: Position{Line: 0, Character: 24},
		End:   Position{Line: 0, Character: 33},
	}, published.Diagnostics[0].Range)

	notify(t, s, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: testURI}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: "select '€€€€€€' x, orders"}},
	})
	reply := request(t, s, 4, "textDocument/hover", HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Position:     Position{Line: 0, Character: 21},
	}})
	assert.Regexp(t, `^\*\*Cube: orders\*\*`, decodeResult[Hover](t, reply).Contents.Value)
}

func TestSession_HoverUnknownDocument(t *testing.T) {
	s := newTestSession(t)

	reply := request(t, s, 3, "textDocument/hover", HoverParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: "file:///never-opened.sql"},
	}})
	assert.Equal(t, NoInformation, decodeResult[Hover](t, reply).Contents.Value)
}

func TestSession_CodeActionForPublishedDiagnostic(t *testing.T) {
	s := newTestSession(t)
	published := openDocument(t, s, "FROM orders\nJOIN products ON orders.id = products.id")
	require.Len(t, published.Diagnostics, 1)
	diag := published.Diagnostics[0]

	reply := request(t, s, 4, "textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Range:        diag.Range,
		Context:      CodeActionContext{Diagnostics: published.Diagnostics},
	})
	assert.JSONEq(t, `[{
		"title": "Edit Semantics for products",
		"kind": "quickfix",
		"command": {
			"title": "Trigger React UI",
			"command": "mock-sql-lsp.triggerReactUI",
			"arguments": ["products"]
		}
	}]`, string(reply.Result))

	reply = request(t, s, 5, "textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Range:        Range{},
		Context:      CodeActionContext{Diagnostics: published.Diagnostics},
	})
	assert.Nil(t, reply, "no matching diagnostic, no response")
}

func TestSession_UpdateSchema(t *testing.T) {
	s := newTestSession(t)

	reply := request(t, s, 6, "update-schema", map[string]any{
		"schemas": []map[string]any{{
			"name":       "customers",
			"dimensions": map[string]any{"id": map[string]any{"type": "number"}},
		}},
	})
	ack := decodeResult[SchemaUpdateResult](t, reply)
	assert.Equal(t, SchemaUpdateResult{Status: "schema-updated", Cubes: 1}, ack)

	assert.True(t, s.Model().Load().Has("customers"))
	published := openDocument(t, s, "SELECT * FROM customers")
	assert.Empty(t, published.Diagnostics)

	published = openDocument(t, s, "SELECT * FROM orders")
	assert.Len(t, published.Diagnostics, 1, "the old model is gone")
}

func TestSession_UpdateSchemaNotification(t *testing.T) {
	s := newTestSession(t)

	reply := notify(t, s, "update-schema", map[string]any{"schemas": []any{}})
	require.NotNil(t, reply)
	assert.Equal(t, "$/schemaUpdated", reply.Method)
	assert.JSONEq(t, `{"status":"schema-updated","cubes":0}`, string(reply.Params))
	assert.Equal(t, 0, s.Model().Load().Len())
}

func TestSession_UpdateSchemaRejected(t *testing.T) {
	tests := []struct {
		name   string
		params any
	}{
		{"missing schemas", map[string]any{}},
		{"schemas not a list", map[string]any{"schemas": "orders"}},
		{"cube without name", map[string]any{"schemas": []any{map[string]any{"measures": map[string]any{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			reply := request(t, s, 8, "update-schema", tt.params)

			ack := decodeResult[SchemaUpdateResult](t, reply)
			assert.Equal(t, "schema-rejected", ack.Status)
			assert.Equal(t, 4, ack.Cubes)
			assert.NotEmpty(t, ack.Error)
			assert.Equal(t, 4, s.Model().Load().Len(), "model is unchanged")
		})
	}
}

func TestSession_UpdateSchemaIsPerSession(t *testing.T) {
	idx := testutil.CatalogIndex(t)
	a := NewSessionWithLogger(idx, SessionOptions{}, testutil.NewTestLogger(t))
	b := NewSessionWithLogger(idx, SessionOptions{}, testutil.NewTestLogger(t))
	assert.NotEqual(t, a.ID(), b.ID())

	request(t, a, 1, "update-schema", map[string]any{"schemas": []any{}})

	assert.Equal(t, 0, a.Model().Load().Len())
	assert.Equal(t, 4, b.Model().Load().Len())
}

func TestSession_InitializationOptions(t *testing.T) {
	trailing := "FROM orders\nJOIN products ON orders.product_id = products.id AND 1 = 1"
	missing := "FROM orders\nJOIN products"

	s := newTestSession(t)
	assert.Len(t, openDocument(t, s, trailing).Diagnostics, 1)
	assert.Empty(t, openDocument(t, s, missing).Diagnostics)

	request(t, s, 1, "initialize", InitializeParams{InitializationOptions: map[string]any{
		"match":                "contains",
		"requireJoinCondition": "true",
	}})

	assert.Empty(t, openDocument(t, s, trailing).Diagnostics)
	diags := openDocument(t, s, missing).Diagnostics
	require.Len(t, diags, 1)
	assert.Equal(t, "missing-join-condition", diags[0].Code)
}

func TestSession_InitializationOptionsIgnoredWhenInvalid(t *testing.T) {
	s := newTestSession(t)

	request(t, s, 1, "initialize", InitializeParams{InitializationOptions: map[string]any{"match": "fuzzy"}})
	assert.Len(t, openDocument(t, s, "FROM orders\nJOIN products ON orders.product_id = products.id AND 1 = 1").Diagnostics, 1)
}

type failingScanner struct{}

func (failingScanner) Scan(context.Context, string) ([]scanner.TableReference, error) {
	return nil, &scanner.ExternalParserError{Stage: "timeout", Err: context.DeadlineExceeded}
}

func TestSession_ScannerFailureIsZeroFindings(t *testing.T) {
	logger, logs := testutil.NewCaptureLogger()
	s := NewSessionWithLogger(testutil.CatalogIndex(t), SessionOptions{Scanner: failingScanner{}}, logger)

	published := openDocument(t, s, "SELECT * FROM customers")
	assert.Empty(t, published.Diagnostics)
	assert.Contains(t, logs.String(), "Analysis failed")
	assert.Contains(t, logs.String(), "external parser timeout")
}

func TestSession_MalformedParams(t *testing.T) {
	logger, logs := testutil.NewCaptureLogger()
	s := NewSessionWithLogger(testutil.CatalogIndex(t), SessionOptions{}, logger)

	raw := func(id *int, method, params string) *JSONRPCMessage {
		msg := &JSONRPCMessage{JSONRPC: "2.0", Method: method, Params: json.RawMessage(params)}
		if id != nil {
			idRaw := json.RawMessage(fmt.Sprintf("%d", *id))
			msg.ID = &idRaw
		}
		reply, err := s.Handle(context.Background(), msg)
		require.NoError(t, err)
		return reply
	}
	id := 9

	assert.Nil(t, raw(nil, "textDocument/didOpen", `[]`))
	assert.Nil(t, raw(nil, "textDocument/didChange", `{"contentChanges": 5}`))
	assert.Nil(t, raw(&id, "textDocument/codeAction", `"nope"`))

	hover := decodeResult[Hover](t, raw(&id, "textDocument/hover", `[]`))
	assert.Equal(t, NoInformation, hover.Contents.Value)

	assert.Contains(t, logs.String(), "Malformed params")
}

func TestSession_ShutdownAndExit(t *testing.T) {
	s := newTestSession(t)

	reply := request(t, s, 10, "shutdown", nil)
	require.NotNil(t, reply)
	assert.Equal(t, "null", string(reply.Result))
	assert.True(t, s.ShutdownRequested())
	assert.False(t, s.Exited())

	assert.Nil(t, notify(t, s, "exit", nil))
	assert.True(t, s.Exited())
}

func TestSession_HandleRaw(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	t.Run("invalid json", func(t *testing.T) {
		out, err := s.HandleRaw(ctx, []byte(`{"jsonrpc": "2.0", "method": `))
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Invalid request"}}`, string(out))
	})

	t.Run("unhandled request", func(t *testing.T) {
		out, err := s.HandleRaw(ctx, []byte(`{"jsonrpc":"2.0","id":3,"method":"unknown/method"}`))
		assert.ErrorIs(t, err, ErrUnhandledMethod)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found: unknown/method"}}`, string(out))
	})

	t.Run("unhandled notification", func(t *testing.T) {
		out, err := s.HandleRaw(ctx, []byte(`{"jsonrpc":"2.0","method":"unknown/method"}`))
		assert.ErrorIs(t, err, ErrUnhandledMethod)
		assert.Nil(t, out)
	})

	t.Run("notification", func(t *testing.T) {
		out, err := s.HandleRaw(ctx, []byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`))
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("request", func(t *testing.T) {
		out, err := s.HandleRaw(ctx, []byte(`{"jsonrpc":"2.0","id":"abc","method":"textDocument/completion","params":{}}`))
		require.NoError(t, err)

		var msg JSONRPCMessage
		require.NoError(t, json.Unmarshal(out, &msg))
		assert.JSONEq(t, `"abc"`, string(*msg.ID))
	})
}

func TestSession_NilModel(t *testing.T) {
	s := NewSessionWithLogger(nil, SessionOptions{}, testutil.NewTestLogger(t))

	published := openDocument(t, s, "SELECT * FROM orders")
	assert.Len(t, published.Diagnostics, 1)

	list := decodeResult[CompletionList](t, request(t, s, 1, "textDocument/completion", map[string]any{}))
	assert.NotNil(t, list.Items)
	assert.Empty(t, list.Items)

	s.Model().Swap(semantic.BuildIndex([]semantic.Cube{{Name: "orders"}}))
	assert.Empty(t, openDocument(t, s, "SELECT * FROM orders").Diagnostics)
}
