package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

// SessionOptions configure a Session.
type SessionOptions struct {
	// ID identifies the session in logs; a random UUID when empty.
	ID         string
	Scanner    scanner.Scanner
	Validation validator.Options
}

// Session is the dispatcher state of one client connection: its open
// documents and its own semantic model snapshot. Messages are handled one at
// a time.
type Session struct {
	id        string
	documents *DocumentStore
	model     *semantic.Model
	analyzer  Analyzer
	logger    *slog.Logger

	// mu serializes Handle.
	mu       sync.Mutex
	trace    string
	shutdown bool
	exited   bool
}

// NewSession creates a session whose model starts at idx.
func NewSession(idx *semantic.Index, opts SessionOptions) *Session {
	return NewSessionWithLogger(idx, opts, nil)
}

// NewSessionWithLogger creates a session with a custom logger.
func NewSessionWithLogger(idx *semantic.Index, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.Validation.Match == "" {
		opts.Validation.Match = validator.MatchEqual
	}
	return &Session{
		id:        id,
		documents: NewDocumentStore(),
		model:     semantic.NewModel(idx),
		analyzer:  Analyzer{Scanner: opts.Scanner, Options: opts.Validation},
		logger:    logger.With("session", id),
		trace:     "off",
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Documents returns the session's document store.
func (s *Session) Documents() *DocumentStore { return s.documents }

// Model returns the session's model holder.
func (s *Session) Model() *semantic.Model { return s.model }

// Trace returns the last $/setTrace value.
func (s *Session) Trace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace
}

// ShutdownRequested reports whether the client sent shutdown.
func (s *Session) ShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Exited reports whether the client sent exit.
func (s *Session) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// HandleRaw decodes one JSON-RPC message, dispatches it and encodes the
// reply. Invalid JSON gets a parse error reply. An unhandled method is
// returned as an error, together with a method-not-found reply when the
// message was a request. A nil reply means nothing is sent.
func (s *Session) HandleRaw(ctx context.Context, data []byte) ([]byte, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("Invalid message", "error", err)
		return json.Marshal(newErrorResponse(nil, CodeParseError, "Invalid request"))
	}

	reply, err := s.Handle(ctx, &msg)
	if err != nil {
		if errors.Is(err, ErrUnhandledMethod) && !msg.IsNotification() {
			out, mErr := json.Marshal(newErrorResponse(msg.ID, CodeMethodNotFound, "Method not found: "+msg.Method))
			if mErr != nil {
				return nil, errors.Join(err, mErr)
			}
			return out, err
		}
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	return json.Marshal(reply)
}

// Handle dispatches msg and returns the message to send back, or nil when
// nothing is sent. The only error is *UnhandledMethodError; malformed params
// are logged and answered with an empty or sentinel result.
func (s *Session) Handle(ctx context.Context, msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("Received", "method", msg.Method)

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		s.logger.Info("Client initialized")
		return nil, nil
	case "$/cancelRequest":
		return s.handleCancelRequest(msg)
	case "$/setTrace":
		return s.handleSetTrace(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(ctx, msg)
	case "textDocument/didChange":
		return s.handleDidChange(ctx, msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/completion":
		return s.handleCompletion(msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/codeAction":
		return s.handleCodeAction(msg)
	case "update-schema":
		return s.handleUpdateSchema(msg)
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		s.exited = true
		s.logger.Info("Client exit")
		return nil, nil
	default:
		return nil, &UnhandledMethodError{Method: msg.Method}
	}
}

// decodeParams unmarshals msg params into v, logging malformed input.
func (s *Session) decodeParams(msg *JSONRPCMessage, v any) bool {
	if len(msg.Params) == 0 {
		s.logger.Warn("Malformed params", "method", msg.Method, "error", "missing params")
		return false
	}
	if err := json.Unmarshal(msg.Params, v); err != nil {
		s.logger.Warn("Malformed params", "method", msg.Method, "error", err)
		return false
	}
	return true
}

// respond builds the response to a request; notifications get none.
func (s *Session) respond(msg *JSONRPCMessage, result any) (*JSONRPCMessage, error) {
	if msg.IsNotification() {
		s.logger.Debug("Dropping result for notification", "method", msg.Method)
		return nil, nil
	}
	reply, err := newResponse(msg.ID, result)
	if err != nil {
		s.logger.Error("Error marshaling response", "method", msg.Method, "error", err)
		return nil, nil
	}
	return reply, nil
}

// --- Lifecycle handlers ---

// initOptions are the recognized initializationOptions.
type initOptions struct {
	Match                string `mapstructure:"match"`
	RequireJoinCondition *bool  `mapstructure:"requireJoinCondition"`
}

func (s *Session) handleInitialize(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params InitializeParams
	if len(msg.Params) > 0 && s.decodeParams(msg, &params) && params.InitializationOptions != nil {
		s.applyInitOptions(params.InitializationOptions)
	}

	return s.respond(msg, InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync:   TextDocumentSyncKindFull,
			CompletionProvider: &CompletionOptions{ResolveProvider: true},
			HoverProvider:      true,
			CodeActionProvider: true,
		},
	})
}

func (s *Session) applyInitOptions(raw map[string]any) {
	var opts initOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err == nil {
		err = dec.Decode(raw)
	}
	if err != nil {
		s.logger.Warn("Malformed initializationOptions", "error", err)
		return
	}

	if opts.Match != "" {
		policy, err := validator.ParseMatchPolicy(opts.Match)
		if err != nil {
			s.logger.Warn("Ignoring initializationOptions.match", "error", err)
		} else {
			s.analyzer.Options.Match = policy
		}
	}
	if opts.RequireJoinCondition != nil {
		s.analyzer.Options.RequireCondition = *opts.RequireJoinCondition
	}
	s.logger.Info("Applied initializationOptions",
		"match", s.analyzer.Options.Match,
		"require_join_condition", s.analyzer.Options.RequireCondition)
}

func (s *Session) handleCancelRequest(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params CancelParams
	if s.decodeParams(msg, &params) {
		s.logger.Debug("Cancel request", "id", params.ID)
	}
	return nil, nil
}

func (s *Session) handleSetTrace(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params SetTraceParams
	if s.decodeParams(msg, &params) {
		s.trace = params.Value
		s.logger.Debug("Set trace", "value", params.Value)
	}
	return nil, nil
}

func (s *Session) handleShutdown(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	s.shutdown = true
	s.logger.Info("Session shutdown")
	return s.respond(msg, nil)
}

// --- Document handlers ---

func (s *Session) handleDidOpen(ctx context.Context, msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params DidOpenTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil, nil
	}

	doc := params.TextDocument
	s.documents.Open(doc.URI, doc.Text, doc.Version)
	s.logger.Info("Opened", "uri", doc.URI)

	return s.publishDiagnostics(ctx, doc.URI, doc.Text), nil
}

func (s *Session) handleDidChange(ctx context.Context, msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params DidChangeTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil, nil
	}

	uri := params.TextDocument.URI
	if len(params.ContentChanges) == 0 {
		s.logger.Warn("Change without content", "uri", uri)
		return nil, nil
	}

	// Full sync: the first change carries the whole document.
	text := params.ContentChanges[0].Text
	s.documents.Change(uri, text, params.TextDocument.Version)

	return s.publishDiagnostics(ctx, uri, text), nil
}

func (s *Session) handleDidClose(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params DidCloseTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil, nil
	}

	uri := params.TextDocument.URI
	s.documents.Close(uri)
	s.logger.Info("Closed", "uri", uri)

	return s.notify("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []Diagnostic{},
	}), nil
}

// publishDiagnostics analyzes text against the current model snapshot.
func (s *Session) publishDiagnostics(ctx context.Context, uri, text string) *JSONRPCMessage {
	diags, err := s.analyzer.Analyze(ctx, text, s.model.Load())
	if err != nil {
		s.logger.Warn("Analysis failed, publishing no diagnostics", "uri", uri, "error", err)
	}

	return s.notify("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func (s *Session) notify(method string, params any) *JSONRPCMessage {
	msg, err := NewNotification(method, params)
	if err != nil {
		s.logger.Error("Error marshaling notification", "method", method, "error", err)
		return nil
	}
	return msg
}

// --- Feature handlers ---

func (s *Session) handleCompletion(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	return s.respond(msg, &CompletionList{
		IsIncomplete: false,
		Items:        Completions(s.model.Load()),
	})
}

func (s *Session) handleHover(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params HoverParams
	if !s.decodeParams(msg, &params) {
		return s.respond(msg, &Hover{Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: NoInformation}})
	}

	doc, _ := s.documents.Get(params.TextDocument.URI)
	return s.respond(msg, hoverAt(s.model.Load(), doc, params.Position))
}

func (s *Session) handleCodeAction(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params CodeActionParams
	if !s.decodeParams(msg, &params) {
		return nil, nil
	}

	actions := CodeActions(params)
	if len(actions) == 0 {
		return nil, nil
	}
	return s.respond(msg, actions)
}

// handleUpdateSchema replaces this session's model. Analyses already running
// keep the snapshot they loaded.
func (s *Session) handleUpdateSchema(msg *JSONRPCMessage) (*JSONRPCMessage, error) {
	var params UpdateSchemaParams
	if !s.decodeParams(msg, &params) || len(params.Schemas) == 0 {
		return s.schemaAck(msg, SchemaUpdateResult{
			Status: "schema-rejected",
			Cubes:  s.model.Load().Len(),
			Error:  "Invalid request",
		})
	}

	cubes, err := semantic.Decode(params.Schemas)
	if err != nil {
		s.logger.Warn("Malformed params", "method", msg.Method, "error", err)
		return s.schemaAck(msg, SchemaUpdateResult{
			Status: "schema-rejected",
			Cubes:  s.model.Load().Len(),
			Error:  fmt.Sprintf("Invalid request: %v", err),
		})
	}

	idx := semantic.BuildIndex(cubes)
	s.model.Swap(idx)
	s.logger.Info("Schema updated", "cubes", idx.Len())

	return s.schemaAck(msg, SchemaUpdateResult{Status: "schema-updated", Cubes: idx.Len()})
}

func (s *Session) schemaAck(msg *JSONRPCMessage, ack SchemaUpdateResult) (*JSONRPCMessage, error) {
	if msg.IsNotification() {
		return s.notify("$/schemaUpdated", ack), nil
	}
	return s.respond(msg, ack)
}
