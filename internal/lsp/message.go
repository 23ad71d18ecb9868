package lsp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC error codes used by the transports.
const (
	CodeParseError     = -32700
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
)

// JSONRPCMessage represents a JSON-RPC 2.0 message. A message with a method
// and no ID is a notification and never gets a response.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// IsNotification reports whether msg carries no ID.
func (m *JSONRPCMessage) IsNotification() bool {
	return m.ID == nil
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrUnhandledMethod is returned for any method the dispatcher does not know.
var ErrUnhandledMethod = errors.New("unhandled method")

// UnhandledMethodError names the method that could not be dispatched.
type UnhandledMethodError struct {
	Method string
}

func (e *UnhandledMethodError) Error() string {
	return fmt.Sprintf("unhandled method %s", e.Method)
}

// Is makes errors.Is(err, ErrUnhandledMethod) hold.
func (e *UnhandledMethodError) Is(target error) bool {
	return target == ErrUnhandledMethod
}

// NewRequest builds a request message, mostly for clients and tests.
func NewRequest(id int, method string, params any) (*JSONRPCMessage, error) {
	raw := json.RawMessage(fmt.Sprintf("%d", id))
	msg := &JSONRPCMessage{JSONRPC: "2.0", ID: &raw, Method: method}
	if err := msg.setParams(params); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (*JSONRPCMessage, error) {
	msg := &JSONRPCMessage{JSONRPC: "2.0", Method: method}
	if err := msg.setParams(params); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *JSONRPCMessage) setParams(params any) error {
	if params == nil {
		return nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", m.Method, err)
	}
	m.Params = b
	return nil
}

func newResponse(id *json.RawMessage, result any) (*JSONRPCMessage, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &JSONRPCMessage{JSONRPC: "2.0", ID: id, Result: b}, nil
}

func newErrorResponse(id *json.RawMessage, code int, message string) *JSONRPCMessage {
	if id == nil {
		null := json.RawMessage("null")
		id = &null
	}
	return &JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}
