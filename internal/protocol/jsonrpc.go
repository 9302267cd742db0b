package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes. Codes above -32100 are league specific.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32001
	CodeConflict       = -32002
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC error object. It doubles as a Go error so handlers can
// return one directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRequest marshals params into a request with a fresh id.
func NewRequest(method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return &Request{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(strconv.Quote(uuid.NewString())),
	}, nil
}

// Validate checks the framing fields of an inbound request.
func (r *Request) Validate() error {
	if r.JSONRPC != jsonrpcVersion {
		return Errorf(CodeInvalidRequest, "jsonrpc must be %q", jsonrpcVersion)
	}
	if r.Method == "" {
		return Errorf(CodeInvalidRequest, "method is required")
	}
	return nil
}

// DecodeParams unmarshals the request params into v.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return Errorf(CodeInvalidParams, "params are required")
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return Errorf(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

// NewResult wraps a handler result into a response for id.
func NewResult(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &Response{JSONRPC: jsonrpcVersion, Result: raw, ID: orNull(id)}, nil
}

// NewErrorResponse wraps err into an error response for id. Errors that are
// not *Error are reported as internal errors.
func NewErrorResponse(id json.RawMessage, err error) *Response {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &Response{JSONRPC: jsonrpcVersion, Error: rpcErr, ID: orNull(id)}
}

// Decode unmarshals the result into v, or returns the response error.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return Errorf(CodeInvalidRequest, "response has no result")
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return Errorf(CodeParseError, "decoding result: %v", err)
	}
	return nil
}

func orNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
