package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 framing for league.v2 messages over HTTP. The method is
// the lowercased message kind; params carry the envelope plus payload.

// RPCVersion is the JSON-RPC version tag.
const RPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
	RPCServerError    = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object. Data carries the protocol
// error code and retryable flag when the failure maps to the closed
// error table.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// NewRequest builds a request for the given method, serializing params.
func NewRequest(method string, params any, id any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Request{Version: RPCVersion, Method: method, Params: raw, ID: id}, nil
}

// DecodeParams unmarshals the request params into v.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return NewError(CodeMissingField, "params are required")
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return NewError(CodeMissingField, "malformed params").WithCause(err)
	}
	return nil
}

// NewResponse builds a success response, serializing result.
func NewResponse(result any, id any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{Version: RPCVersion, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response with a bare JSON-RPC code.
func NewErrorResponse(code int, message string, id any) *Response {
	return &Response{
		Version: RPCVersion,
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
}

// errorData is the structured payload attached to protocol-level errors.
type errorData struct {
	ErrorCode ErrorCode `json:"error_code"`
	ErrorName string    `json:"error_name"`
	Retryable bool      `json:"retryable"`
}

// ErrorResponseFrom maps an error to a JSON-RPC error response,
// preserving the protocol code in the error data when present.
func ErrorResponseFrom(err error, id any) *Response {
	rpcErr := &RPCError{Code: RPCServerError, Message: err.Error()}
	if code := CodeOf(err); code != "" {
		rpcErr.Code = RPCInvalidParams
		if code.Retryable() {
			rpcErr.Code = RPCServerError
		}
		rpcErr.Data = errorData{
			ErrorCode: code,
			ErrorName: code.Name(),
			Retryable: code.Retryable(),
		}
	}
	return &Response{Version: RPCVersion, Error: rpcErr, ID: id}
}

// ProtocolErrorOf recovers a protocol Error from a decoded RPC error
// response, falling back to a non-retryable wrapper.
func ProtocolErrorOf(rpcErr *RPCError) *Error {
	if rpcErr == nil {
		return nil
	}
	if raw, err := json.Marshal(rpcErr.Data); err == nil {
		var data errorData
		if err := json.Unmarshal(raw, &data); err == nil && data.ErrorCode.IsValid() {
			return NewError(data.ErrorCode, rpcErr.Message)
		}
	}
	return &Error{Code: "", Message: rpcErr.Message, Retryable: false}
}

// DecodeResult unmarshals a response result into v.
func (r *Response) DecodeResult(v any) error {
	if r.Error != nil {
		return ProtocolErrorOf(r.Error)
	}
	if len(r.Result) == 0 {
		return NewError(CodeMissingField, "empty result")
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return NewError(CodeMissingField, "malformed result").WithCause(err)
	}
	return nil
}
