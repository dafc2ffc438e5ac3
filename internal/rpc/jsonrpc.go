package rpc

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Standard JSON-RPC 2.0 error codes plus the node's own.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeBlockNotFound is returned by chain_getBlock for unknown numbers.
	CodeBlockNotFound = -32000
	// CodeInvalidTransaction is returned when the pool refuses a transaction.
	CodeInvalidTransaction = 1010
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// decodeParams unmarshals positional params into dst. Missing params leave
// dst untouched.
func decodeParams(raw json.RawMessage, dst ...interface{}) *Error {
	if len(raw) == 0 || string(raw) == "null" {
		if len(dst) > 0 {
			return errorf(CodeInvalidParams, "expected %d param(s)", len(dst))
		}
		return nil
	}

	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return errorf(CodeInvalidParams, "params must be an array: %v", err)
	}
	if len(params) != len(dst) {
		return errorf(CodeInvalidParams, "expected %d param(s), got %d", len(dst), len(params))
	}
	for i, p := range params {
		if err := json.Unmarshal(p, dst[i]); err != nil {
			return errorf(CodeInvalidParams, "param %d: %v", i, err)
		}
	}
	return nil
}
