// Package protocol implements the JSON-RPC 2.0 wire format used by the node
// endpoint: a request envelope with a caller-assigned integer id, and a
// response envelope carrying either a result or a structured error.
//
// The id is owned by the transport (monotonically increasing per connection)
// and is used only to correlate a response with its request.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Version is the fixed JSON-RPC protocol version string.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrMalformedResponse indicates a response that carried neither an error
// nor a usable result.
var ErrMalformedResponse = errors.New("jsonrpc: response has no result")

// Request is the JSON-RPC 2.0 call envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

// NewRequest builds a call envelope. Methods that take no parameters are
// sent with an empty params object rather than null.
func NewRequest(id uint64, method string, params any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// Response is the JSON-RPC 2.0 reply envelope. Exactly one of Result and
// Error is expected to be set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// Error is a structured error returned by the remote endpoint. It means the
// endpoint was reachable and understood the request, but rejected it.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: error %d: %s", e.Code, e.Message)
}

// EncodeRequest serializes the request envelope to the HTTP body.
func EncodeRequest(req *Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode request: %w", err)
	}
	return body, nil
}

// DecodeResponse parses a reply envelope from r. A non-null error field is
// returned as *Error; a success envelope with no result is rejected with
// ErrMalformedResponse.
func DecodeResponse(r io.Reader) (json.RawMessage, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("jsonrpc: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return nil, ErrMalformedResponse
	}
	return resp.Result, nil
}
