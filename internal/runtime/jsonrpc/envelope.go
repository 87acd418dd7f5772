package jsonrpc

import (
	"bytes"
	"fmt"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var nullID = jsoncodec.RawMessage("null")

// Request is a decoded call envelope. A nil ID marks a notification.
type Request struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      jsoncodec.RawMessage `json:"id,omitempty"`
	Method  string               `json:"method"`
	Params  jsoncodec.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is the envelope written back for every non-notification call.
// Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      jsoncodec.RawMessage `json:"id"`
	Result  jsoncodec.RawMessage `json:"result,omitempty"`
	Error   *WireError           `json:"error,omitempty"`
}

// WireError is the error object carried in a Response.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func NewParseError(detail string) *WireError {
	return &WireError{Code: CodeParseError, Message: "Parse error", Data: nonEmpty(detail)}
}

func NewInvalidRequest(detail string) *WireError {
	return &WireError{Code: CodeInvalidRequest, Message: "Invalid request", Data: nonEmpty(detail)}
}

func NewMethodNotFound(method string) *WireError {
	return &WireError{Code: CodeMethodNotFound, Message: "Method not found", Data: nonEmpty(method)}
}

func NewInvalidParams(detail string) *WireError {
	return &WireError{Code: CodeInvalidParams, Message: "Invalid params", Data: nonEmpty(detail)}
}

func NewInternalError(detail string) *WireError {
	return &WireError{Code: CodeInternalError, Message: "Internal error", Data: nonEmpty(detail)}
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func successResponse(id jsoncodec.RawMessage, result jsoncodec.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

func errorResponse(id jsoncodec.RawMessage, err *WireError) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: err}
}

func normalizeID(id jsoncodec.RawMessage) jsoncodec.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// parseRequest decodes one call object. Field presence is checked on the raw
// object so that "id": null stays distinguishable from a missing id.
func parseRequest(raw jsoncodec.RawMessage) (*Request, *WireError) {
	var fields map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, NewInvalidRequest("request must be an object")
	}

	req := &Request{}
	if id, ok := fields["id"]; ok {
		id = bytes.TrimSpace(id)
		if !validID(id) {
			return nil, NewInvalidRequest("id must be a string, number or null")
		}
		req.ID = id
	}

	version, ok := fields["jsonrpc"]
	if !ok || jsoncodec.Unmarshal(version, &req.JSONRPC) != nil || req.JSONRPC != Version {
		return req, NewInvalidRequest(`jsonrpc must be "2.0"`)
	}

	method, ok := fields["method"]
	if !ok || jsoncodec.Unmarshal(method, &req.Method) != nil || req.Method == "" {
		return req, NewInvalidRequest("method must be a non-empty string")
	}

	if params, ok := fields["params"]; ok {
		params = bytes.TrimSpace(params)
		if len(params) == 0 || (params[0] != '[' && params[0] != '{') {
			return req, NewInvalidRequest("params must be an array or an object")
		}
		req.Params = params
	}
	return req, nil
}

func validID(id []byte) bool {
	if len(id) == 0 {
		return false
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return bytes.Equal(id, nullID)
	}
}
