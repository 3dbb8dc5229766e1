package rpcwire

import (
	"encoding/json"
	"fmt"
)

// ResponseKind classifies a validated response envelope.
type ResponseKind int

const (
	// KindUpdate is a non-terminal incremental message for a request.
	KindUpdate ResponseKind = iota
	// KindResult is the terminal success message for a request.
	KindResult
	// KindError is the terminal failure message for a request.
	KindError
)

func (k ResponseKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ResponseKind(%d)", int(k))
	}
}

// Peer error codes: values of the "code" member of an error body. The first
// four are inherited from JSON-RPC; the last two are specific to this
// protocol. Peers may introduce further codes, so these are documentation,
// not a validation whitelist; "kinds" is the extensible classification.
const (
	CodeInvalidRequest int32 = -32600
	CodeNoSuchMethod   int32 = -32601
	CodeInvalidParams  int32 = -32602
	CodeInternalError  int32 = -32603
	CodeObjectError    int32 = 1
	CodeRequestError   int32 = 2
)

// RpcError is the decoded body of an error response.
type RpcError struct {
	Message string          `json:"message"`
	Code    int32           `json:"code"`
	Kinds   []string        `json:"kinds"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// decodeRpcError validates raw as an error body. "message", "code" and
// "kinds" are all required; members we do not recognize are ignored.
func decodeRpcError(raw json.RawMessage) (*RpcError, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("error body is not a JSON object: %v", err)
	}
	var e RpcError
	msgRaw, ok := fields["message"]
	if !ok {
		return nil, fmt.Errorf("error body has no \"message\" member")
	}
	if err := json.Unmarshal(msgRaw, &e.Message); err != nil {
		return nil, fmt.Errorf("error body \"message\" member must be a string")
	}
	codeRaw, ok := fields["code"]
	if !ok {
		return nil, fmt.Errorf("error body has no \"code\" member")
	}
	if err := json.Unmarshal(codeRaw, &e.Code); err != nil {
		return nil, fmt.Errorf("error body \"code\" member must be an integer")
	}
	kindsRaw, ok := fields["kinds"]
	if !ok {
		return nil, fmt.Errorf("error body has no \"kinds\" member")
	}
	if err := json.Unmarshal(kindsRaw, &e.Kinds); err != nil {
		return nil, fmt.Errorf("error body \"kinds\" member must be an array of strings")
	}
	e.Data = fields["data"]
	return &e, nil
}

// FatalError is returned by ValidateResponse for an id-less error envelope:
// the peer's way of reporting a failure that poisons the whole connection
// rather than any one request.
type FatalError struct {
	// Msg is the raw envelope as received.
	Msg string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error reported by peer: %s", e.Msg)
}

// Response is one validated inbound message.
type Response struct {
	msg  string
	id   RequestID
	kind ResponseKind
}

// Msg returns the raw envelope as received, without its trailing newline.
func (r *Response) Msg() string { return r.msg }

// ID returns the id of the request this message answers.
func (r *Response) ID() RequestID { return r.id }

// Kind returns the message's classification.
func (r *Response) Kind() ResponseKind { return r.kind }

// IsFinal reports whether this is the last message the peer will send for
// its request.
func (r *Response) IsFinal() bool { return r.kind != KindUpdate }

// DecodeError decodes the error body of a KindError response.
func (r *Response) DecodeError() (*RpcError, error) {
	if r.kind != KindError {
		return nil, fmt.Errorf("response is a %s, not an error", r.kind)
	}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(r.msg), &env); err != nil {
		return nil, err
	}
	return decodeRpcError(env.Error)
}

// ValidateResponse checks line as a response envelope: a JSON object carrying
// exactly one of "result", "error" (which must decode as a well-formed error
// body), or "update", plus the "id" of the request it answers. An error
// envelope with no id is the peer reporting a connection-level failure; for
// that case ValidateResponse returns a *FatalError.
func ValidateResponse(line string) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %v", err)
	}

	var kind ResponseKind
	nbodies := 0
	if _, ok := fields["update"]; ok {
		kind = KindUpdate
		nbodies++
	}
	if _, ok := fields["result"]; ok {
		kind = KindResult
		nbodies++
	}
	if errRaw, ok := fields["error"]; ok {
		kind = KindError
		nbodies++
		if _, err := decodeRpcError(errRaw); err != nil {
			return nil, err
		}
	}
	if nbodies != 1 {
		return nil, fmt.Errorf("response must have exactly one of \"result\", \"error\", or \"update\"; found %d", nbodies)
	}

	idRaw, ok := fields["id"]
	if !ok {
		if kind == KindError {
			return nil, &FatalError{Msg: line}
		}
		return nil, fmt.Errorf("%s response has no \"id\" member", kind)
	}
	id, err := decodeRequestID(idRaw)
	if err != nil {
		return nil, err
	}

	return &Response{msg: line, id: id, kind: kind}, nil
}
