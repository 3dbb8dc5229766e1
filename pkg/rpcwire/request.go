package rpcwire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GeneratedIDPrefix is the namespace used for request ids assigned on behalf
// of callers that did not pick one. Callers that choose their own ids should
// stay out of this namespace so generated ids can never collide with theirs.
const GeneratedIDPrefix = "!auto!--"

// RequestID identifies one request on a connection. On the wire it is a JSON
// string or integer; RequestID holds the canonical JSON encoding of the value
// so that ids of either type compare correctly as map keys.
type RequestID string

// String returns the id as it appears on the wire, for logging.
func (id RequestID) String() string {
	return string(id)
}

// GeneratedID returns the id assigned to the n'th id-less request sent on a
// connection.
func GeneratedID(n uint64) RequestID {
	enc, _ := json.Marshal(fmt.Sprintf("%s%d", GeneratedIDPrefix, n))
	return RequestID(enc)
}

// decodeRequestID validates raw as a JSON string or integer and returns its
// canonical encoding.
func decodeRequestID(raw json.RawMessage) (RequestID, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("malformed request id: %v", err)
	}
	switch x := v.(type) {
	case string:
		enc, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return RequestID(enc), nil
	case json.Number:
		if strings.ContainsAny(x.String(), ".eE") {
			return "", fmt.Errorf("request id must be a string or an integer, not a float")
		}
		return RequestID(x.String()), nil
	default:
		return "", fmt.Errorf("request id must be a string or an integer")
	}
}

// RequestMeta is the "meta" member of a request envelope.
type RequestMeta struct {
	// Updates asks the peer to send incremental update messages for this
	// request before its final result or error.
	Updates bool `json:"updates,omitempty"`
}

// Request builds an outbound request envelope for the calls this library
// makes on its own behalf (authentication, proxy discovery, object release).
// User requests arrive as preformatted strings and go through ParseRequest
// instead.
type Request struct {
	ObjID  string       `json:"obj"`
	Method string       `json:"method"`
	Params interface{}  `json:"params"`
	Meta   *RequestMeta `json:"meta,omitempty"`
}

// NewRequest returns a request invoking method on the object objID. params
// must marshal to a JSON object; pass nil for an empty parameter list.
func NewRequest(objID string, method string, params interface{}) *Request {
	return &Request{ObjID: objID, Method: method, Params: params}
}

// Encode marshals the request as a single id-less JSON line. ParseRequest
// assigns the id when the request is sent.
func (r *Request) Encode() (string, error) {
	req := *r
	if req.Params == nil {
		req.Params = struct{}{}
	}
	enc, err := json.Marshal(&req)
	if err != nil {
		return "", err
	}
	return string(enc), nil
}

// ValidatedRequest is a request that has been checked for well-formedness,
// given an id if it lacked one, and re-encoded as a single newline-terminated
// line ready for the transport.
type ValidatedRequest struct {
	// ID is the request's id, caller-chosen or generated.
	ID RequestID

	// Msg is the re-encoded envelope, ending in exactly one newline and
	// containing no interior newlines or NUL bytes.
	Msg string
}

// ParseRequest validates msg as a request envelope. msg must be a JSON object
// with string-valued "obj" and "method" members and an object-valued "params"
// member; a "meta" member, if present, must be an object. Members this
// package does not recognize are preserved verbatim, so callers can use
// protocol extensions without this library's cooperation. If msg carries no
// "id", genID is called to assign one.
func ParseRequest(msg string, genID func() RequestID) (*ValidatedRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(msg), &fields); err != nil {
		return nil, fmt.Errorf("request is not a JSON object: %v", err)
	}

	var obj string
	raw, ok := fields["obj"]
	if !ok {
		return nil, fmt.Errorf("request has no \"obj\" member")
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("request \"obj\" member must be a string")
	}

	var method string
	raw, ok = fields["method"]
	if !ok {
		return nil, fmt.Errorf("request has no \"method\" member")
	}
	if err := json.Unmarshal(raw, &method); err != nil {
		return nil, fmt.Errorf("request \"method\" member must be a string")
	}

	raw, ok = fields["params"]
	if !ok {
		return nil, fmt.Errorf("request has no \"params\" member")
	}
	if !isJSONObject(raw) {
		return nil, fmt.Errorf("request \"params\" member must be an object")
	}

	if raw, ok = fields["meta"]; ok && !isJSONObject(raw) {
		return nil, fmt.Errorf("request \"meta\" member must be an object")
	}

	var id RequestID
	if raw, ok = fields["id"]; ok {
		var err error
		if id, err = decodeRequestID(raw); err != nil {
			return nil, err
		}
	} else {
		id = genID()
	}
	fields["id"] = json.RawMessage(id)

	enc, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return &ValidatedRequest{ID: id, Msg: string(enc) + "\n"}, nil
}

// isJSONObject reports whether raw's first token opens a JSON object.
func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b == '{'
		}
	}
	return false
}
