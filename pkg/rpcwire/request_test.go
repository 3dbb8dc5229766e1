package rpcwire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGeneratedID(t *testing.T) {
	if got := GeneratedID(0); got != RequestID(`"!auto!--0"`) {
		t.Errorf("GeneratedID(0) = %s", got)
	}
	if got := GeneratedID(77); got != RequestID(`"!auto!--77"`) {
		t.Errorf("GeneratedID(77) = %s", got)
	}
}

func noGen(t *testing.T) func() RequestID {
	return func() RequestID {
		t.Fatal("id generator called for a request that already has an id")
		return ""
	}
}

func TestParseRequestAssignsID(t *testing.T) {
	var n uint64
	gen := func() RequestID {
		id := GeneratedID(n)
		n++
		return id
	}
	vr, err := ParseRequest(`{"obj":"fred","method":"arti:x-frob","params":{}}`, gen)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if vr.ID != GeneratedID(0) {
		t.Errorf("assigned id = %s", vr.ID)
	}
	if !strings.HasSuffix(vr.Msg, "\n") || strings.Count(vr.Msg, "\n") != 1 {
		t.Errorf("bad framing: %q", vr.Msg)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(vr.Msg), &fields); err != nil {
		t.Fatalf("re-encoded request is not JSON: %v", err)
	}
	if string(fields["id"]) != `"!auto!--0"` {
		t.Errorf("id on the wire = %s", fields["id"])
	}
}

func TestParseRequestKeepsCallerID(t *testing.T) {
	cases := []struct {
		msg  string
		want RequestID
	}{
		{`{"obj":"fred","method":"arti:x-frob","params":{},"id":7}`, "7"},
		{`{"obj":"fred","method":"arti:x-frob","params":{},"id":"fred"}`, `"fred"`},
	}
	for _, c := range cases {
		vr, err := ParseRequest(c.msg, noGen(t))
		if err != nil {
			t.Errorf("ParseRequest(%q) failed: %v", c.msg, err)
			continue
		}
		if vr.ID != c.want {
			t.Errorf("ParseRequest(%q) id = %s, want %s", c.msg, vr.ID, c.want)
		}
	}
}

func TestParseRequestPreservesUnknownMembers(t *testing.T) {
	msg := `{"obj":"fred","method":"arti:x-frob","params":{},"id":3,"waffles":"yes"}`
	vr, err := ParseRequest(msg, noGen(t))
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(vr.Msg), &fields); err != nil {
		t.Fatal(err)
	}
	if string(fields["waffles"]) != `"yes"` {
		t.Errorf("unrecognized member not preserved: %s", vr.Msg)
	}
}

func TestParseRequestRejects(t *testing.T) {
	bad := []string{
		`{"method":"m","params":{}}`,
		`{"obj":"fred","params":{}}`,
		`{"obj":"fred","method":"m"}`,
		`{"obj":"fred","method":"m","params":7}`,
		`{"obj":"fred","method":"m","params":[]}`,
		`{"obj":7,"method":"m","params":{}}`,
		`{"obj":"fred","method":7,"params":{}}`,
		`{"obj":"fred","method":"m","params":{},"meta":7}`,
		`{"obj":"fred","method":"m","params":{},"id":true}`,
		`{"obj":"fred","method":"m","params":{},"id":[1]}`,
		`{"obj":"fred","method":"m","params":{},"id":7.5}`,
		`7`,
		`[]`,
		`this is not json`,
	}
	gen := func() RequestID { return GeneratedID(0) }
	for _, msg := range bad {
		if _, err := ParseRequest(msg, gen); err == nil {
			t.Errorf("ParseRequest(%q) unexpectedly succeeded", msg)
		}
	}
}

func TestRequestEncodeRoundTrip(t *testing.T) {
	req := NewRequest("connection", "auth:authenticate", map[string]string{"scheme": "auth:inherent"})
	msg, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	vr, err := ParseRequest(msg, func() RequestID { return GeneratedID(9) })
	if err != nil {
		t.Fatalf("encoded request does not validate: %v", err)
	}
	if vr.ID != GeneratedID(9) {
		t.Errorf("id = %s", vr.ID)
	}
}

func TestRequestEncodeNilParams(t *testing.T) {
	msg, err := NewRequest("session", "arti:get_rpc_proxy_info", nil).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(msg, `"params":{}`) {
		t.Errorf("nil params did not encode as an empty object: %s", msg)
	}
}
