package rpcconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != StatusSuccess {
		t.Error("StatusOf(nil)")
	}
	if StatusOf(io.EOF) != StatusInternal {
		t.Error("StatusOf of a foreign error")
	}
	e := newError(StatusBadAuth, "nope")
	if StatusOf(e) != StatusBadAuth {
		t.Error("StatusOf(*Error)")
	}
	if StatusOf(fmt.Errorf("outer: %w", e)) != StatusBadAuth {
		t.Error("StatusOf through a wrap")
	}
}

func TestWrapErrorOSCode(t *testing.T) {
	cause := &net.OpError{Op: "dial", Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	e := wrapError(StatusConnectIO, cause, "cannot connect")
	if e.OSCode() != int(syscall.ECONNREFUSED) {
		t.Errorf("OSCode() = %d", e.OSCode())
	}
	if !errors.Is(e, syscall.ECONNREFUSED) {
		t.Error("cause not reachable through Unwrap")
	}
	if newError(StatusInternal, "x").OSCode() != 0 {
		t.Error("OSCode() of a local error")
	}
}

func TestErrorAccessors(t *testing.T) {
	e := newError(StatusRequestFailed, "request failed: %s", "iffy wobbler").
		withResponse(`{"id":1,"error":{"message":"iffy wobbler","code":2,"kinds":["BadVibes"]}}`)
	if e.Status() != StatusRequestFailed {
		t.Errorf("Status() = %s", e.Status())
	}
	if e.Response() == "" {
		t.Error("Response() empty")
	}
	c := e.Clone()
	if c == e || c.Status() != e.Status() || c.Response() != e.Response() || c.Error() != e.Error() {
		t.Error("Clone() is not an independent equal copy")
	}
}

func TestStatusStrings(t *testing.T) {
	all := []Status{
		StatusSuccess, StatusInvalidInput, StatusNotSupported, StatusConnectIO,
		StatusBadAuth, StatusPeerProtocolViolation, StatusShutdown,
		StatusInternal, StatusRequestFailed, StatusRequestCancelled, StatusProxyIO,
	}
	seen := map[string]bool{}
	for _, s := range all {
		str := s.String()
		if str == "" || seen[str] {
			t.Errorf("Status %d stringifies to %q", int(s), str)
		}
		seen[str] = true
	}
}
