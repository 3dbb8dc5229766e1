package rpcconn

import (
	"sync"

	"github.com/sammck-go/artirpc/pkg/rpcwire"
)

// Handle collects the responses to one request. Any number of goroutines
// may call Wait concurrently; each message is delivered to exactly one of
// them, in arrival order. A Handle must eventually be closed (consuming the
// terminal message counts), or messages for its request accumulate in the
// connection's pending table.
type Handle struct {
	conn *Conn
	id   rpcwire.RequestID

	mu      sync.Mutex
	closed  bool
	retired bool // terminal message has been consumed
}

// ID returns the request id this handle collects responses for, as it
// appears on the wire (so string ids include their quotes).
func (h *Handle) ID() string {
	return h.id.String()
}

// Wait blocks until the next message for the request arrives and returns
// its raw JSON line and kind. A KindResult or KindError message is the last
// one; after it has been returned, further calls fail with StatusInternal.
// Wait on a closed handle fails with StatusRequestCancelled, and once the
// connection is poisoned Wait fails with the connection's fatal error after
// draining any messages that arrived before the failure.
func (h *Handle) Wait() (string, rpcwire.ResponseKind, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", 0, newError(StatusRequestCancelled, "request %s was cancelled", h.id)
	}
	if h.retired {
		h.mu.Unlock()
		return "", 0, newError(StatusInternal, "request %s is no longer active", h.id)
	}
	h.mu.Unlock()

	rsp, werr := h.conn.tbl.wait(h.id)
	if werr != nil {
		if werr != errGone {
			return "", 0, werr
		}
		// The entry left the table while we were blocked: either another
		// waiter consumed the terminal message or the handle was closed.
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return "", 0, newError(StatusRequestCancelled, "request %s was cancelled", h.id)
		}
		return "", 0, newError(StatusInternal, "request %s is no longer active", h.id)
	}

	if rsp.IsFinal() {
		h.mu.Lock()
		h.retired = true
		h.mu.Unlock()
	}
	return rsp.Msg(), rsp.Kind(), nil
}

// Close releases the handle. If the request has not finished, delivery
// stops and the peer's remaining messages for it are quietly dropped as
// they arrive; the daemon is not told to stop working on the request.
// Close is idempotent and is a no-op after the terminal message has been
// consumed.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed || h.retired {
		h.closed = true
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.conn.tbl.discard(h.id)
	return nil
}
