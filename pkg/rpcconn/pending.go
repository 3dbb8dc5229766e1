package rpcconn

import (
	"sync"

	"github.com/sammck-go/artirpc/pkg/rpcwire"
	"github.com/sammck-go/logger"
)

// pendingEntry tracks one in-flight request.
type pendingEntry struct {
	// queue is the FIFO mailbox of messages delivered by the dispatch loop
	// but not yet consumed by a waiter.
	queue []*rpcwire.Response

	// closed is set once a terminal message has been queued. Any further
	// message for the same id is a protocol violation.
	closed bool

	// ready carries one wakeup token per delivery (capacity 1, non-blocking
	// send), so racing waiters consume messages one at a time. It is closed
	// when the entry leaves the table, releasing every remaining waiter.
	ready chan struct{}
}

// errGone is the sentinel wait returns when the entry has left the table;
// Handle translates it based on why the entry is gone.
var errGone = newError(StatusRequestCancelled, "request is no longer pending")

// pendingTable correlates inbound messages with the requests awaiting them.
// All fields are guarded by mu. The transport's write side is guarded
// separately (Conn.wmu); the two locks are never held together, so a slow
// write cannot stall message delivery.
type pendingTable struct {
	lg logger.Logger

	mu      sync.Mutex
	pending map[rpcwire.RequestID]*pendingEntry

	// discarded holds ids whose handles were closed before the terminal
	// message arrived. Messages for these ids are dropped instead of being
	// treated as protocol violations; the terminal message removes the id.
	discarded map[rpcwire.RequestID]struct{}

	// fatal is the first connection-level failure, set at most once;
	// failed is closed at the same moment to release blocked waiters.
	// Messages already queued stay consumable after fatal is set.
	fatal  *Error
	failed chan struct{}

	nextSeq uint64
}

func newPendingTable(lg logger.Logger) *pendingTable {
	return &pendingTable{
		lg:        lg,
		pending:   make(map[rpcwire.RequestID]*pendingEntry),
		discarded: make(map[rpcwire.RequestID]struct{}),
		failed:    make(chan struct{}),
	}
}

// generateID returns a fresh request id in the reserved namespace. Ids are
// never reused for the life of the connection.
func (t *pendingTable) generateID() rpcwire.RequestID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := rpcwire.GeneratedID(t.nextSeq)
	t.nextSeq++
	return id
}

// register adds an entry for id. The entry goes in before the request is
// written to the transport, so a fast reply can never arrive for an id the
// dispatch loop does not know.
func (t *pendingTable) register(id rpcwire.RequestID) *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal != nil {
		return t.fatal
	}
	if _, ok := t.pending[id]; ok {
		return newError(StatusInvalidInput, "request id %s is already in use", id)
	}
	if _, ok := t.discarded[id]; ok {
		return newError(StatusInvalidInput, "request id %s is still awaiting its final message", id)
	}
	t.pending[id] = &pendingEntry{ready: make(chan struct{}, 1)}
	return nil
}

// discard stops delivery for id. If the terminal message has not arrived
// yet, the id is tombstoned so the peer's remaining messages for it are
// silently dropped. Waiters blocked on the entry are released.
func (t *pendingTable) discard(id rpcwire.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.pending[id]
	if !ok {
		return
	}
	delete(t.pending, id)
	if !ent.closed {
		t.discarded[id] = struct{}{}
	}
	close(ent.ready)
}

// poison records the connection's fatal error. Every wait fails with err
// once its mailbox drains; sends fail immediately.
func (t *pendingTable) poison(err *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal != nil {
		return
	}
	t.lg.WLogf("connection failed: %s", err)
	t.fatal = err
	close(t.failed)
}

// fatalError returns the poison error, or nil if the connection is healthy.
func (t *pendingTable) fatalError() *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

// deliver routes one validated inbound message. A non-nil return is a
// protocol violation; the dispatch loop poisons the connection with it.
func (t *pendingTable) deliver(rsp *rpcwire.Response) *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := rsp.ID()
	if _, ok := t.discarded[id]; ok {
		if rsp.IsFinal() {
			delete(t.discarded, id)
		}
		t.lg.DLogf("dropping %s for released request %s", rsp.Kind(), id)
		return nil
	}
	ent, ok := t.pending[id]
	if !ok {
		return newError(StatusPeerProtocolViolation, "peer sent a %s for unknown request id %s", rsp.Kind(), id)
	}
	if ent.closed {
		return newError(StatusPeerProtocolViolation, "peer sent a %s after the final message for request id %s", rsp.Kind(), id)
	}
	ent.queue = append(ent.queue, rsp)
	if rsp.IsFinal() {
		ent.closed = true
	}
	select {
	case ent.ready <- struct{}{}:
	default:
	}
	return nil
}

// wait blocks until a message for id is consumable and returns it, removing
// the entry when the consumed message is final. Each message goes to exactly
// one of any racing waiters, in delivery order. Queued messages remain
// consumable after the connection is poisoned; once the mailbox is empty the
// poison error is returned. errGone means the entry has left the table.
func (t *pendingTable) wait(id rpcwire.RequestID) (*rpcwire.Response, *Error) {
	for {
		t.mu.Lock()
		ent, ok := t.pending[id]
		if !ok {
			t.mu.Unlock()
			return nil, errGone
		}
		if len(ent.queue) > 0 {
			rsp := ent.queue[0]
			ent.queue = ent.queue[1:]
			if rsp.IsFinal() {
				delete(t.pending, id)
				close(ent.ready)
			} else if len(ent.queue) > 0 {
				// More is queued; pass the wakeup on.
				select {
				case ent.ready <- struct{}{}:
				default:
				}
			}
			t.mu.Unlock()
			return rsp, nil
		}
		if t.fatal != nil {
			err := t.fatal
			t.mu.Unlock()
			return nil, err
		}
		ready := ent.ready
		t.mu.Unlock()

		select {
		case <-ready:
		case <-t.failed:
		}
	}
}
