package rpcconn

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/sammck-go/artirpc/pkg/rpcwire"
	"github.com/sammck-go/logger"
)

const testSession = "session-1"

func testLogger(t *testing.T) logger.Logger {
	lg, err := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLogLevel(logger.LogLevelDebug),
		logger.WithPrefix(t.Name()),
	)
	if err != nil {
		t.Fatalf("logger.New() returned error: %s", err)
	}
	return lg
}

// requestHandler services one request that is not an authentication request.
// id is the raw JSON encoding of the request's id, ready to paste into a
// reply envelope.
type requestHandler func(d *fakeDaemon, id string, method string, req map[string]json.RawMessage)

// fakeDaemon scripts the server side of a connection: it sends the banner,
// answers auth:authenticate with testSession, and hands every other request
// to its handler.
type fakeDaemon struct {
	t         *testing.T
	nc        net.Conn
	r         *rpcwire.Reader
	wmu       sync.Mutex
	w         *rpcwire.Writer
	onRequest requestHandler
	done      chan struct{}
}

func newFakeDaemon(t *testing.T, nc net.Conn, onRequest requestHandler) *fakeDaemon {
	d := &fakeDaemon{
		t:         t,
		nc:        nc,
		r:         rpcwire.NewReader(nc),
		w:         rpcwire.NewWriter(nc),
		onRequest: onRequest,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// startConn wires a fakeDaemon to a live Conn over a socket pair, running
// the normal banner and inherent-auth handshake.
func startConn(t *testing.T, onRequest requestHandler) (*fakeDaemon, *Conn) {
	cnc, snc, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair.New failed: %s", err)
	}
	d := newFakeDaemon(t, snc, onRequest)
	c := newConn(cnc, "unix:/fake", testLogger(t))
	if herr := c.handshake(&ConnString{Scheme: "unix", Addr: "/fake", Auth: AuthInherent}); herr != nil {
		c.Close()
		t.Fatalf("handshake failed: %s", herr)
	}
	t.Cleanup(func() { c.Close() })
	return d, c
}

func (d *fakeDaemon) run() {
	defer close(d.done)
	d.send(`{"arti_rpc":{}}`)
	for {
		line, err := d.r.ReadMsg()
		if err != nil {
			return
		}
		var req map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}
		var method string
		json.Unmarshal(req["method"], &method)
		id := string(req["id"])
		if method == "auth:authenticate" {
			d.reply(id, `{"session":"`+testSession+`"}`)
			continue
		}
		if d.onRequest != nil {
			d.onRequest(d, id, method, req)
		} else {
			d.reply(id, `{}`)
		}
	}
}

// send writes one raw line to the client. Safe from any goroutine.
func (d *fakeDaemon) send(line string) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	d.w.WriteMsg(line)
}

// reply sends a result envelope.
func (d *fakeDaemon) reply(id string, result string) {
	d.send(fmt.Sprintf(`{"id":%s,"result":%s}`, id, result))
}

// replyError sends a well-formed error envelope.
func (d *fakeDaemon) replyError(id string, message string, code int, kind string) {
	d.send(fmt.Sprintf(`{"id":%s,"error":{"message":%q,"code":%d,"kinds":[%q]}}`, id, message, code, kind))
}

// close drops the daemon's end of the transport and waits for its loop to
// exit; the client sees EOF.
func (d *fakeDaemon) close() {
	d.nc.Close()
	<-d.done
}

// waitPoisoned blocks until the connection records a fatal error.
func waitPoisoned(t *testing.T, c *Conn) *Error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e := c.tbl.fatalError(); e != nil {
			return e
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connection was not poisoned within the deadline")
	return nil
}
