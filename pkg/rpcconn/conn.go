package rpcconn

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sammck-go/artirpc/pkg/rpcwire"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

const defaultDialTimeout = 30 * time.Second

// dialConfig collects the option-function settings for Dial.
type dialConfig struct {
	lg      logger.Logger
	timeout time.Duration
}

// DialOption adjusts how Dial builds a connection.
type DialOption func(cfg *dialConfig)

// WithLogger directs the connection's logging to lg. By default a
// warning-level logger writing to stderr is created.
func WithLogger(lg logger.Logger) DialOption {
	return func(cfg *dialConfig) {
		cfg.lg = lg
	}
}

// WithDialTimeout bounds establishment of the transport (not individual RPC
// calls, which have no deadline). The default is 30 seconds.
func WithDialTimeout(d time.Duration) DialOption {
	return func(cfg *dialConfig) {
		cfg.timeout = d
	}
}

// Conn is one authenticated RPC connection to a daemon. It is safe for
// concurrent use; requests from many goroutines are multiplexed over the
// single transport and demultiplexed by a dispatch goroutine that is the
// transport's only reader.
//
// A Conn whose transport fails or whose peer violates the protocol is
// poisoned: every outstanding and future operation fails with the same
// error. There is no reconnection; dial a new Conn.
type Conn struct {
	*asyncobj.Helper

	name string
	lg   logger.Logger

	t net.Conn
	r *rpcwire.Reader

	// wmu serializes writers so request lines are never interleaved. It is
	// never held together with the pending table's lock.
	wmu sync.Mutex
	w   *rpcwire.Writer

	tbl *pendingTable

	session string
}

// Dial connects to the daemon named by the connection descriptor connstr
// (see ConnString for the grammar), checks the protocol banner,
// authenticates, and starts the dispatch goroutine. The returned Conn is
// ready for requests; release it with Close.
func Dial(connstr string, opts ...DialOption) (*Conn, error) {
	cfg := &dialConfig{timeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.lg == nil {
		lg, err := logger.New(
			logger.WithWriter(os.Stderr),
			logger.WithLogLevel(logger.LogLevelWarning),
			logger.WithPrefix("artirpc"),
		)
		if err != nil {
			return nil, wrapError(StatusInternal, err, "cannot create logger")
		}
		cfg.lg = lg
	}

	cs, err := ParseConnString(connstr)
	if err != nil {
		return nil, err
	}
	nc, derr := transports[cs.Scheme](cs, cfg.timeout, cfg.lg)
	if derr != nil {
		return nil, wrapError(StatusConnectIO, derr, "cannot connect to %s", cs)
	}

	c := newConn(nc, cs.String(), cfg.lg)
	if herr := c.handshake(cs); herr != nil {
		c.Close()
		return nil, herr
	}
	c.lg.ILogf("connected to %s, session %q", cs, c.session)
	return c, nil
}

// newConn wraps an established transport. The caller must run handshake
// before using the Conn; the Conn owns nc from here on.
func newConn(nc net.Conn, name string, lg logger.Logger) *Conn {
	c := &Conn{
		name: fmt.Sprintf("<RpcConn %s>", name),
		t:    nc,
		r:    rpcwire.NewReader(nc),
		w:    rpcwire.NewWriter(nc),
	}
	c.lg = lg.ForkLogStr(c.name)
	c.tbl = newPendingTable(c.lg.ForkLogStr("dispatch"))
	c.Helper = asyncobj.NewHelper(c.lg, c)
	c.SetIsActivated()
	return c
}

func (c *Conn) String() string {
	return c.name
}

// handshake reads the banner, starts the dispatch loop, and authenticates
// with the method the descriptor selected.
func (c *Conn) handshake(cs *ConnString) error {
	if err := c.readBanner(); err != nil {
		return err
	}
	go c.dispatchLoop()

	var session string
	var err *Error
	switch cs.Auth {
	case AuthCookie:
		session, err = c.authenticateCookie(cs)
	default:
		session, err = c.authenticateInherent()
	}
	if err != nil {
		return err
	}
	c.session = session
	return nil
}

// Session returns the object id of the session the daemon opened for this
// connection at authentication time. Most requests are addressed to it.
func (c *Conn) Session() string {
	return c.session
}

// Close shuts the connection down and waits for shutdown to complete.
// Outstanding waits fail with StatusShutdown once their queued messages are
// consumed.
func (c *Conn) Close() error {
	return c.Helper.Close()
}

// HandleOnceShutdown is called exactly once when shutdown begins; it fails
// the pending table and closes the transport, which unblocks the dispatch
// loop.
func (c *Conn) HandleOnceShutdown(completionErr error) error {
	c.tbl.poison(newError(StatusShutdown, "connection closed"))
	err := c.t.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// dispatchLoop is the transport's only reader. It validates each inbound
// line and routes it through the pending table, exiting when the transport
// or the peer's behavior makes the connection unusable.
func (c *Conn) dispatchLoop() {
	for {
		line, rerr := c.r.ReadMsg()
		if rerr != nil {
			if rerr == io.EOF {
				c.tbl.poison(newError(StatusShutdown, "connection closed by peer"))
			} else {
				c.tbl.poison(wrapError(StatusShutdown, rerr, "transport read failed"))
			}
			return
		}
		c.lg.DLogf("<- %s", line)

		rsp, verr := rpcwire.ValidateResponse(line)
		if verr != nil {
			var fatal *rpcwire.FatalError
			if errors.As(verr, &fatal) {
				e := newError(StatusPeerProtocolViolation, "peer reported a connection-level error")
				c.tbl.poison(e.withResponse(fatal.Msg))
			} else {
				c.tbl.poison(wrapError(StatusPeerProtocolViolation, verr, "invalid message from peer"))
			}
			return
		}
		if derr := c.tbl.deliver(rsp); derr != nil {
			c.tbl.poison(derr)
			return
		}
	}
}

// send registers vr's id and writes it to the transport. Registration
// happens first so the reply can never outrun the table entry. A failed
// write may leave a half-written request on the stream, so it poisons the
// connection for everyone.
func (c *Conn) send(vr *rpcwire.ValidatedRequest) *Error {
	if err := c.tbl.register(vr.ID); err != nil {
		return err
	}
	c.lg.DLogf("-> %s", vr.ID)
	c.wmu.Lock()
	werr := c.w.WriteMsg(vr.Msg)
	c.wmu.Unlock()
	if werr != nil {
		e := wrapError(StatusShutdown, werr, "transport write failed")
		c.tbl.poison(e)
		return e
	}
	return nil
}

// ExecuteWithHandle sends the preformatted request msg and returns a Handle
// for collecting its responses. msg must be a well-formed request envelope;
// if it carries no id, one is assigned from the connection's reserved
// namespace and available from Handle.ID.
func (c *Conn) ExecuteWithHandle(msg string) (*Handle, error) {
	vr, err := rpcwire.ParseRequest(msg, c.tbl.generateID)
	if err != nil {
		return nil, wrapError(StatusInvalidInput, err, "invalid request")
	}
	if e := c.send(vr); e != nil {
		return nil, e
	}
	return &Handle{conn: c, id: vr.ID}, nil
}

// Execute sends the preformatted request msg and blocks for its outcome,
// discarding any update messages. On success the full result line is
// returned; an error reply from the daemon becomes a StatusRequestFailed
// error carrying the reply (see Error.Response), and the connection remains
// usable.
func (c *Conn) Execute(msg string) (string, error) {
	return c.execute(msg, nil)
}

// ExecuteWithUpdates is Execute with onUpdate invoked (from the calling
// goroutine) for each incremental update that arrives before the outcome.
// The request should set meta.updates, or the daemon will not send any.
func (c *Conn) ExecuteWithUpdates(msg string, onUpdate func(update string)) (string, error) {
	if onUpdate == nil {
		return "", newError(StatusInvalidInput, "onUpdate must not be nil")
	}
	return c.execute(msg, onUpdate)
}

func (c *Conn) execute(msg string, onUpdate func(string)) (string, error) {
	h, err := c.ExecuteWithHandle(msg)
	if err != nil {
		return "", err
	}
	defer h.Close()
	for {
		rsp, kind, werr := h.Wait()
		if werr != nil {
			return "", werr
		}
		switch kind {
		case rpcwire.KindUpdate:
			if onUpdate != nil {
				onUpdate(rsp)
			}
		case rpcwire.KindResult:
			return rsp, nil
		default: // rpcwire.KindError
			return "", errorFromReply(rsp)
		}
	}
}

// errorFromReply converts an error reply envelope into a *Error.
func errorFromReply(line string) *Error {
	msg := "unparseable error body"
	if rsp, err := rpcwire.ValidateResponse(line); err == nil {
		if re, err := rsp.DecodeError(); err == nil {
			msg = re.Message
		}
	}
	return newError(StatusRequestFailed, "request failed: %s", msg).withResponse(line)
}

// Release drops the daemon's reference to the object objID, ending its
// lifetime unless something else holds it. The id is unusable afterwards.
func (c *Conn) Release(objID string) error {
	req := rpcwire.NewRequest(c.session, "rpc:release", map[string]string{"obj": objID})
	if e := c.executeRequest(req, nil); e != nil {
		return e
	}
	return nil
}

// executeRequest runs one internally built request and, if out is non-nil,
// decodes the reply's result body into it.
func (c *Conn) executeRequest(req *rpcwire.Request, out interface{}) *Error {
	msg, err := req.Encode()
	if err != nil {
		return wrapError(StatusInternal, err, "cannot encode %s request", req.Method)
	}
	line, xerr := c.Execute(msg)
	if xerr != nil {
		if e, ok := xerr.(*Error); ok {
			return e
		}
		return wrapError(StatusInternal, xerr, "%s request failed", req.Method)
	}
	if out != nil {
		var env struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return wrapError(StatusPeerProtocolViolation, err, "malformed %s result", req.Method)
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return wrapError(StatusPeerProtocolViolation, err, "malformed %s result", req.Method)
		}
	}
	return nil
}
