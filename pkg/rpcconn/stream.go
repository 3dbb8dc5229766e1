package rpcconn

import (
	"encoding/json"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sammck-go/artirpc/pkg/rpcwire"
)

// socksUsernamePrefix marks the SOCKS username as carrying an RPC object id,
// per the extended-auth encoding of the daemon's SOCKS port.
const socksUsernamePrefix = "<torS0X>1"

// SOCKS5 wire constants, RFC 1928/1929.
const (
	socksVersion        = 5
	socksAuthUserPass   = 2
	socksAuthNoneOK     = 0
	socksAuthNoAccept   = 0xff
	socksAuthVersion    = 1
	socksCmdConnect     = 1
	socksAddrIPv4       = 1
	socksAddrDomain     = 3
	socksAddrIPv6       = 4
	socksReplySucceeded = 0
)

// socksReplyString names the failure codes a CONNECT reply can carry.
func socksReplyString(code byte) string {
	switch code {
	case 1:
		return "general server failure"
	case 2:
		return "connection not allowed"
	case 3:
		return "network unreachable"
	case 4:
		return "host unreachable"
	case 5:
		return "connection refused"
	case 6:
		return "TTL expired"
	case 7:
		return "command not supported"
	case 8:
		return "address type not supported"
	default:
		return "unknown failure"
	}
}

// ConnectOptions adjusts how Conn.Connect opens a data stream.
type ConnectOptions struct {
	// OnObject proxies the stream through the given client-like RPC object
	// instead of the session.
	OnObject string

	// Isolation keeps this stream apart from streams opened with any other
	// isolation value; the daemon will not route them together. Leave empty
	// if streams need not be isolated from each other.
	Isolation string
}

// Connect asks the daemon to open an anonymized data stream to
// hostname:port and returns the connected socket. The hostname is passed to
// the daemon verbatim; resolving it locally first would hand the target
// name to a non-anonymous resolver, so don't.
//
// The caller owns the returned net.Conn.
func (c *Conn) Connect(hostname string, port uint16, opts *ConnectOptions) (net.Conn, error) {
	nc, _, err := c.connectStream(hostname, port, opts, false)
	return nc, err
}

// ConnectWithObject is Connect, but first registers the new stream with the
// RPC system and returns its object id alongside the socket, for later
// control calls. The caller owns both; release the object with
// Conn.Release when done with it.
func (c *Conn) ConnectWithObject(hostname string, port uint16, opts *ConnectOptions) (net.Conn, string, error) {
	return c.connectStream(hostname, port, opts, true)
}

func (c *Conn) connectStream(hostname string, port uint16, opts *ConnectOptions, wantObj bool) (net.Conn, string, error) {
	if opts == nil {
		opts = &ConnectOptions{}
	}
	if hostname == "" || len(hostname) > 255 || strings.ContainsAny(hostname, "\x00\n") {
		return nil, "", newError(StatusInvalidInput, "bad target hostname")
	}
	if port == 0 {
		return nil, "", newError(StatusInvalidInput, "bad target port")
	}

	onObject := opts.OnObject
	if onObject == "" {
		onObject = c.session
	}

	streamObj := ""
	if wantObj {
		var res struct {
			ID string `json:"id"`
		}
		req := rpcwire.NewRequest(onObject, "arti:new_stream_handle", nil)
		if e := c.executeRequest(req, &res); e != nil {
			return nil, "", e
		}
		if res.ID == "" {
			return nil, "", newError(StatusPeerProtocolViolation, "new stream handle reply carried no id")
		}
		streamObj = res.ID
		onObject = streamObj
	}

	nc, err := c.openSocksStream(hostname, port, onObject, opts.Isolation)
	if err != nil {
		if streamObj != "" {
			// Best effort; the daemon reaps the object at disconnect anyway.
			if rerr := c.Release(streamObj); rerr != nil {
				c.lg.WLogf("cannot release stream object %s: %s", streamObj, rerr)
			}
		}
		return nil, "", err
	}
	return nc, streamObj, nil
}

// proxyAddr asks the daemon where its SOCKS listener is and returns the
// first usable TCP address.
func (c *Conn) proxyAddr() (string, *Error) {
	var info struct {
		Proxies []struct {
			Listener map[string]json.RawMessage `json:"listener"`
		} `json:"proxies"`
	}
	req := rpcwire.NewRequest(c.session, "arti:get_rpc_proxy_info", nil)
	if e := c.executeRequest(req, &info); e != nil {
		return "", e
	}
	for _, p := range info.Proxies {
		raw, ok := p.Listener["socks5"]
		if !ok {
			continue
		}
		var socks struct {
			TCPAddress string `json:"tcp_address"`
		}
		if err := json.Unmarshal(raw, &socks); err != nil || socks.TCPAddress == "" {
			continue
		}
		return socks.TCPAddress, nil
	}
	return "", newError(StatusNotSupported, "daemon has no usable SOCKS proxy")
}

// openSocksStream dials the daemon's SOCKS port and negotiates a CONNECT to
// hostname:port, identifying the stream's owning object and isolation group
// through the username/password fields.
func (c *Conn) openSocksStream(hostname string, port uint16, objID string, isolation string) (net.Conn, *Error) {
	proxy, e := c.proxyAddr()
	if e != nil {
		return nil, e
	}

	username := socksUsernamePrefix + objID
	if len(username) > 255 || len(isolation) > 255 {
		return nil, newError(StatusInvalidInput, "object id or isolation too long for the proxy handshake")
	}

	d := net.Dialer{Timeout: defaultDialTimeout}
	nc, derr := d.Dial("tcp", proxy)
	if derr != nil {
		return nil, wrapError(StatusProxyIO, derr, "cannot connect to SOCKS proxy %s", proxy)
	}
	if err := negotiateSocks(nc, hostname, port, username, isolation); err != nil {
		nc.Close()
		return nil, err
	}
	c.lg.DLogf("stream to %s:%d open via %s", hostname, port, proxy)
	return nc, nil
}

// negotiateSocks runs the client side of a SOCKS5 CONNECT with
// username/password authentication on nc. The target hostname goes in a
// domain-typed address, never resolved here.
func negotiateSocks(nc net.Conn, hostname string, port uint16, username, password string) *Error {
	// A daemon that stalls mid-handshake should not hang the caller
	// forever.
	nc.SetDeadline(time.Now().Add(defaultDialTimeout))
	defer nc.SetDeadline(time.Time{})

	// Greeting: we offer exactly one method, username/password.
	if _, err := nc.Write([]byte{socksVersion, 1, socksAuthUserPass}); err != nil {
		return wrapError(StatusProxyIO, err, "proxy greeting failed")
	}
	var reply [2]byte
	if _, err := io.ReadFull(nc, reply[:]); err != nil {
		return wrapError(StatusProxyIO, err, "proxy greeting failed")
	}
	if reply[0] != socksVersion {
		return newError(StatusProxyIO, "proxy speaks SOCKS version %d", reply[0])
	}
	if reply[1] != socksAuthUserPass {
		return newError(StatusProxyIO, "proxy refused username/password authentication (method %#x)", reply[1])
	}

	// RFC 1929 sub-negotiation.
	auth := make([]byte, 0, 3+len(username)+len(password))
	auth = append(auth, socksAuthVersion, byte(len(username)))
	auth = append(auth, username...)
	auth = append(auth, byte(len(password)))
	auth = append(auth, password...)
	if _, err := nc.Write(auth); err != nil {
		return wrapError(StatusProxyIO, err, "proxy authentication failed")
	}
	if _, err := io.ReadFull(nc, reply[:]); err != nil {
		return wrapError(StatusProxyIO, err, "proxy authentication failed")
	}
	if reply[1] != 0 {
		return newError(StatusProxyIO, "proxy rejected stream credentials (status %d)", reply[1])
	}

	// CONNECT with a domain-typed address.
	req := make([]byte, 0, 7+len(hostname))
	req = append(req, socksVersion, socksCmdConnect, 0, socksAddrDomain, byte(len(hostname)))
	req = append(req, hostname...)
	req = append(req, byte(port>>8), byte(port))
	if _, err := nc.Write(req); err != nil {
		return wrapError(StatusProxyIO, err, "proxy connect request failed")
	}

	var head [4]byte
	if _, err := io.ReadFull(nc, head[:]); err != nil {
		return wrapError(StatusProxyIO, err, "proxy connect reply truncated")
	}
	if head[0] != socksVersion {
		return newError(StatusProxyIO, "malformed proxy connect reply")
	}
	var bindLen int
	switch head[3] {
	case socksAddrIPv4:
		bindLen = 4
	case socksAddrIPv6:
		bindLen = 16
	case socksAddrDomain:
		var n [1]byte
		if _, err := io.ReadFull(nc, n[:]); err != nil {
			return wrapError(StatusProxyIO, err, "proxy connect reply truncated")
		}
		bindLen = int(n[0])
	default:
		return newError(StatusProxyIO, "malformed proxy connect reply (address type %d)", head[3])
	}
	if _, err := io.CopyN(io.Discard, nc, int64(bindLen)+2); err != nil {
		return wrapError(StatusProxyIO, err, "proxy connect reply truncated")
	}

	if head[1] != socksReplySucceeded {
		return newError(StatusProxyIO, "proxy refused connection: %s (code %d)", socksReplyString(head[1]), head[1])
	}
	return nil
}
