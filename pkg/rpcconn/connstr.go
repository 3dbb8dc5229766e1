package rpcconn

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// AuthMethod selects how Dial authenticates after the transport is up.
type AuthMethod int

const (
	// AuthInherent proves identity by the very ability to open the socket;
	// the daemon is expected to restrict who can connect.
	AuthInherent AuthMethod = iota

	// AuthCookie proves identity with MACs over a secret cookie file the
	// daemon wrote at startup.
	AuthCookie
)

// ConnString is a parsed connection descriptor. The grammar is
//
//	scheme:location[?auth=none|?auth=cookie:<path>]
//
// where scheme:location is one of
//
//	unix:<absolute socket path>
//	tcp:<host:port>
//	ws://host[:port]/path  (also wss://)
//
// Parsing is deterministic: a descriptor either yields exactly one transport
// plan or fails.
type ConnString struct {
	// Scheme is "unix", "tcp", "ws", or "wss".
	Scheme string

	// Addr is the dial address: the socket path for unix, host:port for
	// tcp, or the full URL for ws/wss.
	Addr string

	// Auth is the authentication method; AuthInherent unless the
	// descriptor says otherwise.
	Auth AuthMethod

	// CookiePath is the cookie file path when Auth is AuthCookie.
	CookiePath string
}

// String reconstructs the scheme:location part of the descriptor. This is
// also the canonical socket name bound into cookie-authentication MACs, so
// client and daemon must spell the location identically.
func (cs *ConnString) String() string {
	if cs.Scheme == "ws" || cs.Scheme == "wss" {
		return cs.Addr
	}
	return cs.Scheme + ":" + cs.Addr
}

// ParseConnString parses a connection descriptor. Malformed descriptors
// fail with StatusInvalidInput; well-formed descriptors naming a scheme or
// auth method this library does not know fail with StatusNotSupported.
func ParseConnString(s string) (*ConnString, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, newError(StatusInvalidInput, "empty connection descriptor")
	}

	base := s
	query := ""
	if i := strings.Index(s, "?auth="); i >= 0 {
		base, query = s[:i], s[i+1:]
	}

	cs := &ConnString{Auth: AuthInherent}
	switch {
	case strings.HasPrefix(base, "unix:"):
		path := base[len("unix:"):]
		if !strings.HasPrefix(path, "/") {
			return nil, newError(StatusInvalidInput, "unix socket path must be absolute in %q", s)
		}
		cs.Scheme, cs.Addr = "unix", path

	case strings.HasPrefix(base, "tcp:"):
		addr := base[len("tcp:"):]
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, newError(StatusInvalidInput, "tcp address must be host:port in %q", s)
		}
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 || host == "" {
			return nil, newError(StatusInvalidInput, "bad tcp address %q", addr)
		}
		cs.Scheme, cs.Addr = "tcp", addr

	case strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://"):
		u, err := url.Parse(base)
		if err != nil || u.Host == "" {
			return nil, newError(StatusInvalidInput, "bad websocket URL %q", base)
		}
		cs.Scheme, cs.Addr = u.Scheme, base

	default:
		scheme := base
		if i := strings.IndexByte(base, ':'); i >= 0 {
			scheme = base[:i]
		}
		return nil, newError(StatusNotSupported, "unrecognized connection scheme %q", scheme)
	}

	if query != "" {
		if err := parseAuthQuery(cs, query); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func parseAuthQuery(cs *ConnString, query string) error {
	val := strings.TrimPrefix(query, "auth=")
	switch {
	case val == "none":
		cs.Auth = AuthInherent
	case strings.HasPrefix(val, "cookie:"):
		path := val[len("cookie:"):]
		if !strings.HasPrefix(path, "/") {
			return newError(StatusInvalidInput, "cookie file path must be absolute in %q", query)
		}
		cs.Auth, cs.CookiePath = AuthCookie, path
	default:
		return newError(StatusNotSupported, "unrecognized auth method %q", val)
	}
	return nil
}
