package rpcconn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sammck-go/artirpc/pkg/rpcwire"
)

const (
	// cookiePrefix begins every cookie file; it marks the file type and
	// doubles as a version tag.
	cookiePrefix = "====== arti-rpc-cookie-v1 ======"

	// cookieLen is the length of the secret that follows the prefix.
	cookieLen = 32

	// tupleHashCustomization personalizes the cookie-handshake MACs so
	// they cannot be confused with any other use of TupleHash.
	tupleHashCustomization = "arti-rpc-cookie-v1"

	// clientNonceLen is the length of the nonce we contribute to the
	// handshake; the daemon's nonce has the same length.
	clientNonceLen = 32
)

// readBanner consumes the first line the daemon sends after accepting a
// connection: a JSON object whose "arti_rpc" member announces the protocol.
// Anything else means we are not talking to an RPC daemon.
func (c *Conn) readBanner() *Error {
	line, err := c.r.ReadMsg()
	if err != nil {
		return wrapError(StatusPeerProtocolViolation, err, "connection closed before banner")
	}
	var banner struct {
		ArtiRPC json.RawMessage `json:"arti_rpc"`
	}
	if err := json.Unmarshal([]byte(line), &banner); err != nil || banner.ArtiRPC == nil {
		return newError(StatusPeerProtocolViolation, "peer did not send a protocol banner")
	}
	c.lg.DLogf("banner: %s", line)
	return nil
}

// executeAuthRequest is executeRequest with the daemon's rejections mapped
// to StatusBadAuth.
func (c *Conn) executeAuthRequest(req *rpcwire.Request, out interface{}) *Error {
	if e := c.executeRequest(req, out); e != nil {
		if e.Status() == StatusRequestFailed {
			return wrapError(StatusBadAuth, e, "authentication rejected").withResponse(e.Response())
		}
		return e
	}
	return nil
}

// authenticateInherent runs the auth:inherent scheme, in which having been
// able to open the socket at all is the proof of identity. The daemon
// answers with the session object for this connection.
func (c *Conn) authenticateInherent() (string, *Error) {
	var res struct {
		Session string `json:"session"`
	}
	req := rpcwire.NewRequest("connection", "auth:authenticate",
		map[string]string{"scheme": "auth:inherent"})
	if e := c.executeAuthRequest(req, &res); e != nil {
		return "", e
	}
	if res.Session == "" {
		return "", newError(StatusPeerProtocolViolation, "authentication reply carried no session")
	}
	return res.Session, nil
}

// authenticateCookie runs the auth:cookie handshake. Both sides prove
// possession of the daemon's secret cookie file by exchanging nonces and
// MACs bound to the canonical socket name, so a daemon listening somewhere
// else cannot replay them; then the daemon opens a session.
func (c *Conn) authenticateCookie(cs *ConnString) (string, *Error) {
	cookie, e := loadCookie(cs.CookiePath)
	if e != nil {
		return "", e
	}

	clientNonce := make([]byte, clientNonceLen)
	if _, err := rand.Read(clientNonce); err != nil {
		return "", wrapError(StatusInternal, err, "cannot generate nonce")
	}

	var begin struct {
		ServerNonce    hexBytes `json:"server_nonce"`
		ServerMAC      hexBytes `json:"server_mac"`
		CookieLocation string   `json:"cookie_location"`
	}
	req := rpcwire.NewRequest("connection", "auth:cookie_begin",
		map[string]string{"client_nonce": hexUpper(clientNonce)})
	if e := c.executeAuthRequest(req, &begin); e != nil {
		return "", e
	}
	if len(begin.ServerNonce) != clientNonceLen {
		return "", newError(StatusBadAuth, "daemon sent a %d-byte nonce", len(begin.ServerNonce))
	}

	socket := cs.String()
	wantMAC := cookieMAC(cookie, "Server", socket, clientNonce)
	if subtle.ConstantTimeCompare(wantMAC, begin.ServerMAC) != 1 {
		return "", newError(StatusBadAuth, "daemon could not prove knowledge of the cookie")
	}

	var cont struct {
		Session string `json:"session"`
	}
	clientMAC := cookieMAC(cookie, "Client", socket, begin.ServerNonce)
	req = rpcwire.NewRequest("connection", "auth:cookie_continue",
		map[string]string{"client_mac": hexUpper(clientMAC)})
	if e := c.executeAuthRequest(req, &cont); e != nil {
		return "", e
	}
	if cont.Session == "" {
		return "", newError(StatusPeerProtocolViolation, "authentication reply carried no session")
	}
	return cont.Session, nil
}

// loadCookie reads and checks the secret cookie file the daemon wrote at
// startup, returning the secret.
func loadCookie(path string) ([]byte, *Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(StatusBadAuth, err, "cannot read cookie file %s", path)
	}
	if len(data) != len(cookiePrefix)+cookieLen || string(data[:len(cookiePrefix)]) != cookiePrefix {
		return nil, newError(StatusBadAuth, "%s is not a cookie file", path)
	}
	return data[len(cookiePrefix):], nil
}

// cookieMAC computes one side's MAC in the cookie handshake:
// TupleHash128(cookie, role, socket, nonce) under this protocol's
// customization string. role is "Server" or "Client".
func cookieMAC(cookie []byte, role string, socket string, nonce []byte) []byte {
	return tupleHash128([]byte(tupleHashCustomization),
		cookie, []byte(role), []byte(socket), nonce)
}

// hexUpper encodes b as upper-case hex, the spelling the daemon expects.
func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// hexBytes unmarshals a JSON string of hex digits (either case) as bytes.
type hexBytes []byte

func (h *hexBytes) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return fmt.Errorf("invalid hex string: %v", err)
	}
	*h = b
	return nil
}
