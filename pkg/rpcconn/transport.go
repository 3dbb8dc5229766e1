package rpcconn

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sammck-go/logger"
)

// transportDialFunc opens the byte-stream transport for one parsed
// descriptor. The returned net.Conn is owned by the caller.
type transportDialFunc func(cs *ConnString, timeout time.Duration, lg logger.Logger) (net.Conn, error)

// transports maps descriptor schemes to their dialers. ParseConnString only
// emits schemes present here.
var transports = map[string]transportDialFunc{
	"unix": dialNetTransport,
	"tcp":  dialNetTransport,
	"ws":   dialWsTransport,
	"wss":  dialWsTransport,
}

func dialNetTransport(cs *ConnString, timeout time.Duration, lg logger.Logger) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.Dial(cs.Scheme, cs.Addr)
}

func dialWsTransport(cs *ConnString, timeout time.Duration, lg logger.Logger) (net.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout}
	wsConn, _, err := d.Dial(cs.Addr, nil)
	if err != nil {
		return nil, err
	}
	lg.DLogf("websocket transport to %s established", cs.Addr)
	return newWsNetConn(wsConn), nil
}
