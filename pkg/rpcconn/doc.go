// Package rpcconn maintains client connections to an Arti RPC daemon.
//
// A Conn is created with Dial from a connection descriptor string such as
// "unix:/var/run/arti/rpc.sock" or "tcp:127.0.0.1:18929?auth=cookie:/var/run/arti/rpc.cookie".
// Dial opens the transport, checks the daemon's banner, authenticates, and
// starts a dispatch goroutine that is the transport's only reader. Requests
// are preformatted JSON lines submitted with Conn.Execute or
// Conn.ExecuteWithHandle; each in-flight request has an entry in a pending
// table, and inbound messages are routed to their request's mailbox by id.
//
// Conn.Connect opens a data stream through the daemon's SOCKS5 proxy port,
// tying the stream to the RPC session (or to a caller-chosen object) via the
// SOCKS username/password fields.
//
// Every error surfaced by this package is a *Error with a Status from a
// closed taxonomy; see StatusOf.
package rpcconn
