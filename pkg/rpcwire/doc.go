// Package rpcwire implements the message encoding used on an Arti RPC
// connection: newline-delimited JSON envelopes. Outbound requests are JSON
// objects with "obj", "method" and "params" members and a caller-chosen or
// generated "id"; inbound responses carry the same "id" back along with
// exactly one of "result", "error", or "update". The package validates and
// re-frames messages but assigns no meaning to method names or parameters;
// that is the caller's business.
package rpcwire
