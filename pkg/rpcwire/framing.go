package rpcwire

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Reader reads newline-delimited messages from a transport. It is not safe
// for concurrent use; a connection has exactly one reader.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader framing messages out of r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadMsg returns the next nonempty line, without its trailing newline.
// It returns io.EOF once the peer has closed the stream.
func (r *Reader) ReadMsg() (string, error) {
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Peer closed without terminating its last line.
				return strings.TrimRight(line, "\r\n"), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
}

// Writer frames outbound messages. Each message goes out in a single Write
// call on the underlying writer, so one message is never interleaved with
// another even when the caller serializes access with a mutex rather than
// owning the transport outright.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer framing messages onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMsg writes one message, adding the trailing newline if msg lacks it.
func (w *Writer) WriteMsg(msg string) error {
	body := strings.TrimSuffix(msg, "\n")
	if strings.ContainsAny(body, "\n\x00") {
		return fmt.Errorf("message contains an interior newline or NUL byte")
	}
	_, err := io.WriteString(w.w, body+"\n")
	return err
}
