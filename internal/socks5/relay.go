package socks5

import (
	"io"
	"net"
	"sync"
)

// relayBufPool pools the buffers used to pump bytes between client and
// upstream, avoiding a 32 KiB allocation per relay direction per
// connection.
var relayBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 32*1024)
		return &buf
	},
}

// halfCloser is implemented by connections that support half-close
// (in practice *net.TCPConn). Relaying one direction's EOF signals the
// other endpoint via CloseWrite instead of fully closing the socket.
type halfCloser interface {
	CloseWrite() error
}

// relay pumps bytes full-duplex between client and upstream and returns
// once both directions have ended (EOF or error), with the first non-nil
// error among them in completion order. Ordering within one
// direction is preserved by io.CopyBuffer; there is no ordering
// guarantee across directions.
//
// Backpressure comes from the blocking copies themselves: a slow reader
// on one side fills that side's kernel send buffer, which blocks the
// pump's Write, which stops its next Read from the other side.
func relay(client, upstream net.Conn) error {
	errCh := make(chan error, 2)

	go func() { errCh <- pump(upstream, client) }()
	go func() { errCh <- pump(client, upstream) }()

	first := <-errCh
	second := <-errCh
	if first != nil {
		return first
	}
	return second
}

// pump copies from src to dst using a pooled buffer, then half-closes
// dst's write side (or closes it outright if it doesn't support
// half-close) so the peer observes EOF promptly.
func pump(dst, src net.Conn) error {
	bufp := relayBufPool.Get().(*[]byte)
	defer relayBufPool.Put(bufp)

	_, err := io.CopyBuffer(dst, src, *bufp)

	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	} else {
		dst.Close()
	}
	return err
}
