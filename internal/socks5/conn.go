package socks5

import (
	"context"
	"net"
	"time"

	"github.com/outproxy/socks5gate/internal/logging"
)

// status tags a connection's protocol phase. Transitions only move
// forward, with one exception: clientMustClose is terminal-on-next-read.
type status int

const (
	statusInit status = iota
	statusClientMustClose
	statusAuthorized
	statusConnectWait
	statusRelaying
)

// connection holds the state for one accepted client. It exclusively
// owns the client stream endpoint and, once CONNECT succeeds, the
// upstream endpoint; only its own goroutines (run, the ConnectWait
// monitor and the relay pumps) touch either.
type connection struct {
	server *Server
	client net.Conn

	status status
	buf    []byte // inbound parse buffer for the client
}

func newConnection(s *Server, client net.Conn) *connection {
	return &connection{server: s, client: client, status: statusInit}
}

// run drives the connection end to end: greeting, request, connect,
// relay. It never returns an error — every failure ends in closing the
// connection; per-connection faults are never fatal to the process.
func (c *connection) run() {
	defer c.client.Close()

	if !c.runGreeting() {
		return
	}
	if c.status == statusClientMustClose {
		c.drainUntilClose(c.server.cfg.RejectGrace)
		return
	}

	req, ok := c.runRequest()
	if !ok {
		return
	}

	switch req.command {
	case CmdConnect:
		c.runConnect(req)
	default:
		// Well-formed but unsupported (BIND, UDP ASSOCIATE): reply, then close.
		c.client.Write(shortReply(ReplyCmdNotSupported))
		c.server.cfg.Metrics.ConnectReplySent(ReplyCmdNotSupported)
	}
}

// runGreeting reads until the greeting decodes, picks NO_AUTH if
// offered, replies, and transitions to authorized or clientMustClose.
// Returns false if the connection should already be torn down (malformed
// greeting, I/O error, or the pre-greeting idle deadline firing).
func (c *connection) runGreeting() bool {
	c.client.SetReadDeadline(time.Now().Add(c.server.cfg.IdleBeforeGreeting))
	defer c.client.SetReadDeadline(time.Time{})

	g, ok := c.readGreetingFrame()
	if !ok {
		return false
	}

	if g.hasMethod(AuthMethodNoAuth) {
		if _, err := c.client.Write([]byte{Version, AuthMethodNoAuth}); err != nil {
			return false
		}
		c.status = statusAuthorized
		return true
	}

	c.client.Write([]byte{Version, AuthMethodNoAcceptable})
	c.status = statusClientMustClose
	return true
}

// runRequest reads the client's request once authentication settles.
func (c *connection) runRequest() (request, bool) {
	return c.readRequestFrame()
}

// readGreetingFrame and readRequestFrame read from c.client into c.buf
// until their decoder reports Done or Malformed, tolerating arbitrarily
// fragmented reads. On Done they consume exactly the parsed frame,
// leaving any trailing bytes in c.buf for the next phase: payload that
// arrives early is retained, not rejected.
func (c *connection) readGreetingFrame() (greeting, bool) {
	for {
		status, consumed, g, _ := decodeGreeting(c.buf)
		switch status {
		case statusDone:
			c.buf = c.buf[consumed:]
			return g, true
		case statusMalformed:
			return greeting{}, false
		}
		if !c.fill() {
			return greeting{}, false
		}
	}
}

func (c *connection) readRequestFrame() (request, bool) {
	for {
		status, consumed, req, reason := decodeRequest(c.buf)
		switch status {
		case statusDone:
			c.buf = c.buf[consumed:]
			return req, true
		case statusMalformed:
			switch reason {
			case reasonBadAddrType:
				c.client.Write(shortReply(ReplyAddrNotSupported))
				c.server.cfg.Metrics.ConnectReplySent(ReplyAddrNotSupported)
			default:
				c.client.Write(shortReply(ReplyCmdNotSupported))
				c.server.cfg.Metrics.ConnectReplySent(ReplyCmdNotSupported)
			}
			return request{}, false
		}
		if !c.fill() {
			return request{}, false
		}
	}
}

// fill reads more bytes from the client into c.buf. Returns false on EOF
// or error, or once the buffer outgrows the largest legal frame (a
// request with a 255-byte domain is 262 bytes) by a safe margin.
func (c *connection) fill() bool {
	if len(c.buf) > 300 {
		return false
	}
	tmp := make([]byte, 256)
	n, err := c.client.Read(tmp)
	if n > 0 {
		c.buf = append(c.buf, tmp[:n]...)
	}
	return err == nil
}

// runConnect dials the requested destination and, on success, sends the
// bound-address reply and hands both endpoints to the relay.
func (c *connection) runConnect(req request) {
	c.status = statusConnectWait

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errantClient := make(chan bool, 1)
	monitorDone := make(chan struct{})
	connectDone := make(chan struct{})

	// While the dial is in flight the client must not send anything:
	// poll for unexpected bytes, and treat any read — data or EOF — as
	// grounds to cancel the dial.
	go func() {
		defer close(monitorDone)
		buf := make([]byte, 1)
		for {
			select {
			case <-connectDone:
				return
			default:
			}
			c.client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, err := c.client.Read(buf)
			select {
			case <-connectDone:
				return
			default:
			}
			if n > 0 {
				errantClient <- true
				cancel()
				return
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				errantClient <- false
				cancel()
				return
			}
		}
	}()

	outcome := c.server.connector.Connect(ctx, req)
	close(connectDone)
	c.client.SetReadDeadline(time.Now().Add(-time.Second))
	<-monitorDone
	c.client.SetReadDeadline(time.Time{})

	select {
	case wasData := <-errantClient:
		if outcome.conn != nil {
			outcome.conn.Close()
		}
		if wasData {
			// Errant client: close with no reply.
			return
		}
		// Client disconnected or erred while we were dialing: no reply.
		return
	default:
	}

	if outcome.conn == nil {
		code := replyCodeFor(outcome.failure)
		c.server.cfg.Logger.Debug("connect failed",
			logging.KeyRemoteAddr, c.client.RemoteAddr().String(),
			logging.KeyReplyCode, code,
			logging.KeyError, outcome.err)
		c.client.Write(shortReply(code))
		c.server.cfg.Metrics.ConnectReplySent(code)
		return
	}

	upstream := outcome.conn
	defer upstream.Close()

	c.server.cfg.Logger.Debug("connect established",
		logging.KeyRemoteAddr, c.client.RemoteAddr().String(),
		logging.KeyBoundAddr, outcome.bound.String())

	if _, err := c.client.Write(encodeReply(ReplySucceeded, outcome.bound)); err != nil {
		return
	}
	c.server.cfg.Metrics.ConnectReplySent(ReplySucceeded)

	// Any bytes the client queued after the request must reach the
	// upstream before the relay starts, preserving their order.
	if len(c.buf) > 0 {
		if _, err := upstream.Write(c.buf); err != nil {
			return
		}
		c.buf = nil
	}

	c.status = statusRelaying
	c.client.SetDeadline(time.Time{})
	relay(c.client, upstream)
}

// drainUntilClose handles the aftermath of a rejected method
// negotiation: the proxy already sent `{0x05, 0xFF}` and RFC 1928 says
// the client must close. Wait up to grace for that, closing immediately
// if any further byte arrives instead.
func (c *connection) drainUntilClose(grace time.Duration) {
	c.client.SetReadDeadline(time.Now().Add(grace))
	buf := make([]byte, 1)
	c.client.Read(buf) // any outcome (data, EOF, or timeout) ends the connection
}
