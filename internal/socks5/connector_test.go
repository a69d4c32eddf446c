package socks5

import (
	"context"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

// ============================================================================
// Helper Types
// ============================================================================

// tcpAddrConn wraps a net.Conn (typically one end of a net.Pipe) with a
// TCP-shaped local address so the Connector's getsockname step sees a
// *net.TCPAddr.
type tcpAddrConn struct {
	net.Conn
	local *net.TCPAddr
}

func (c tcpAddrConn) LocalAddr() net.Addr { return c.local }

// fakeDialer records the address it was asked to dial and returns a canned
// conn or error, optionally after a delay (bounded by ctx).
type fakeDialer struct {
	conn  net.Conn
	err   error
	delay time.Duration

	gotNetwork string
	gotAddress string
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.gotNetwork = network
	d.gotAddress = address
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// fakeResolver returns canned addresses or a canned error, recording
// whether it was consulted at all.
type fakeResolver struct {
	addrs  []net.IPAddr
	err    error
	called bool
}

func (r *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.called = true
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs, nil
}

func pipeUpstream(t *testing.T, port int) (net.Conn, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	wrapped := tcpAddrConn{Conn: near, local: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}}
	return wrapped, far
}

// ============================================================================
// Connector Tests
// ============================================================================

func TestConnector_LiteralSkipsResolver(t *testing.T) {
	near, far := pipeUpstream(t, 4321)
	defer far.Close()

	resolver := &fakeResolver{}
	dialer := &fakeDialer{conn: near}
	c := NewConnector(dialer, resolver, time.Second)

	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeIPv4,
		host:     "127.0.0.1",
		port:     80,
	})
	if outcome.conn == nil {
		t.Fatalf("Connect failed: kind=%v err=%v", outcome.failure, outcome.err)
	}
	defer outcome.conn.Close()

	if resolver.called {
		t.Error("resolver was consulted for an IP literal")
	}
	if dialer.gotAddress != "127.0.0.1:80" {
		t.Errorf("dialed %q, want 127.0.0.1:80", dialer.gotAddress)
	}
	if outcome.bound == nil || outcome.bound.Port != 4321 {
		t.Errorf("bound = %v, want port 4321", outcome.bound)
	}
}

func TestConnector_DomainUsesFirstResolved(t *testing.T) {
	near, far := pipeUpstream(t, 1)
	defer far.Close()

	resolver := &fakeResolver{addrs: []net.IPAddr{
		{IP: net.IPv4(10, 0, 0, 1)},
		{IP: net.IPv4(10, 0, 0, 2)},
	}}
	dialer := &fakeDialer{conn: near}
	c := NewConnector(dialer, resolver, time.Second)

	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeDomain,
		host:     "example.com",
		port:     443,
	})
	if outcome.conn == nil {
		t.Fatalf("Connect failed: kind=%v err=%v", outcome.failure, outcome.err)
	}
	defer outcome.conn.Close()

	if !resolver.called {
		t.Error("resolver was not consulted for a domain")
	}
	if dialer.gotAddress != "10.0.0.1:443" {
		t.Errorf("dialed %q, want first resolved address 10.0.0.1:443", dialer.gotAddress)
	}
}

func TestConnector_ResolverError(t *testing.T) {
	resolver := &fakeResolver{err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}}
	c := NewConnector(&fakeDialer{}, resolver, time.Second)

	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeDomain,
		host:     "nope.invalid",
		port:     80,
	})
	if outcome.conn != nil {
		t.Fatal("Connect should have failed")
	}
	if outcome.failure != kindDNSError {
		t.Errorf("failure = %v, want kindDNSError", outcome.failure)
	}
}

func TestConnector_EmptyResolutionIsDNSError(t *testing.T) {
	resolver := &fakeResolver{addrs: nil}
	c := NewConnector(&fakeDialer{}, resolver, time.Second)

	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeDomain,
		host:     "empty.example",
		port:     80,
	})
	if outcome.conn != nil {
		t.Fatal("Connect should have failed")
	}
	if outcome.failure != kindDNSError {
		t.Errorf("failure = %v, want kindDNSError", outcome.failure)
	}
}

func TestConnector_DialErrorsClassified(t *testing.T) {
	tests := []struct {
		name  string
		errno syscall.Errno
		want  connectFailureKind
	}{
		{"refused", syscall.ECONNREFUSED, kindConnectionRefused},
		{"net unreachable", syscall.ENETUNREACH, kindNetUnreachable},
		{"host unreachable", syscall.EHOSTUNREACH, kindHostUnreachable},
		{"timed out", syscall.ETIMEDOUT, kindTTLExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{err: &net.OpError{
				Op:  "dial",
				Net: "tcp",
				Err: os.NewSyscallError("connect", tt.errno),
			}}
			c := NewConnector(dialer, &fakeResolver{}, time.Second)

			outcome := c.Connect(context.Background(), request{
				command:  CmdConnect,
				addrType: AddrTypeIPv4,
				host:     "192.0.2.1",
				port:     80,
			})
			if outcome.conn != nil {
				t.Fatal("Connect should have failed")
			}
			if outcome.failure != tt.want {
				t.Errorf("failure = %v, want %v", outcome.failure, tt.want)
			}
		})
	}
}

func TestConnector_TimeoutIsTTLExpired(t *testing.T) {
	dialer := &fakeDialer{delay: time.Second}
	c := NewConnector(dialer, &fakeResolver{}, 50*time.Millisecond)

	start := time.Now()
	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeIPv4,
		host:     "192.0.2.1",
		port:     80,
	})
	if outcome.conn != nil {
		t.Fatal("Connect should have failed")
	}
	if outcome.failure != kindTTLExpired {
		t.Errorf("failure = %v, want kindTTLExpired", outcome.failure)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Connect took %v, should be bounded by the 50ms timeout", elapsed)
	}
}

func TestConnector_NonTCPLocalAddrIsGeneralFailure(t *testing.T) {
	near, far := net.Pipe() // pipe addresses are not *net.TCPAddr
	defer far.Close()

	dialer := &fakeDialer{conn: near}
	c := NewConnector(dialer, &fakeResolver{}, time.Second)

	outcome := c.Connect(context.Background(), request{
		command:  CmdConnect,
		addrType: AddrTypeIPv4,
		host:     "127.0.0.1",
		port:     80,
	})
	if outcome.conn != nil {
		t.Fatal("Connect should have failed")
	}
	if outcome.failure != kindGeneralFailure {
		t.Errorf("failure = %v, want kindGeneralFailure", outcome.failure)
	}
}
