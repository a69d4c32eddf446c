package socks5

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Dialer is the subset of *net.Dialer the Connector needs, an interface
// so tests can substitute a fake.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver is the subset of *net.Resolver the Connector needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Connector resolves a destination (if it names a domain), dials it,
// and reports the outbound socket's bound local address.
type Connector struct {
	dialer   Dialer
	resolver Resolver
	timeout  time.Duration
}

// NewConnector builds a Connector. A nil resolver falls back to
// net.DefaultResolver on first use.
func NewConnector(dialer Dialer, resolver Resolver, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Connector{dialer: dialer, resolver: resolver, timeout: timeout}
}

// connectOutcome carries either a connected net.Conn with its bound
// local address, or a classified failure kind.
type connectOutcome struct {
	conn    net.Conn
	bound   *net.TCPAddr
	failure connectFailureKind
	err     error
}

// Connect resolves req's destination (if it names a domain) and attempts
// a single outbound TCP connection to the first resolved address, bounded
// by c.timeout. It never retries additional resolved addresses; a SOCKS
// client that wants another attempt reconnects and asks again.
func (c *Connector) Connect(ctx context.Context, req request) connectOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	host := req.host
	if req.addrType == AddrTypeDomain {
		resolved, err := c.resolve(ctx, host)
		if err != nil {
			return connectOutcome{failure: classifyConnectError(err), err: err}
		}
		host = resolved
	}

	target := net.JoinHostPort(host, strconv.Itoa(int(req.port)))
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return connectOutcome{failure: kindTTLExpired, err: err}
		}
		return connectOutcome{failure: classifyConnectError(err), err: err}
	}

	bound, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return connectOutcome{failure: kindGeneralFailure, err: errors.New("outbound socket has no TCP local address")}
	}

	return connectOutcome{conn: conn, bound: bound}
}

// resolve looks up host and returns the first resolved address as a
// literal string, or a *net.DNSError-classified error.
func (c *Connector) resolve(ctx context.Context, host string) (string, error) {
	r := c.resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", &net.DNSError{Err: "no addresses found", Name: host}
	}
	return addrs[0].IP.String(), nil
}
