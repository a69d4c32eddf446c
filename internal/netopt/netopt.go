// Package netopt configures the listening and outbound sockets the
// SOCKS5 proxy uses: a Linux-specific path that sets
// SO_REUSEADDR/TCP_NODELAY/keepalive via golang.org/x/sys/unix, and a
// no-op fallback everywhere else.
package netopt

import (
	"context"
	"net"
	"time"
)

// Listen returns a bound, listening TCP socket with SO_REUSEADDR set.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	return lc.Listen(ctx, network, address)
}

// NewDialer returns a *net.Dialer for outbound CONNECT targets with
// TCP_NODELAY and keepalive enabled on the resulting socket, bounded by
// timeout.
func NewDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   controlOutbound,
	}
}
