package socks5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/outproxy/socks5gate/internal/netopt"
)

// Recorder receives connection-lifecycle observability events. Satisfied
// structurally by internal/metrics.Metrics; socks5 never imports metrics.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectReplySent(code byte)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()       {}
func (nopRecorder) ConnectionClosed()       {}
func (nopRecorder) ConnectReplySent(_ byte) {}

// Config holds the Server's tunables.
type Config struct {
	// ListenAddress/ListenPort name the TCP endpoint(s) to bind.
	ListenAddress string
	ListenPort    int

	// EnableIPv4/EnableIPv6 select which address families get an Acceptor.
	// setDefaults leaves them as given; Start fails when both are false.
	EnableIPv4 bool
	EnableIPv6 bool

	// MaxConnections caps concurrent connections per listener
	// (0 = unlimited), keeping a flood of clients from exhausting file
	// descriptors.
	MaxConnections int

	// IdleBeforeGreeting bounds accept-to-greeting: default 5s.
	IdleBeforeGreeting time.Duration
	// ConnectTimeout bounds the outbound dial: default 30s.
	ConnectTimeout time.Duration
	// RejectGrace is how long a client that offered no acceptable auth
	// method gets to close on its own: default 30s.
	RejectGrace time.Duration

	Logger   *slog.Logger
	Metrics  Recorder
	Dialer   Dialer
	Resolver Resolver
}

// setDefaults fills zero-value timeouts and collaborators without
// overriding anything the caller set explicitly.
func (c *Config) setDefaults() {
	if c.IdleBeforeGreeting <= 0 {
		c.IdleBeforeGreeting = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RejectGrace <= 0 {
		c.RejectGrace = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Metrics == nil {
		c.Metrics = nopRecorder{}
	}
	if c.Dialer == nil {
		c.Dialer = netopt.NewDialer(c.ConnectTimeout)
	}
}

// Server runs one Acceptor per enabled address family and hands every
// accepted socket to a new Connection.
type Server struct {
	cfg       Config
	connector *Connector

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	connCount atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server; call Start to bind and begin accepting.
func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:       cfg,
		connector: NewConnector(cfg.Dialer, cfg.Resolver, cfg.ConnectTimeout),
		conns:     make(map[net.Conn]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start binds a listener for each enabled address family and begins
// accepting connections. Listener creation runs under an errgroup so a
// bind failure on one family cancels the other before Start returns.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.EnableIPv4 && !s.cfg.EnableIPv6 {
		return errors.New("socks5: at least one of IPv4 or IPv6 must be enabled")
	}

	addr := net.JoinHostPort(s.cfg.ListenAddress, fmt.Sprintf("%d", s.cfg.ListenPort))

	var families []string
	if s.cfg.EnableIPv4 {
		families = append(families, "tcp4")
	}
	if s.cfg.EnableIPv6 {
		families = append(families, "tcp6")
	}

	g, gctx := errgroup.WithContext(ctx)
	listeners := make([]net.Listener, len(families))
	for i, network := range families {
		i, network := i, network
		g.Go(func() error {
			ln, err := netopt.Listen(gctx, network, addr)
			if err != nil {
				return fmt.Errorf("listen %s %s: %w", network, addr, err)
			}
			listeners[i] = ln
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ln := range listeners {
			if ln != nil {
				ln.Close()
			}
		}
		return err
	}

	s.mu.Lock()
	for _, ln := range listeners {
		if s.cfg.MaxConnections > 0 {
			ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
		}
		s.listeners = append(s.listeners, ln)
		s.wg.Add(1)
		go s.acceptLoop(ln)
	}
	s.mu.Unlock()

	s.cfg.Logger.Info("socks5 listening", "address", addr, "ipv4", s.cfg.EnableIPv4, "ipv6", s.cfg.EnableIPv6)
	return nil
}

// Stop closes every listener and tracked connection, then waits for the
// accept loops and in-flight connections to unwind.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		for _, ln := range s.listeners {
			ln.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// Address returns the bound address of the first listener, or nil before
// Start. With both families enabled the IPv4 listener comes first.
func (s *Server) Address() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// ConnectionCount reports the number of currently active connections.
func (s *Server) ConnectionCount() int64 {
	return s.connCount.Load()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.cfg.Logger.Warn("accept error", "error", err)
				continue
			}
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newConnection(s, conn).run()
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.connCount.Add(1)
	s.cfg.Metrics.ConnectionOpened()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if ok {
		s.connCount.Add(-1)
		s.cfg.Metrics.ConnectionClosed()
	}
}
