//go:build !linux

package netopt

import "syscall"

// controlReuseAddr is a no-op on non-Linux platforms; the standard
// library's net.ListenConfig already sets SO_REUSEADDR equivalents
// where the OS requires it for simple rebind-after-restart behavior.
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}

// controlOutbound is a no-op on non-Linux platforms. The Linux-specific
// version in netopt_linux.go sets TCP_NODELAY and keepalive tuning.
func controlOutbound(network, address string, c syscall.RawConn) error {
	return nil
}
