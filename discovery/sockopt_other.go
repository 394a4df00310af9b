//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package discovery

import "syscall"

// controlSocket is a no-op where the reuse socket options are not
// available; the platform default bind semantics apply.
func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
