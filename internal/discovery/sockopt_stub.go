//go:build !linux && !darwin

package discovery

import "syscall"

// reusePort is a no-op on platforms without SO_REUSEPORT; only one node
// per host can bind the group port there.
func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
