//go:build linux || darwin

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePort marks the receive socket SO_REUSEADDR and SO_REUSEPORT so
// every node on the host can bind the group port.
func reusePort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
