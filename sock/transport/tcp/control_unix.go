//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"syscall"

	"github.com/ValentinKolb/dNet/sock/common"
	"golang.org/x/sys/unix"
)

// socketControl returns a net.ListenConfig control function setting the reuse options
func socketControl(tcp common.TCPConf) func(network, address string, c syscall.RawConn) error {
	if !tcp.ReuseAddress && !tcp.ReusePort {
		return nil
	}

	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if tcp.ReuseAddress {
				if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
					return
				}
			}
			if tcp.ReusePort {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
