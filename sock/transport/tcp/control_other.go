//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package tcp

import (
	"syscall"

	"github.com/ValentinKolb/dNet/sock/common"
)

// socketControl is a no-op on platforms without SO_REUSEPORT support
func socketControl(tcp common.TCPConf) func(network, address string, c syscall.RawConn) error {
	if tcp.ReuseAddress || tcp.ReusePort {
		Logger.Warningf("Socket reuse options are not supported on this platform and are ignored")
	}
	return nil
}
