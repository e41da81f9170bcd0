//go:build !windows

package utils

import (
	"context"
	"net"
	"syscall"
)

// checkAddressListenable binds address without SO_REUSEADDR (POSIX implementation)
func checkAddressListenable(address string) bool {
	lc := net.ListenConfig{
		Control: func(network, addr string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				// 关闭SO_REUSEADDR，TIME_WAIT中的端口也视为占用
				syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 0)
			})
		},
	}

	l, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return false
	}
	defer l.Close()
	return true
}
