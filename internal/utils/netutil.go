package utils

import (
	"context"
	"net"
	"time"
)

// DialTCP opens and immediately closes a TCP connection, returning the dial error if any.
func DialTCP(ctx context.Context, address string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckAddressListenable reports whether host:port can be bound by the server.
func CheckAddressListenable(address string) bool {
	return checkAddressListenable(address)
}
