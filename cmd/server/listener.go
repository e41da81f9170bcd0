package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/utils"
)

type ListenAddr struct {
	Network string
	Address string
}

/**
 * Test if the system supports Unix socket network type
 * @returns {bool} Returns true if Unix socket is supported, false otherwise
 * @description
 * - Non-windows platforms always support it
 * - On windows a temporary socket is created and removed again
 */
func IsUnixSocketSupported() bool {
	if runtime.GOOS != "windows" {
		return true
	}
	testSocketPath := filepath.Join(os.TempDir(), "deploy_keeper_test.sock")
	os.Remove(testSocketPath)

	listener, err := net.Listen("unix", testSocketPath)
	if err != nil {
		return false
	}
	listener.Close()
	os.Remove(testSocketPath)
	return true
}

/**
 * Work out where the server listens
 * @param {config.ServerConfig} cfg - server section of the configuration
 * @returns {[]ListenAddr} Unix socket first, then TCP
 * @description
 * - The socket directory is created when missing
 * - An address already in use is reported here rather than at listen time
 */
func listenAddrs(cfg config.ServerConfig) []ListenAddr {
	var addrs []ListenAddr
	if cfg.Socket != "" && IsUnixSocketSupported() {
		if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0700); err != nil {
			logger.Errorf("Failed to create socket directory: %v", err)
		} else {
			addrs = append(addrs, ListenAddr{Network: "unix", Address: cfg.Socket})
		}
	}
	if cfg.Address != "" {
		if !utils.CheckAddressListenable(cfg.Address) {
			logger.Warnf("Address %s seems to be in use", cfg.Address)
		}
		addrs = append(addrs, ListenAddr{Network: "tcp", Address: cfg.Address})
	}
	return addrs
}

/**
 * Create listeners for every address
 * @param {[]ListenAddr} addrs - Listener Address
 * @returns {[]net.Listener} Array of created listeners
 * @returns {error} Last listen error, listeners that succeeded are still returned
 * @description
 * - A stale socket file left by a crashed server is removed first
 * - The socket is restricted to the owner, anyone who can connect can deploy
 */
func CreateListeners(addrs []ListenAddr) ([]net.Listener, error) {
	var listeners []net.Listener

	var lastErr error
	for _, addr := range addrs {
		if addr.Network == "unix" {
			if err := os.Remove(addr.Address); err != nil && !os.IsNotExist(err) {
				logger.Errorf("Failed to remove existing socket file: %v", err)
				continue
			}
		}
		l, err := net.Listen(addr.Network, addr.Address)
		if err != nil {
			logger.Errorf("Failed to create listener on %s://%s: %v", addr.Network, addr.Address, err)
			lastErr = fmt.Errorf("listen %s://%s: %w", addr.Network, addr.Address, err)
			continue
		}
		if addr.Network == "unix" {
			os.Chmod(addr.Address, 0600)
		}
		listeners = append(listeners, l)
	}
	return listeners, lastErr
}
