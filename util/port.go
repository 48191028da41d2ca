package util

import (
	"fmt"
	"net"
)

// GetFreeTcpPort asks the kernel for a free TCP port on the loopback
// interface. The listener is closed before returning, so the port is only
// probably free; callers that need exclusivity reserve it in portpool.
func GetFreeTcpPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("dns failed: %v", err)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}

	defer func(listener *net.TCPListener) {
		_ = listener.Close()
	}(listener)

	port := listener.Addr().(*net.TCPAddr).Port
	if port == 0 {
		return 0, fmt.Errorf("could not resolve a port (got 0)")
	}

	return port, nil
}
