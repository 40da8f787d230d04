package supervisor

import (
	"fmt"
	"net"
)

// ChoosePort resolves the listening port for the server. The
// preferred port is probed by briefly binding and releasing it; if the
// bind fails an OS-assigned ephemeral port is used instead. fallback
// reports whether the ephemeral path was taken.
func ChoosePort(hostname string, preferred int) (port int, fallback bool, err error) {
	if preferred > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(hostname, fmt.Sprintf("%d", preferred)))
		if err == nil {
			_ = ln.Close()
			return preferred, false, nil
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(hostname, "0"))
	if err != nil {
		return 0, false, fmt.Errorf("failed to allocate a listening port: %w", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port, preferred > 0, nil
}
