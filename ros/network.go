package ros

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}

// determineHost returns the host name advertised to other nodes and whether
// it only reaches this machine.
func determineHost() (string, bool) {
	// ROS_HOSTNAME wins over ROS_IP
	for _, env := range []string{"ROS_HOSTNAME", "ROS_IP"} {
		if host, ok := os.LookupEnv(env); ok && host != "" {
			return host, isLoopbackHost(host)
		}
	}

	if osHostname, err := os.Hostname(); err == nil && osHostname != "localhost" {
		return osHostname, false
	}

	// Fall back on the interface IP
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				return ipnet.IP.String(), false
			}
		}
	}
	return "127.0.0.1", true
}

func listenRandomPort(address string, trialLimit int) (net.Listener, error) {
	var lastErr error
	for i := 0; i < trialLimit; i++ {
		port := 1024 + rand.Intn(65535-1024)
		listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
		if err == nil {
			return listener, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "no free port on %s after %d trials", address, trialLimit)
}
