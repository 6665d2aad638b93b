// Package netutil picks the API listen address and probes the CDP port.
package netutil

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Listen binds the preferred address, or with autoFallback the first free
// candidate. The listener is returned still open so nothing can take the
// port between the check and Serve.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	addrs := candidates
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("netutil: bind %s: %w", preferred, err)
		}
		addrs = lo.Without(candidates, preferred)
	}

	var tried []string
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		tried = append(tried, addr)
	}
	return nil, fmt.Errorf("netutil: no free bind address (tried %s)", strings.Join(append([]string{preferred}, tried...), ", "))
}

// Reachable reports whether something accepts TCP connections at addr.
func Reachable(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
