package main

import (
	"net"
	"sync"
	"time"
)

// Version is the running server's version string. Set at build time via
// -ldflags (e.g. -X main.Version=1.2.3); defaults to a development marker.
var Version = "0.1.0-dev"

// Operational limits — named constants for values that would otherwise be
// scattered across multiple source files.
const (
	// idleReadTimeout is the default for the -idle-timeout flag, applied as
	// the WebSocket listener's http.Server IdleTimeout. The TCP+TLS path
	// sets no read deadline, so the server does not close a connection
	// that has gone idle.
	idleReadTimeout = 90 * time.Second

	// sessionCleanupInterval is how often expired sessions are purged from
	// the store (spec.md §4.4).
	sessionCleanupInterval = 10 * time.Minute

	// storeOptimizeInterval is how often SQLite's query planner statistics
	// are refreshed.
	storeOptimizeInterval = 1 * time.Hour

	// defaultMaxConnections caps total concurrent connections across both
	// transports.
	defaultMaxConnections = 500

	// defaultPerIPLimit caps concurrent connections from a single IP.
	defaultPerIPLimit = 10
)

// connLimiter enforces a global connection cap and a per-IP cap in front of
// a listener, mirroring the circuit-breaker style used elsewhere in the
// server: reject fast rather than let one IP exhaust the listener.
type connLimiter struct {
	maxTotal int
	perIP    int

	mu     sync.Mutex
	total  int
	byIP   map[string]int
}

func newConnLimiter(maxTotal, perIP int) *connLimiter {
	return &connLimiter{maxTotal: maxTotal, perIP: perIP, byIP: make(map[string]int)}
}

// admit returns false if accepting a connection from addr would exceed
// either the global or per-IP limit. On success, the caller must call
// release(addr) exactly once when the connection closes.
func (l *connLimiter) admit(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.total >= l.maxTotal {
		return false
	}
	if l.byIP[host] >= l.perIP {
		return false
	}
	l.total++
	l.byIP[host]++
	return true
}

func (l *connLimiter) release(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.total--
	if l.byIP[host] > 0 {
		l.byIP[host]--
		if l.byIP[host] == 0 {
			delete(l.byIP, host)
		}
	}
}
