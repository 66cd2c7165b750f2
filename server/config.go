package server

import (
	"fmt"
	"time"

	"github.com/cyberinferno/primewire/protocol"
)

// DefaultPort is the TCP port the prime-check service listens on.
const DefaultPort = 39000

// Config holds the server's listening and session settings.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Addr is the "host:port" to listen on (e.g. ":39000").
	Addr string
	// MaxSessions caps concurrently served sessions. 0 means one goroutine
	// per connection without a cap; 1 serves connections strictly one after
	// another, later clients waiting in the listen backlog.
	MaxSessions int
	// MaxStringLen bounds string frames read from clients. The server never
	// reads string frames today; the value is applied to every session
	// connection for symmetry with the client.
	MaxStringLen int
	// ReadTimeout bounds the wait for each integer frame; 0 waits forever.
	ReadTimeout time.Duration
	// WriteTimeout bounds each reply; 0 means no timeout.
	WriteTimeout time.Duration
	// AcceptRate is the sustained number of connections accepted per
	// second; 0 disables limiting.
	AcceptRate float64
	// AcceptBurst is the number of connections that may be accepted at once
	// above AcceptRate. Values below 1 are treated as 1.
	AcceptBurst int
	// MetricsNamespace prefixes every Prometheus metric name.
	MetricsNamespace string
}

// DefaultConfig returns a Config listening on every interface at
// DefaultPort, with a goroutine per session and no timeouts or limits.
//
// Returns:
//   - A Config with defaults: Name "primeserver", Addr ":39000",
//     MaxSessions 0, MaxStringLen protocol.DefaultMaxStringLen,
//     MetricsNamespace "primewire"
func DefaultConfig() Config {
	return Config{
		Name:             "primeserver",
		Addr:             fmt.Sprintf(":%d", DefaultPort),
		MaxSessions:      0,
		MaxStringLen:     protocol.DefaultMaxStringLen,
		MetricsNamespace: "primewire",
	}
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative, got %d", c.MaxSessions)
	}

	if c.AcceptRate < 0 {
		return fmt.Errorf("accept rate must not be negative, got %g", c.AcceptRate)
	}

	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

func (c Config) connOptions() protocol.Options {
	return protocol.Options{
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxStringLen: c.MaxStringLen,
	}
}
