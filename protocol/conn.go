package protocol

import (
	"net"
	"sync"
	"time"
)

// Options configures a Conn.
type Options struct {
	// ReadTimeout bounds each Recv call; 0 means no timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds each Send call; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxStringLen is the largest string frame RecvString accepts.
	// Non-positive values select DefaultMaxStringLen.
	MaxStringLen int
}

// Conn wraps a net.Conn and applies per-frame deadlines around the codec
// functions. A Conn is owned by a single goroutine; only Interrupt may be
// called from another.
type Conn struct {
	net.Conn
	opts Options

	mu          sync.Mutex
	interrupted bool
}

// NewConn wraps c with the given options.
//
// Parameters:
//   - c: The underlying connection; Conn takes ownership and closes it on Close
//   - opts: Deadlines and frame limits
//
// Returns:
//   - A new *Conn
func NewConn(c net.Conn, opts Options) *Conn {
	return &Conn{Conn: c, opts: opts}
}

// SendInt writes an integer frame within WriteTimeout.
func (c *Conn) SendInt(v int32) error {
	if err := c.armWrite(); err != nil {
		return ioErr("send int", err)
	}
	defer c.clearWrite()

	return SendInt(c.Conn, v)
}

// RecvInt reads an integer frame within ReadTimeout.
func (c *Conn) RecvInt() (int32, error) {
	if err := c.armRead(); err != nil {
		return 0, ioErr("recv int", err)
	}
	defer c.clearRead()

	return RecvInt(c.Conn)
}

// SendString writes a string frame within WriteTimeout.
func (c *Conn) SendString(s string) error {
	if err := c.armWrite(); err != nil {
		return ioErr("send string", err)
	}
	defer c.clearWrite()

	return SendString(c.Conn, s)
}

// RecvString reads a string frame within ReadTimeout, bounded by
// Options.MaxStringLen.
func (c *Conn) RecvString() (string, error) {
	if err := c.armRead(); err != nil {
		return "", ioErr("recv string", err)
	}
	defer c.clearRead()

	return RecvString(c.Conn, c.opts.MaxStringLen)
}

// Interrupt makes any blocked Send or Recv return with a timeout error and
// every later one fail with ErrInterrupted. The connection stays open;
// Close it separately. Safe to call from any goroutine, more than once.
func (c *Conn) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interrupted = true
	_ = c.Conn.SetDeadline(time.Unix(1, 0))
}

func (c *Conn) armRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted {
		return ErrInterrupted
	}

	if c.opts.ReadTimeout <= 0 {
		return nil
	}

	return c.Conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
}

func (c *Conn) clearRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.interrupted && c.opts.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Time{})
	}
}

func (c *Conn) armWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted {
		return ErrInterrupted
	}

	if c.opts.WriteTimeout <= 0 {
		return nil
	}

	return c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
}

func (c *Conn) clearWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.interrupted && c.opts.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Time{})
	}
}
