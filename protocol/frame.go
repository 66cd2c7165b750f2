// Package protocol implements the wire format shared by the prime-check
// client and server.
//
// Two frame kinds exist, both in network byte order:
//
//	integer frame: ┌──────────────┐
//	               │ int32 (4 B)  │
//	               └──────────────┘
//	string frame:  ┌──────────────┬─────────────────┐
//	               │ len uint32   │ len raw bytes   │
//	               └──────────────┴─────────────────┘
//
// The integer frame has no length prefix; its size is implicit. The string
// frame is not terminated on the wire; the length is authoritative.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// IntFrameSize is the size in bytes of an integer frame and of the
	// string frame length prefix.
	IntFrameSize = 4

	// HistoricalMaxStringLen is the fixed buffer size the protocol was
	// first deployed with. It cannot hold every verdict (e.g.
	// "2147483646 is not prime" is 23 bytes) and is kept for callers that
	// want to interoperate strictly with old peers.
	HistoricalMaxStringLen = 20

	// DefaultMaxStringLen bounds string frames when the caller passes a
	// non-positive limit. Every verdict for the int32 range fits.
	DefaultMaxStringLen = 64

	// MaxStringLen is the absolute ceiling for any string frame.
	MaxStringLen = 16 * 1024 * 1024
)

// SendInt writes v as a 4-byte big-endian integer frame.
//
// Parameters:
//   - w: The destination, usually a net.Conn
//   - v: The value to send
//
// Returns:
//   - An *IOError if the write fails or is short
func SendInt(w io.Writer, v int32) error {
	var buf [IntFrameSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	if err := writeFull(w, buf[:]); err != nil {
		return ioErr("send int", err)
	}

	return nil
}

// RecvInt reads exactly one integer frame from r.
//
// Parameters:
//   - r: The source, usually a net.Conn
//
// Returns:
//   - The decoded value
//   - An *IOError wrapping io.EOF when the peer closed before sending
//     anything, or io.ErrUnexpectedEOF on a short read
func RecvInt(r io.Reader) (int32, error) {
	var buf [IntFrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ioErr("recv int", err)
	}

	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// SendString writes s as a string frame: a 4-byte big-endian length equal
// to len(s) followed by the raw bytes of s. Partial writes are retried
// until the whole payload is sent.
//
// Parameters:
//   - w: The destination, usually a net.Conn
//   - s: The payload
//
// Returns:
//   - An *IOError if any write fails, or ErrFrameTooLarge (wrapped) if s
//     is longer than MaxStringLen
func SendString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return ioErr("send string", fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(s), MaxStringLen))
	}

	var hdr [IntFrameSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(s)))
	if err := writeFull(w, hdr[:]); err != nil {
		return ioErr("send string length", err)
	}

	if err := writeFull(w, []byte(s)); err != nil {
		return ioErr("send string", err)
	}

	return nil
}

// RecvString reads one string frame from r. The declared length is checked
// against maxLen before any payload is read; an oversized frame is
// rejected rather than buffered.
//
// Parameters:
//   - r: The source, usually a net.Conn
//   - maxLen: Largest payload accepted; values <= 0 select
//     DefaultMaxStringLen and values above MaxStringLen are clamped
//
// Returns:
//   - The payload as a string
//   - An *IOError on a failed or short read, or wrapping ErrFrameTooLarge
func RecvString(r io.Reader, maxLen int) (string, error) {
	maxLen = clampMaxLen(maxLen)

	var hdr [IntFrameSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", ioErr("recv string length", err)
	}

	// The length travels as a signed int; a negative value is as invalid
	// as an oversized one.
	declared := int64(int32(binary.BigEndian.Uint32(hdr[:])))
	if declared < 0 || declared > int64(maxLen) {
		return "", ioErr("recv string", fmt.Errorf("%w: declared %d, max %d", ErrFrameTooLarge, declared, maxLen))
	}

	if declared == 0 {
		return "", nil
	}

	payload := make([]byte, declared)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", ioErr("recv string", err)
	}

	return string(payload), nil
}

func clampMaxLen(maxLen int) int {
	if maxLen <= 0 {
		return DefaultMaxStringLen
	}

	if maxLen > MaxStringLen {
		return MaxStringLen
	}

	return maxLen
}

// writeFull loops until p is fully written. A writer that reports
// progress of zero bytes without an error is treated as a short write.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}

		if n <= 0 {
			return io.ErrShortWrite
		}

		p = p[n:]
	}

	return nil
}
