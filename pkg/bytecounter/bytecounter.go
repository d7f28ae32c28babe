// Package bytecounter wraps an io.ReadWriter to track the bytes moved
// across it, so a Session can report its control-connection traffic
// without every caller threading counters through by hand.
package bytecounter

import (
	"io"
	"sync/atomic"
)

// ByteCounter wraps an io.ReadWriter, counting bytes read and written.
// The counters may be shared with a caller that already owns a
// *uint64 pair (pass them in); nil creates private ones.
type ByteCounter struct {
	rw       io.ReadWriter
	received *uint64
	sent     *uint64
}

// New wraps rw, counting into received/sent (allocated if nil).
func New(rw io.ReadWriter, received *uint64, sent *uint64) *ByteCounter {
	if received == nil {
		received = new(uint64)
	}
	if sent == nil {
		sent = new(uint64)
	}

	return &ByteCounter{rw: rw, received: received, sent: sent}
}

// Read implements io.Reader.
func (bc *ByteCounter) Read(p []byte) (int, error) {
	n, err := bc.rw.Read(p)
	atomic.AddUint64(bc.received, uint64(n))
	return n, err
}

// Write implements io.Writer.
func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.rw.Write(p)
	atomic.AddUint64(bc.sent, uint64(n))
	return n, err
}

// BytesReceived returns the running total of bytes read.
func (bc *ByteCounter) BytesReceived() uint64 {
	return atomic.LoadUint64(bc.received)
}

// BytesSent returns the running total of bytes written.
func (bc *ByteCounter) BytesSent() uint64 {
	return atomic.LoadUint64(bc.sent)
}
