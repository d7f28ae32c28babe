package base

import (
	"net"

	"github.com/ymn/rtspsession/pkg/bytecounter"
)

// Conn pairs a net.Conn with a Parser, reading just enough bytes to
// produce one Item at a time. All traffic passes through a
// ByteCounter so a Session can report its control-connection byte
// totals without extra plumbing. Grounded on the teacher's
// pkg/conn.Conn.
type Conn struct {
	nc     net.Conn
	bc     *bytecounter.ByteCounter
	parser Parser
	rbuf   []byte
}

// NewConn wraps a net.Conn (or, in tests, any net.Conn-shaped stream).
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, bc: bytecounter.New(nc, nil, nil), rbuf: make([]byte, 4096)}
}

// BytesReceived returns the total bytes read off the control channel.
func (c *Conn) BytesReceived() uint64 { return c.bc.BytesReceived() }

// BytesSent returns the total bytes written to the control channel.
func (c *Conn) BytesSent() uint64 { return c.bc.BytesSent() }

// ReadMessage blocks until one complete Item has been parsed,
// reading from the underlying connection as needed.
func (c *Conn) ReadMessage() (Item, error) {
	for {
		item, err := c.parser.Next()
		if err == nil {
			return item, nil
		}
		if !IsMore(err) {
			return nil, err
		}

		n, rerr := c.bc.Read(c.rbuf)
		if n > 0 {
			c.parser.Feed(c.rbuf[:n])
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// WriteRequest writes a request to the control channel.
func (c *Conn) WriteRequest(r *Request) (int, error) {
	return c.bc.Write(r.Marshal())
}

// WriteResponse writes a response to the control channel.
func (c *Conn) WriteResponse(r *Response) (int, error) {
	return c.bc.Write(r.Marshal())
}

// WriteInterleavedFrame writes a binary-framed RTP/RTCP block.
func (c *Conn) WriteInterleavedFrame(f *InterleavedFrame) (int, error) {
	return c.bc.Write(f.Marshal())
}
