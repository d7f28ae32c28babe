// Package rtpaac packetizes and depacketizes AAC access units over
// RTP per RFC 3640 hbr mode (sizelength=13, indexlength=3,
// indexdeltalength=3), batching up to 4 frames per packet as spec.md
// §4.6 describes. Grounded on the same pkg/format family convention
// the teacher uses for H.264, applied here to AAC since the pack
// carries no teacher AAC payloader.
package rtpaac

import (
	"fmt"
	"math"

	"github.com/pion/rtp"
)

// PayloadType is the RTP payload type this core uses for AAC.
const PayloadType = 97

// MaxBatch is the maximum number of AAC frames batched per RTP packet.
const MaxBatch = 4

// BatchWindowMillis is the maximum age, relative to the oldest pending
// frame, of a frame that may still join the current batch.
const BatchWindowMillis = 150

// Encoder batches AAC frames into AU-header-framed RTP packets.
type Encoder struct {
	SSRC  uint32
	Scale float64 // RTP ticks per media-time unit

	seq     uint16
	pending []pendingFrame
}

type pendingFrame struct {
	data     []byte
	dts      float64
	arrival  int64 // ms, caller-supplied monotonic clock
}

// Push adds one AAC frame to the pending batch. arrivalMillis is a
// monotonic millisecond clock value used only to bound the 150 ms
// batching window; it is unrelated to DTS. It returns a packet once
// the batch fills (4 frames) or, when flush is true, whatever is
// pending (used when a caller-driven timer expires the 150 ms window).
func (e *Encoder) Push(data []byte, dts float64, arrivalMillis int64, flush bool) (*rtp.Packet, error) {
	if len(data) > 0 {
		if len(e.pending) > 0 {
			oldest := e.pending[0].arrival
			if arrivalMillis-oldest > BatchWindowMillis {
				pkt, err := e.drain()
				if err != nil {
					return nil, err
				}
				e.pending = append(e.pending, pendingFrame{data: data, dts: dts, arrival: arrivalMillis})
				return pkt, nil
			}
		}
		e.pending = append(e.pending, pendingFrame{data: data, dts: dts, arrival: arrivalMillis})
	}

	if len(e.pending) >= MaxBatch || (flush && len(e.pending) > 0) {
		return e.drain()
	}
	return nil, nil
}

func (e *Encoder) drain() (*rtp.Packet, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	batch := e.pending
	e.pending = nil
	return e.encode(batch)
}

func (e *Encoder) encode(frames []pendingFrame) (*rtp.Packet, error) {
	if len(frames) == 0 || len(frames) > MaxBatch {
		return nil, fmt.Errorf("rtpaac: invalid batch size %d", len(frames))
	}

	headerBits := make([]byte, 0, len(frames)*2)
	for _, f := range frames {
		size := len(f.data)
		if size >= 1<<13 {
			return nil, fmt.Errorf("rtpaac: frame too large for 13-bit size field: %d", size)
		}
		// 13-bit size, 3-bit zero AU-index/delta, packed big-endian into 2 bytes.
		v := uint16(size)<<3
		headerBits = append(headerBits, byte(v>>8), byte(v))
	}

	auHeaderLengthBits := uint16(len(headerBits) * 8)

	payload := make([]byte, 2+len(headerBits))
	payload[0] = byte(auHeaderLengthBits >> 8)
	payload[1] = byte(auHeaderLengthBits)
	copy(payload[2:], headerBits)
	for _, f := range frames {
		payload = append(payload, f.data...)
	}

	ts := uint32(math.Round(frames[0].dts * e.Scale))
	seq := e.seq
	e.seq++

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           e.SSRC,
		},
		Payload: payload,
	}, nil
}

// Decoder splits an AU-header-framed RTP packet back into individual
// AAC frames.
type Decoder struct {
	Scale float64
}

// Sync primes the decoder after a RTP-Info exchange. This decoder
// carries no state across packets, so Sync is a no-op; it exists to
// satisfy the same per-channel decoder contract rtph264.Decoder does.
func (d *Decoder) Sync(seq uint16, rtptime uint32) {}

// Decode returns the AAC frames carried by pkt, all sharing pkt's DTS
// (the batch as a whole anchors one RTP timestamp, per spec.md §4.6).
func (d *Decoder) Decode(pkt *rtp.Packet) (frames [][]byte, dts float64, err error) {
	if len(pkt.Payload) < 2 {
		return nil, 0, fmt.Errorf("rtpaac: payload too short for AU-header length")
	}

	auHeaderLengthBits := uint16(pkt.Payload[0])<<8 | uint16(pkt.Payload[1])
	auHeaderLengthBytes := int((auHeaderLengthBits + 7) / 8)

	if len(pkt.Payload) < 2+auHeaderLengthBytes {
		return nil, 0, fmt.Errorf("rtpaac: payload shorter than declared AU-headers")
	}

	headers := pkt.Payload[2 : 2+auHeaderLengthBytes]
	data := pkt.Payload[2+auHeaderLengthBytes:]

	var sizes []int
	for i := 0; i+1 < len(headers); i += 2 {
		v := uint16(headers[i])<<8 | uint16(headers[i+1])
		size := int(v >> 3)
		sizes = append(sizes, size)
	}

	off := 0
	for _, size := range sizes {
		if off+size > len(data) {
			return nil, 0, fmt.Errorf("rtpaac: AU-header size exceeds payload")
		}
		frames = append(frames, data[off:off+size])
		off += size
	}

	dts = float64(pkt.Timestamp) / d.Scale
	return frames, dts, nil
}
