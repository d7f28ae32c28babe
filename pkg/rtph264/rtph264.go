// Package rtph264 packetizes and depacketizes H.264 access units over
// RTP, per RFC 6184 FU-A fragmentation and the CTS header extension
// spec.md §4.6 describes. Grounded on the teacher's pkg/format/h264.go
// (NALU typing via bluenviron/mediacommon, PTS-equals-DTS detection)
// generalized into full packetization, since the teacher delegates
// that to a sibling pkg/format/rtph264 package whose source the
// retrieval pack does not include.
package rtph264

import (
	"fmt"
	"math"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"
)

// PayloadType is the RTP payload type this core uses for H.264.
const PayloadType = 96

// MTU is the maximum RTP payload size before a NAL must be fragmented.
const MTU = 1387

// ctsExtensionProfile is the RTP header extension profile id carrying
// the CTS offset (spec.md §4.6: "profile 0x0007, length 1").
const ctsExtensionProfile = 0x0007

const (
	naluTypeFUA = 28
)

// Encoder turns access units (one or more NALs) into RTP packets.
type Encoder struct {
	SSRC    uint32
	Scale   float64 // RTP ticks per media-time unit, e.g. 90.0 for ms-based DTS at a 90kHz clock
	seq     uint16
	started bool
}

// Encode packetizes one access unit. dts and pts are in the caller's
// media-time units (already relative to first_dts); if pts equals dts
// no CTS extension is emitted.
func (e *Encoder) Encode(nalus [][]byte, dts, pts float64) ([]*rtp.Packet, error) {
	if len(nalus) == 0 {
		return nil, fmt.Errorf("rtph264: no NALs in access unit")
	}

	ts := uint32(math.Round(dts * e.Scale))
	var ext []byte
	if pts != dts {
		cts := int32(math.Round((pts - dts) * e.Scale))
		ext = make([]byte, 4)
		ext[0] = byte(cts >> 24)
		ext[1] = byte(cts >> 16)
		ext[2] = byte(cts >> 8)
		ext[3] = byte(cts)
	}

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		frags, err := e.fragment(nalu)
		if err != nil {
			return nil, err
		}

		for j, payload := range frags {
			last := i == len(nalus)-1 && j == len(frags)-1

			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         last,
					PayloadType:    PayloadType,
					SequenceNumber: e.seq,
					Timestamp:      ts,
					SSRC:           e.SSRC,
				},
				Payload: payload,
			}
			e.seq++

			if ext != nil {
				pkt.ExtensionProfile = ctsExtensionProfile
				pkt.Extension = true
				if err := pkt.SetExtension(0, ext); err != nil {
					return nil, err
				}
			}

			packets = append(packets, pkt)
		}
	}

	return packets, nil
}

func (e *Encoder) fragment(nalu []byte) ([][]byte, error) {
	if len(nalu) == 0 {
		return nil, fmt.Errorf("rtph264: empty NAL")
	}
	if len(nalu) <= MTU {
		return [][]byte{nalu}, nil
	}

	nri := nalu[0] & 0x60
	naluType := nalu[0] & 0x1F
	body := nalu[1:]

	const maxFragSize = MTU - 2
	var out [][]byte
	for len(body) > 0 {
		n := len(body)
		if n > maxFragSize {
			n = maxFragSize
		}
		chunk := body[:n]
		body = body[n:]

		start := len(out) == 0
		end := len(body) == 0

		var fuHeader byte
		if start {
			fuHeader |= 1 << 7
		}
		if end {
			fuHeader |= 1 << 6
		}
		fuHeader |= naluType

		frag := make([]byte, 2+len(chunk))
		frag[0] = nri | naluTypeFUA
		frag[1] = fuHeader
		copy(frag[2:], chunk)
		out = append(out, frag)
	}

	return out, nil
}

// Decoder reassembles FU-A fragments (and passes through single-NAL
// packets) into access units, implementing the per-channel RTP
// decoder contract spec.md §6 names (init/sync/decode).
type Decoder struct {
	Scale float64

	fu       []byte
	fuType   byte
	fuActive bool
}

// Sync primes the decoder after a RTP-Info exchange; this decoder is
// stateless across sequence numbers beyond in-progress FU-A assembly,
// so Sync only clears any partial fragment left over from before.
func (d *Decoder) Sync(seq uint16, rtptime uint32) {
	d.fuActive = false
	d.fu = nil
}

// Decode extracts zero or one reassembled NAL plus its DTS/PTS (in the
// decoder's media-time units, not yet shifted by first_dts) from pkt.
func (d *Decoder) Decode(pkt *rtp.Packet) (nalu []byte, dts, pts float64, err error) {
	if len(pkt.Payload) == 0 {
		return nil, 0, 0, fmt.Errorf("rtph264: empty RTP payload")
	}

	dts = float64(pkt.Timestamp) / d.Scale
	pts = dts
	if pkt.Extension {
		if payload, err2 := extensionPayload(pkt); err2 == nil && len(payload) == 4 {
			cts := int32(payload[0])<<24 | int32(payload[1])<<16 | int32(payload[2])<<8 | int32(payload[3])
			pts = dts + float64(cts)/d.Scale
		}
	}

	typ := pkt.Payload[0] & 0x1F
	switch {
	case typ >= 1 && typ <= 23:
		return pkt.Payload, dts, pts, nil

	case typ == naluTypeFUA:
		if len(pkt.Payload) < 2 {
			return nil, 0, 0, fmt.Errorf("rtph264: short FU-A payload")
		}
		fuHeader := pkt.Payload[1]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		naluType := fuHeader & 0x1F
		nri := pkt.Payload[0] & 0x60

		if start {
			d.fu = append([]byte{nri | naluType}, pkt.Payload[2:]...)
			d.fuType = naluType
			d.fuActive = true
			if end {
				out := d.fu
				d.fuActive = false
				d.fu = nil
				return out, dts, pts, nil
			}
			return nil, dts, pts, nil
		}

		if !d.fuActive {
			return nil, 0, 0, fmt.Errorf("rtph264: FU-A continuation without start")
		}
		d.fu = append(d.fu, pkt.Payload[2:]...)
		if end {
			out := d.fu
			d.fuActive = false
			d.fu = nil
			return out, dts, pts, nil
		}
		return nil, dts, pts, nil

	default:
		return nil, 0, 0, fmt.Errorf("rtph264: unsupported NAL type %d", typ)
	}
}

// IsKeyframe reports whether nalu is an IDR slice, used to decide when
// to emit the FlFD RTCP app packet (spec.md §4.6).
func IsKeyframe(nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	return h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR
}

// IsParameterSet reports whether nalu is a SPS or PPS.
func IsParameterSet(nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	t := h264.NALUType(nalu[0] & 0x1F)
	return t == h264.NALUTypeSPS || t == h264.NALUTypePPS
}

// extensionPayload reads the CTS offset back out. Packets carrying it
// use the generic (non-RFC 5285) extension profile, under which
// pion/rtp stores the sole extension element at id 0 regardless of the
// wire-level profile value.
func extensionPayload(pkt *rtp.Packet) ([]byte, error) {
	if pkt.ExtensionProfile != ctsExtensionProfile {
		return nil, fmt.Errorf("rtph264: no matching extension")
	}
	b := pkt.GetExtension(0)
	if b == nil {
		return nil, fmt.Errorf("rtph264: no matching extension")
	}
	return b, nil
}
