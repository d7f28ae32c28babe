// Package rtcptiming reconciles RTCP SR timing into wall-clock time,
// emits RR packets and the custom "FlFD" app packet that carries a
// stream's first DTS across the NTP↔RTP timebase gap (spec.md §4.7).
//
// Grounded on the teacher's pkg/rtcpsender/rtcpsender.go NTP/RTP
// timestamp math, extended with RR and APP packet generation the
// teacher's sender never needs (it only ever emits SRs, server-side).
package rtcptiming

import (
	"math"
	"time"

	"github.com/pion/rtcp"
)

// yearsUnixToNTP is the 1900→1970 epoch delta in seconds, referred to
// as YEARS_70 in the source this spec was distilled from. The sibling
// YEARS_100 constant that source also computes is dead code and is
// deliberately not reproduced here (spec.md §9 Ambiguities).
const yearsUnixToNTP = 2208988800

// flfdTag is the 4-byte APP packet name used to carry first_dts.
const flfdTag = "FlFD"

// SRState is what a channel remembers from the last ingested RTCP SR.
type SRState struct {
	SSRC      uint32
	NTP       uint64 // 64-bit NTP timestamp, as carried on the wire
	RTPTime   uint32
	WallClock int64     // ms since Unix epoch, derived from NTP
	ReceivedAt time.Time // local monotonic time the SR was ingested
}

// IngestSR updates an SRState from an inbound RTCP SenderReport.
func IngestSR(sr *rtcp.SenderReport, now time.Time) *SRState {
	return &SRState{
		SSRC:       sr.SSRC,
		NTP:        sr.NTPTime,
		RTPTime:    sr.RTPTime,
		WallClock:  ntpToWallClockMillis(sr.NTPTime),
		ReceivedAt: now,
	}
}

// ntpToWallClockMillis implements spec.md §4.7's
// round((ntp/2^32 - 2208988800) * 1000).
func ntpToWallClockMillis(ntp uint64) int64 {
	seconds := float64(ntp) / 4294967296.0
	return int64(math.Round((seconds - float64(yearsUnixToNTP)) * 1000))
}

// ReceiverReport builds the RR spec.md §4.7 describes: RC=1, PT=201,
// length=7, fraction_lost and cumulative fixed at zero, jitter fixed
// at zero (this core does not track inter-arrival jitter).
func ReceiverReport(ssrc uint32, extendedMaxSeq uint32, sr *SRState, now time.Time) *rtcp.ReceiverReport {
	rr := &rtcp.ReceiverReport{
		SSRC: ssrc,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               ssrc,
				FractionLost:       0,
				TotalLost:          0,
				LastSequenceNumber: extendedMaxSeq,
				Jitter:             0,
			},
		},
	}

	if sr != nil {
		rr.Reports[0].LastSenderReport = uint32(sr.NTP >> 16)
		rr.Reports[0].Delay = dlsr(now.Sub(sr.ReceivedAt))
	}

	return rr
}

// dlsr converts a wall-clock delay into RTCP's 1/65536-second units,
// the scale spec.md §8's "RR DLSR scale" property checks.
func dlsr(d time.Duration) uint32 {
	return uint32(math.Round(d.Seconds() * 65536))
}

// FirstDTSPacket builds the custom FlFD app packet (type 204, length
// field 4, tag "FlFD") carrying round(first_dts * 90) as a 64-bit
// payload. pion/rtcp has no built-in APP packet type, so this core
// assembles the 20-byte RTCP APP packet by hand (spec.md §6) and
// hands it back as a rtcp.RawPacket, which satisfies rtcp.Packet and
// can be written alongside SR/RR packets through the same marshaler.
func FirstDTSPacket(senderSSRC uint32, firstDTS float64) rtcp.RawPacket {
	value := uint64(math.Round(firstDTS * 90))

	buf := make([]byte, 20)
	buf[0] = 0x80 // V=2, P=0, subtype/count=0
	buf[1] = 204  // PT=APP
	buf[2] = 0
	buf[3] = 4 // length field, in 32-bit words after the first
	buf[4] = byte(senderSSRC >> 24)
	buf[5] = byte(senderSSRC >> 16)
	buf[6] = byte(senderSSRC >> 8)
	buf[7] = byte(senderSSRC)
	copy(buf[8:12], flfdTag)
	for i := 0; i < 8; i++ {
		buf[19-i] = byte(value >> (8 * i))
	}

	return rtcp.RawPacket(buf)
}

// ParseFirstDTS extracts first_dts from a FlFD app packet, or ok=false
// if pkt is not one.
func ParseFirstDTS(pkt rtcp.Packet) (firstDTS float64, ok bool) {
	raw, isRaw := pkt.(*rtcp.RawPacket)
	if !isRaw {
		return 0, false
	}
	buf := []byte(*raw)
	if len(buf) != 20 || buf[1] != 204 || string(buf[8:12]) != flfdTag {
		return 0, false
	}

	var value uint64
	for i := 0; i < 8; i++ {
		value = value<<8 | uint64(buf[12+i])
	}

	return float64(value) / 90, true
}
