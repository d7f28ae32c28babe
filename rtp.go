package rtspsession

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ymn/rtspsession/pkg/base"
	"github.com/ymn/rtspsession/pkg/headers"
	"github.com/ymn/rtspsession/pkg/liberrors"
	"github.com/ymn/rtspsession/pkg/rtcptiming"
	"github.com/ymn/rtspsession/pkg/rtpaac"
	"github.com/ymn/rtspsession/pkg/rtph264"
)

// initChannelCodec attaches the codec glue a Channel needs to
// packetize (server/source role) and depacketize (client/sink role)
// media: a *rtph264.Encoder/Decoder pair for video, *rtpaac.Encoder/
// Decoder for audio. scale converts the media-time units a Frame
// carries (taken here to be milliseconds, spec.md glossary:
// "media-time units") into RTP clock ticks.
func (s *Session) initChannelCodec(ch *Channel) {
	scale := float64(ch.Timescale) / 1000.0
	ssrc := uint32(ch.Index + 1)

	switch ch.Content {
	case ContentVideo:
		ch.Encoder = &rtph264.Encoder{SSRC: ssrc, Scale: scale}
		ch.Decoder = &rtph264.Decoder{Scale: scale}
	case ContentAudio:
		ch.Encoder = &rtpaac.Encoder{SSRC: ssrc, Scale: scale}
		ch.Decoder = &rtpaac.Decoder{Scale: scale}
	}
}

// startUDPReaders spawns one goroutine per RTP/RTCP socket, forwarding
// datagrams to the actor over mediaCh. Called once a channel's UDP
// ports are bound (SETUP, server side) or connected (client side).
func (s *Session) startUDPReaders(idx int, ch *Channel) {
	if ch.RTPConn != nil {
		go s.udpReadLoop(idx, ch.RTPConn, false)
	}
	if ch.RTCPConn != nil {
		go s.udpReadLoop(idx, ch.RTCPConn, true)
	}
}

func (s *Session) udpReadLoop(idx int, conn interface {
	Read(b []byte) (int, error)
}, isRTCP bool) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case s.mediaCh <- mediaDatagram{channel: idx, rtcp: isRTCP, payload: payload}:
		case <-s.stopCh:
			return
		}
	}
}

// handleInterleavedFrame dispatches a TCP-interleaved block: even
// channel ids carry RTP, odd ids carry RTCP (spec.md §3 invariant:
// "RTP flows on even interleaved-channel bytes 2·i, RTCP on odd
// 2·i+1").
func (s *Session) handleInterleavedFrame(f *base.InterleavedFrame) {
	idx := f.Channel / 2
	if idx < 0 || idx > 1 || s.channels[idx] == nil {
		return
	}
	if f.Channel%2 == 0 {
		s.handleInboundRTP(idx, f.Payload)
	} else {
		s.handleInboundRTCP(idx, f.Payload)
	}
}

func (s *Session) handleMediaDatagram(dg mediaDatagram) {
	if dg.channel < 0 || dg.channel > 1 || s.channels[dg.channel] == nil {
		return
	}
	if dg.rtcp {
		s.handleInboundRTCP(dg.channel, dg.payload)
	} else {
		s.handleInboundRTP(dg.channel, dg.payload)
	}
}

func (s *Session) handleInboundRTP(idx int, payload []byte) {
	ch := s.channels[idx]

	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		s.logger.Log(LogWarn, "dropping malformed RTP packet on channel %d: %v", idx, err)
		return
	}
	if pkt.Version != 2 || len(pkt.CSRC) != 0 {
		s.logger.Log(LogWarn, "dropping invalid RTP packet on channel %d (version=%d cc=%d)", idx, pkt.Version, len(pkt.CSRC))
		return
	}

	ch.LastSeq = pkt.SequenceNumber
	if ch.SSRC == 0 {
		ch.SSRC = pkt.SSRC
	}

	var nalus [][]byte
	var frames [][]byte
	var dts, pts float64
	var err error

	switch ch.Content {
	case ContentVideo:
		dec, _ := ch.Decoder.(*rtph264.Decoder)
		if dec == nil {
			return
		}
		var nalu []byte
		nalu, dts, pts, err = dec.Decode(&pkt)
		if err != nil || nalu == nil {
			if err != nil {
				s.logger.Log(LogWarn, "h264 decode error on channel %d: %v", idx, err)
			}
			return
		}
		nalus = [][]byte{nalu}

	case ContentAudio:
		dec, _ := ch.Decoder.(*rtpaac.Decoder)
		if dec == nil {
			return
		}
		frames, dts, err = dec.Decode(&pkt)
		pts = dts
		if err != nil {
			s.logger.Log(LogWarn, "aac decode error on channel %d: %v", idx, err)
			return
		}
	}

	dts, pts = s.reconcileInboundTimestamps(idx, dts, pts)
	if s.shouldTerminateOnDrift() {
		return
	}

	if ch.Content == ContentVideo {
		for _, n := range nalus {
			s.deliverInboundFrame(Frame{Channel: idx, DTS: dts, PTS: pts, Data: n})
		}
	} else {
		for _, fr := range frames {
			s.deliverInboundFrame(Frame{Channel: idx, DTS: dts, PTS: pts, Data: fr})
		}
	}
}

// reconcileInboundTimestamps implements spec.md §4.6's inbound DTS
// reconstruction and the audio/video drift clamp.
func (s *Session) reconcileInboundTimestamps(idx int, dts, pts float64) (float64, float64) {
	if s.haveFirstDTS {
		dts += s.firstDTS
		pts += s.firstDTS
	}

	if idx != 1 {
		return dts, pts
	}

	videoDTS := dts
	if s.channels[0] != nil {
		videoDTS = s.lastVideoDTS
	}

	adjusted := dts + s.audioDTSShift
	if absF(videoDTS-adjusted) > driftThreshold {
		newShift := dts - videoDTS
		if s.shiftCount < 3 {
			s.logger.Log(LogWarn, "audio drift adjustment #%d: shift=%.0f", s.shiftCount+1, newShift)
		}
		s.audioDTSShift = newShift
		s.shiftCount++
		return videoDTS, pts
	}

	return adjusted, pts
}

func (s *Session) shouldTerminateOnDrift() bool {
	if s.shiftCount >= maxAudioShifts {
		s.terminate(liberrors.ErrTooManyAudioShift{Count: s.shiftCount})
		return true
	}
	return false
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Session) deliverInboundFrame(f Frame) {
	if f.Channel == 0 {
		s.lastVideoDTS = f.DTS
	}
	if s.sink != nil {
		if err := s.sink.WriteFrame(f); err != nil {
			s.terminate(liberrors.ErrConsumerDown{})
		}
	}
}

func (s *Session) handleInboundRTCP(idx int, payload []byte) {
	ch := s.channels[idx]

	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}

	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			st := rtcptiming.IngestSR(p, time.Now())
			ch.LastNTP = st.NTP
			ch.LastTimecode = st.RTPTime
			ch.LastWallClock = st.WallClock
			ch.LastSRAt = st.ReceivedAt
			if ch.SSRC == 0 {
				ch.SSRC = p.SSRC
			}

		default:
			if dts, ok := rtcptiming.ParseFirstDTS(pkt); ok && !s.haveFirstDTS {
				s.firstDTS = dts
				s.haveFirstDTS = true
			}
		}
	}
}

// emitReceiverReports implements spec.md §4.7's periodic RR emission.
func (s *Session) emitReceiverReports() {
	now := time.Now()
	for i, ch := range s.channels {
		if ch == nil || ch.SSRC == 0 || ch.LastSeq == 0 {
			continue
		}

		var sr *rtcptiming.SRState
		if !ch.LastSRAt.IsZero() {
			sr = &rtcptiming.SRState{NTP: ch.LastNTP, ReceivedAt: ch.LastSRAt}
		}

		rr := rtcptiming.ReceiverReport(ch.SSRC, uint32(ch.LastSeq), sr, now)
		payload, err := rr.Marshal()
		if err != nil {
			continue
		}

		s.sendRTCP(i, ch, payload)
	}
}

func (s *Session) sendRTCP(idx int, ch *Channel, payload []byte) {
	if ch.Transport == headers.TransportProtocolUDP && ch.RTCPConn != nil {
		if _, err := ch.RTCPConn.Write(payload); err != nil {
			s.terminate(err)
		}
		return
	}
	if err := s.writeInterleaved(ch.InterleavedRTCP, payload); err != nil {
		s.terminate(err)
	}
}

// handleOutboundFrame implements spec.md §4.6's outbound gating,
// DTS-anchor establishment and H.264/AAC packetization.
func (s *Session) handleOutboundFrame(f Frame) {
	if f.IsConfig || s.paused {
		return
	}

	ch := s.channels[f.Channel]
	if ch == nil {
		return
	}

	if !s.haveFirstDTS {
		s.firstDTS = f.DTS
		s.haveFirstDTS = true
	}
	dts := f.DTS - s.firstDTS
	pts := f.PTS - s.firstDTS

	switch ch.Content {
	case ContentVideo:
		s.sendVideoFrame(ch, f.Channel, f.Data, dts, pts)
	case ContentAudio:
		s.sendAudioFrame(ch, f.Channel, f.Data, dts)
	}
}

func (s *Session) sendVideoFrame(ch *Channel, idx int, body []byte, dts, pts float64) {
	enc, _ := ch.Encoder.(*rtph264.Encoder)
	if enc == nil {
		return
	}

	lengthSize := 4
	if s.mediaInfo != nil && s.mediaInfo.Video != nil && s.mediaInfo.Video.LengthSize != 0 {
		lengthSize = s.mediaInfo.Video.LengthSize
	}

	nalus := splitNALs(body, lengthSize)
	if len(nalus) == 0 {
		return
	}

	packets, err := enc.Encode(nalus, dts, pts)
	if err != nil {
		s.logger.Log(LogWarn, "h264 encode error: %v", err)
		return
	}

	keyframe := false
	for _, n := range nalus {
		if rtph264.IsKeyframe(n) {
			keyframe = true
			break
		}
	}

	for _, pkt := range packets {
		if err := s.writeRTPPacket(ch, idx, pkt); err != nil {
			return
		}
	}

	if keyframe {
		raw := rtcptiming.FirstDTSPacket(enc.SSRC, s.firstDTS)
		s.sendRTCP(idx, ch, []byte(raw))
	}
}

func (s *Session) sendAudioFrame(ch *Channel, idx int, body []byte, dts float64) {
	enc, _ := ch.Encoder.(*rtpaac.Encoder)
	if enc == nil {
		return
	}

	pkt, err := enc.Push(body, dts, time.Now().UnixMilli(), false)
	if err != nil {
		s.logger.Log(LogWarn, "aac encode error: %v", err)
		return
	}
	if pkt != nil {
		_ = s.writeRTPPacket(ch, idx, pkt)
	}
}

func (s *Session) writeRTPPacket(ch *Channel, idx int, pkt *rtp.Packet) error {
	payload, err := pkt.Marshal()
	if err != nil {
		return err
	}

	var werr error
	if ch.Transport == headers.TransportProtocolUDP && ch.RTPConn != nil {
		_, werr = ch.RTPConn.Write(payload)
	} else {
		werr = s.writeInterleaved(ch.InterleavedRTP, payload)
	}
	if werr != nil {
		s.terminate(werr)
	}
	return werr
}

// splitNALs splits a frame body into NALs using the cached H.264
// length-prefix size (2 or 4 bytes), per spec.md §4.6.
func splitNALs(body []byte, lengthSize int) [][]byte {
	var out [][]byte
	for len(body) >= lengthSize {
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(body[i])
		}
		body = body[lengthSize:]
		if n > len(body) {
			break
		}
		out = append(out, body[:n])
		body = body[n:]
	}
	return out
}
