package rtspsession

import "testing"

// TestDTSAnchorEstablishedByFirstFrame covers spec.md §8's "DTS
// anchor" property: the first frame sent anchors first_dts, and every
// later frame's outbound DTS/PTS is shifted by -first_dts. We drive
// handleOutboundFrame on a bare video channel with no Encoder
// attached, so packetization is skipped and only the anchor
// bookkeeping in handleOutboundFrame itself is exercised.
func TestDTSAnchorEstablishedByFirstFrame(t *testing.T) {
	s := &Session{logger: NopLogger{}}
	s.channels[0] = &Channel{Index: 0, Content: ContentVideo}

	if s.haveFirstDTS {
		t.Fatal("haveFirstDTS should start false")
	}

	s.handleOutboundFrame(Frame{Channel: 0, DTS: 5000, PTS: 5000, Data: []byte{0x67}})
	if !s.haveFirstDTS || s.firstDTS != 5000 {
		t.Fatalf("first frame should anchor firstDTS=5000, got have=%v first=%v", s.haveFirstDTS, s.firstDTS)
	}

	// A later frame must not move the anchor, and sendVideoFrame
	// (which returns at once here since Encoder is nil) sees DTS shifted
	// by -first_dts; we can't observe that directly without an Encoder,
	// so instead verify the anchor itself is stable across calls.
	s.handleOutboundFrame(Frame{Channel: 0, DTS: 5040, PTS: 5040, Data: []byte{0x67}})
	if s.firstDTS != 5000 {
		t.Errorf("firstDTS moved to %v, want it to stay pinned at the first frame's DTS", s.firstDTS)
	}
}

// TestDTSAnchorSkipsConfigAndPausedFrames ensures config/paused frames
// never establish the anchor (spec.md §4.6 "ignore metadata and
// codec-config frames; suspend all output while paused").
func TestDTSAnchorSkipsConfigAndPausedFrames(t *testing.T) {
	s := &Session{logger: NopLogger{}, paused: true}
	s.channels[0] = &Channel{Index: 0, Content: ContentVideo}

	s.handleOutboundFrame(Frame{Channel: 0, DTS: 100, IsConfig: false})
	if s.haveFirstDTS {
		t.Fatal("paused session must not anchor firstDTS")
	}

	s.paused = false
	s.handleOutboundFrame(Frame{Channel: 0, DTS: 200, IsConfig: true})
	if s.haveFirstDTS {
		t.Fatal("config frame must not anchor firstDTS")
	}

	s.handleOutboundFrame(Frame{Channel: 0, DTS: 300})
	if !s.haveFirstDTS || s.firstDTS != 300 {
		t.Fatalf("first real frame should anchor firstDTS=300, got have=%v first=%v", s.haveFirstDTS, s.firstDTS)
	}
}

// TestAudioDriftClampTriggersOnLargeDivergence covers spec.md §8's
// "Audio drift clamp" property: when |V_DTS - (A_DTS + shift)| exceeds
// the threshold, the forwarded DTS snaps to V_DTS and shift is
// recomputed as A_DTS - V_DTS.
func TestAudioDriftClampTriggersOnLargeDivergence(t *testing.T) {
	s := &Session{logger: NopLogger{}}
	s.channels[0] = &Channel{Index: 0, Content: ContentVideo}
	s.channels[1] = &Channel{Index: 1, Content: ContentAudio}
	s.haveFirstDTS = true
	s.firstDTS = 0
	s.lastVideoDTS = 1000

	audioDTS := 20000.0 // |1000 - 20000| >> driftThreshold
	dts, _ := s.reconcileInboundTimestamps(1, audioDTS, audioDTS)

	if dts != s.lastVideoDTS {
		t.Errorf("clamped DTS = %v, want snapped to video DTS %v", dts, s.lastVideoDTS)
	}
	wantShift := audioDTS - s.lastVideoDTS
	if s.audioDTSShift != wantShift {
		t.Errorf("audioDTSShift = %v, want %v", s.audioDTSShift, wantShift)
	}
	if s.shiftCount != 1 {
		t.Errorf("shiftCount = %d, want 1", s.shiftCount)
	}
}

// TestAudioDriftWithinThresholdPassesThrough checks the non-clamping
// branch: small divergence is absorbed by the existing shift and
// forwarded without resetting it.
func TestAudioDriftWithinThresholdPassesThrough(t *testing.T) {
	s := &Session{logger: NopLogger{}}
	s.channels[0] = &Channel{Index: 0, Content: ContentVideo}
	s.channels[1] = &Channel{Index: 1, Content: ContentAudio}
	s.haveFirstDTS = true
	s.lastVideoDTS = 1000
	s.audioDTSShift = 0

	dts, _ := s.reconcileInboundTimestamps(1, 1005, 1005)

	if dts != 1005 {
		t.Errorf("dts = %v, want 1005 (passthrough, within threshold)", dts)
	}
	if s.shiftCount != 0 {
		t.Errorf("shiftCount = %d, want 0 (no clamp triggered)", s.shiftCount)
	}
}

// TestTooManyAudioShiftTerminatesSession covers the termination clause
// of spec.md §4.6: after six clamp events, the session terminates
// rather than continuing to re-anchor.
func TestTooManyAudioShiftTerminatesSession(t *testing.T) {
	s := &Session{
		logger: NopLogger{},
		stopCh: make(chan struct{}),
	}
	s.channels[0] = &Channel{Index: 0, Content: ContentVideo}
	s.channels[1] = &Channel{Index: 1, Content: ContentAudio}
	s.haveFirstDTS = true
	s.shiftCount = maxAudioShifts

	if !s.shouldTerminateOnDrift() {
		t.Fatal("shouldTerminateOnDrift should report true once shiftCount reaches the cap (six clamps)")
	}
	if !s.stopped {
		t.Error("session should be marked stopped after reaching the audio-shift cap")
	}
}
