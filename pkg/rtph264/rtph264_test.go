package rtph264

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

// TestFUAReassembly checks that fragmenting a large NAL and decoding
// the fragments back reproduces the original NAL, with the marker bit
// set exactly once, on the last packet of the access unit.
func TestFUAReassembly(t *testing.T) {
	nalu := make([]byte, 5000)
	nalu[0] = 0x65 // NRI=0x60, type=5 (IDR)
	for i := 1; i < len(nalu); i++ {
		nalu[i] = byte(i)
	}

	enc := &Encoder{SSRC: 1, Scale: 90.0}
	packets, err := enc.Encode([][]byte{nalu}, 0, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) < 2 {
		t.Fatalf("expected fragmentation, got %d packets", len(packets))
	}

	markerCount := 0
	for i, p := range packets {
		if p.Marker {
			markerCount++
			if i != len(packets)-1 {
				t.Errorf("marker set on non-final packet %d", i)
			}
		}
	}
	if markerCount != 1 {
		t.Errorf("marker bit set %d times, want exactly 1", markerCount)
	}

	dec := &Decoder{Scale: 90.0}
	var out []byte
	for i, p := range packets {
		nalOut, _, _, err := dec.Decode(p)
		if err != nil {
			t.Fatalf("packet %d: Decode: %v", i, err)
		}
		if nalOut != nil {
			out = nalOut
		}
	}

	if !bytes.Equal(out, nalu) {
		t.Errorf("reassembled NAL does not match input (len %d vs %d)", len(out), len(nalu))
	}
}

// TestSingleNALPassthrough checks a NAL under the MTU produces exactly
// one packet with the marker bit set.
func TestSingleNALPassthrough(t *testing.T) {
	nalu := []byte{0x67, 1, 2, 3, 4}

	enc := &Encoder{SSRC: 1, Scale: 90.0}
	packets, err := enc.Encode([][]byte{nalu}, 0, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if !packets[0].Marker {
		t.Error("marker bit not set on single-packet access unit")
	}

	dec := &Decoder{Scale: 90.0}
	out, _, _, err := dec.Decode(packets[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, nalu) {
		t.Errorf("got %v, want %v", out, nalu)
	}
}

// TestCTSExtensionRoundTrip checks that a non-zero PTS-DTS offset
// survives the RTP header extension round trip.
func TestCTSExtensionRoundTrip(t *testing.T) {
	nalu := []byte{0x67, 1, 2, 3}

	enc := &Encoder{SSRC: 1, Scale: 90.0}
	packets, err := enc.Encode([][]byte{nalu}, 1000, 1100)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}

	raw, err := packets[0].Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped rtp.Packet
	if err := roundTripped.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	dec := &Decoder{Scale: 90.0}
	_, dts, pts, err := dec.Decode(&roundTripped)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dts != 1000 {
		t.Errorf("dts = %v, want 1000", dts)
	}
	if pts != 1100 {
		t.Errorf("pts = %v, want 1100", pts)
	}
}

func TestIsKeyframeAndParameterSet(t *testing.T) {
	idr := []byte{0x65}
	sps := []byte{0x67}
	pps := []byte{0x68}
	nonIDR := []byte{0x61}

	if !IsKeyframe(idr) {
		t.Error("IDR not detected as keyframe")
	}
	if IsKeyframe(nonIDR) {
		t.Error("non-IDR detected as keyframe")
	}
	if !IsParameterSet(sps) || !IsParameterSet(pps) {
		t.Error("SPS/PPS not detected as parameter sets")
	}
	if IsParameterSet(nonIDR) {
		t.Error("non-parameter-set NAL detected as parameter set")
	}
}
