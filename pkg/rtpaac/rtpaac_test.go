package rtpaac

import (
	"bytes"
	"testing"
)

// TestBatchingProducesOnePacketForFourFrames checks that exactly one
// RTP packet is produced once 4 frames are pushed, carrying 4 AU
// headers whose 13-bit sizes match the pushed payloads.
func TestBatchingProducesOnePacketForFourFrames(t *testing.T) {
	enc := &Encoder{SSRC: 2, Scale: 44.1}

	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 100),
		bytes.Repeat([]byte{0xBB}, 120),
		bytes.Repeat([]byte{0xCC}, 80),
		bytes.Repeat([]byte{0xDD}, 64),
	}

	var produced []int
	for i, f := range frames {
		p, err := enc.Push(f, 0, int64(i), false)
		if err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if p != nil {
			produced = append(produced, i)

			dec := &Decoder{Scale: 44.1}
			outFrames, _, err := dec.Decode(p)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(outFrames) != 4 {
				t.Fatalf("got %d frames, want 4", len(outFrames))
			}
			for j, got := range outFrames {
				if !bytes.Equal(got, frames[j]) {
					t.Errorf("frame %d mismatch: got len %d, want len %d", j, len(got), len(frames[j]))
				}
			}
		}
	}

	if len(produced) != 1 || produced[0] != 3 {
		t.Errorf("packet produced at pushes %v, want exactly one at index 3", produced)
	}
}

// TestFlushEmitsPartialBatch checks that a flush with fewer than 4
// pending frames still drains them into one packet.
func TestFlushEmitsPartialBatch(t *testing.T) {
	enc := &Encoder{SSRC: 2, Scale: 44.1}

	if p, err := enc.Push([]byte{1, 2, 3}, 10, 0, false); err != nil || p != nil {
		t.Fatalf("Push: p=%v err=%v", p, err)
	}

	p, err := enc.Push(nil, 0, 0, true)
	if err != nil {
		t.Fatalf("flush Push: %v", err)
	}
	if p == nil {
		t.Fatal("expected a packet on flush")
	}

	dec := &Decoder{Scale: 44.1}
	frames, dts, err := dec.Decode(p)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{1, 2, 3}) {
		t.Errorf("frames = %v, want one [1 2 3]", frames)
	}
	if dts != 10 {
		t.Errorf("dts = %v, want %v", dts, 10)
	}
}

func TestSequenceNumbersIncrement(t *testing.T) {
	enc := &Encoder{SSRC: 2, Scale: 44.1}

	var seqs []uint16
	for i := 0; i < 8; i++ {
		p, err := enc.Push([]byte{byte(i)}, 0, int64(i), i == 7)
		if err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if p != nil {
			seqs = append(seqs, p.SequenceNumber)
		}
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Errorf("sequence numbers %v not strictly increasing by 1", seqs)
		}
	}
}
