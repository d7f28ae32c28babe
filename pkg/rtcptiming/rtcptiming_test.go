package rtcptiming

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
)

// TestDLSRScale checks the RR DLSR scale property from spec.md §8:
// given last_sr_at = now - 1s, the emitted DLSR is 65536 +/- 1.
func TestDLSRScale(t *testing.T) {
	now := time.Now()
	sr := &SRState{NTP: 0x0102030405060708, ReceivedAt: now.Add(-1 * time.Second)}

	rr := ReceiverReport(42, 100, sr, now)
	got := rr.Reports[0].Delay

	if got < 65535 || got > 65537 {
		t.Errorf("DLSR = %d, want 65536 +/- 1", got)
	}
}

func TestReceiverReportWithoutSR(t *testing.T) {
	rr := ReceiverReport(42, 100, nil, time.Now())
	if rr.Reports[0].LastSenderReport != 0 || rr.Reports[0].Delay != 0 {
		t.Errorf("expected zero LSR/DLSR without a prior SR, got %+v", rr.Reports[0])
	}
	if rr.Reports[0].LastSequenceNumber != 100 {
		t.Errorf("LastSequenceNumber = %d, want 100", rr.Reports[0].LastSequenceNumber)
	}
}

func TestFirstDTSPacketRoundTrip(t *testing.T) {
	raw := FirstDTSPacket(7, 1234.5)

	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		t.Fatalf("rtcp.Unmarshal: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}

	got, ok := ParseFirstDTS(packets[0])
	if !ok {
		t.Fatal("ParseFirstDTS: ok = false")
	}
	if diff := got - 1234.5; diff < -0.02 || diff > 0.02 {
		t.Errorf("first_dts round trip = %v, want ~1234.5", got)
	}
}

func TestIngestSRWallClock(t *testing.T) {
	now := time.Now()
	// 2026-01-01T00:00:00Z in NTP seconds, fractional part zero.
	const ntpSeconds = 2208988800 + 1767225600 // years_70 + Unix seconds of 2026-01-01
	sr := &rtcp.SenderReport{SSRC: 9, NTPTime: uint64(ntpSeconds) << 32, RTPTime: 555}

	st := IngestSR(sr, now)
	if st.SSRC != 9 || st.RTPTime != 555 {
		t.Errorf("unexpected SRState: %+v", st)
	}
	if st.ReceivedAt != now {
		t.Error("ReceivedAt not propagated")
	}
	if st.WallClock != 1767225600000 {
		t.Errorf("WallClock = %d, want 1767225600000", st.WallClock)
	}
}
