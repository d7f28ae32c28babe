package rtspsession

import "testing"

// TestBindUDPPortPair checks spec.md §8's UDP binder property: the
// returned ports are (P, P+1), P even, 10000 <= P < 60000.
func TestBindUDPPortPair(t *testing.T) {
	rtpConn, rtcpConn, rtpPort, rtcpPort, err := bindUDPPortPair()
	if err != nil {
		t.Fatalf("bindUDPPortPair: %v", err)
	}
	defer rtpConn.Close()
	defer rtcpConn.Close()

	if rtpPort%2 != 0 {
		t.Errorf("rtpPort = %d, want even", rtpPort)
	}
	if rtcpPort != rtpPort+1 {
		t.Errorf("rtcpPort = %d, want %d", rtcpPort, rtpPort+1)
	}
	if rtpPort < 10000 || rtpPort >= 60000 {
		t.Errorf("rtpPort = %d, want in [10000, 60000)", rtpPort)
	}
}
