package headers

import (
	"testing"

	"github.com/ymn/rtspsession/pkg/base"
)

func TestRTPInfoUnmarshal(t *testing.T) {
	var ri RTPInfo
	err := ri.Unmarshal(base.HeaderValue{"url=rtsp://75.130.113.168:1025/11/trackID=0;seq=0;rtptime=3051549469 "})
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(ri) != 1 {
		t.Fatalf("got %d entries, want 1", len(ri))
	}
	e := ri[0]
	if e.URL != "rtsp://75.130.113.168:1025/11/trackID=0" {
		t.Errorf("URL = %q", e.URL)
	}
	if e.SequenceNumber == nil || *e.SequenceNumber != 0 {
		t.Errorf("SequenceNumber = %v, want 0", e.SequenceNumber)
	}
	if e.Timestamp == nil || *e.Timestamp != 3051549469 {
		t.Errorf("Timestamp = %v, want 3051549469", e.Timestamp)
	}
}

func TestAuthenticateUnmarshalDigestChallenge(t *testing.T) {
	var a Authenticate
	err := a.Unmarshal(base.HeaderValue{`Digest realm="X", nonce="Y", stale=FALSE`})
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a.Method != AuthDigest {
		t.Errorf("Method = %v, want AuthDigest", a.Method)
	}
	if a.Realm == nil || *a.Realm != "X" {
		t.Errorf("Realm = %v, want X", a.Realm)
	}
	if a.Nonce == nil || *a.Nonce != "Y" {
		t.Errorf("Nonce = %v, want Y", a.Nonce)
	}
	if a.Stale == nil || *a.Stale != "FALSE" {
		t.Errorf("Stale = %v, want FALSE", a.Stale)
	}
}

func TestTransportRoundTripUDP(t *testing.T) {
	var ts Transports
	err := ts.Unmarshal(base.HeaderValue{"RTP/AVP;unicast;client_port=8000-8001"})
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("got %d transports, want 1", len(ts))
	}
	tr := ts[0]
	if tr.Protocol != TransportProtocolUDP || !tr.Unicast {
		t.Fatalf("unexpected transport: %+v", tr)
	}
	if tr.ClientPorts == nil || *tr.ClientPorts != [2]int{8000, 8001} {
		t.Fatalf("ClientPorts = %v, want [8000 8001]", tr.ClientPorts)
	}

	reply := Transport{
		Protocol:    TransportProtocolUDP,
		Unicast:     true,
		ClientPorts: tr.ClientPorts,
		ServerPorts: &[2]int{10000, 10001},
	}
	marshaled := reply.Marshal()
	if len(marshaled) != 1 {
		t.Fatalf("Marshal produced %d values, want 1", len(marshaled))
	}
	if want := "RTP/AVP;unicast;client_port=8000-8001;server_port=10000-10001"; marshaled[0] != want {
		t.Errorf("Marshal() = %q, want %q", marshaled[0], want)
	}
}

func TestTransportModeReceivePreservedBytewise(t *testing.T) {
	mode := TransportModeRecord
	tr := Transport{Protocol: TransportProtocolUDP, Unicast: true, Mode: &mode}
	v := tr.Marshal()
	if len(v) != 1 {
		t.Fatalf("Marshal produced %d values, want 1", len(v))
	}
	if got := v[0]; !containsSuffix(got, ";mode=receive") {
		t.Errorf("Marshal() = %q, want suffix %q", got, ";mode=receive")
	}
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func TestSessionUnmarshalDropsTimeoutSuffix(t *testing.T) {
	var s Session
	err := s.Unmarshal(base.HeaderValue{"abc123;timeout=60"})
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Session != "abc123" {
		t.Errorf("Session = %q, want abc123", s.Session)
	}
}
