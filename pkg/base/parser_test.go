package base

import (
	"bytes"
	"testing"
)

func TestInterleavedRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x80, 0x60, 0x00, 0x01, 1, 2, 3},
		{0x80, 0xc8, 0x00, 0x06, 4, 5, 6, 7, 8, 9},
		{},
	}

	var wire []byte
	for i, p := range payloads {
		f := &InterleavedFrame{Channel: i % 2, Payload: p}
		wire = append(wire, f.Marshal()...)
	}

	var parser Parser
	parser.Feed(wire)

	for i, want := range payloads {
		item, err := parser.Next()
		if err != nil {
			t.Fatalf("frame %d: Next: %v", i, err)
		}
		got, ok := item.(*InterleavedFrame)
		if !ok {
			t.Fatalf("frame %d: got %T, want *InterleavedFrame", i, item)
		}
		if got.Channel != i%2 {
			t.Errorf("frame %d: Channel = %d, want %d", i, got.Channel, i%2)
		}
		if !bytes.Equal(got.Payload, want) {
			t.Errorf("frame %d: Payload = %v, want %v", i, got.Payload, want)
		}
	}

	if _, err := parser.Next(); !IsMore(err) {
		t.Errorf("Next after drain: err = %v, want IsMore", err)
	}
}

func TestRequestResponseParse(t *testing.T) {
	var parser Parser
	parser.Feed([]byte("OPTIONS rtsp://cam/stream RTSP/1.0\r\nCSeq: 1\r\n\r\n"))

	item, err := parser.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	req, ok := item.(*Request)
	if !ok {
		t.Fatalf("got %T, want *Request", item)
	}
	if req.Method != Options || req.URL != "rtsp://cam/stream" {
		t.Errorf("got method=%q url=%q", req.Method, req.URL)
	}
	if cseq, _ := req.Header.Get("CSeq"); cseq != "1" {
		t.Errorf("CSeq = %q, want 1", cseq)
	}
}
