package mediainfo

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := &Session{
		Title: "session",
		Video: &Video{
			PayloadType: 96,
			Timescale:   90000,
			LengthSize:  4,
			SPS:         []byte{0x67, 1, 2, 3},
			PPS:         []byte{0x68, 4, 5},
			Control:     "trackID=0",
		},
		Audio: &Audio{
			PayloadType: 97,
			Timescale:   44100,
			Channels:    2,
			Config:      []byte{0x12, 0x10},
			Control:     "trackID=1",
		},
	}

	raw, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v\nSDP:\n%s", err, raw)
	}

	if out.Video == nil {
		t.Fatal("Video missing after round trip")
	}
	if out.Video.PayloadType != 96 || out.Video.Timescale != 90000 {
		t.Errorf("video = %+v", out.Video)
	}
	if !bytes.Equal(out.Video.SPS, in.Video.SPS) {
		t.Errorf("SPS = %x, want %x", out.Video.SPS, in.Video.SPS)
	}
	if !bytes.Equal(out.Video.PPS, in.Video.PPS) {
		t.Errorf("PPS = %x, want %x", out.Video.PPS, in.Video.PPS)
	}
	if out.Video.Control != "trackID=0" {
		t.Errorf("video control = %q", out.Video.Control)
	}

	if out.Audio == nil {
		t.Fatal("Audio missing after round trip")
	}
	if out.Audio.PayloadType != 97 || out.Audio.Timescale != 44100 || out.Audio.Channels != 2 {
		t.Errorf("audio = %+v", out.Audio)
	}
	if !bytes.Equal(out.Audio.Config, in.Audio.Config) {
		t.Errorf("Config = %x, want %x", out.Audio.Config, in.Audio.Config)
	}
}

func TestUnmarshalRejectsEmptyMedia(t *testing.T) {
	_, err := Unmarshal([]byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns= \r\nt=0 0\r\n"))
	if err == nil {
		t.Fatal("expected error for SDP with no usable media")
	}
}
