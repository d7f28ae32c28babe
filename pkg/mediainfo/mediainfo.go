// Package mediainfo describes the two media channels (video, audio) a
// Session can hold and converts that description to and from SDP.
//
// Narrowed from the teacher's pkg/description (N-media, any codec) to
// the fixed video/audio pair spec.md §3's media_info field requires,
// keeping the same SDP shape (Origin/ConnectionInformation/
// TimeDescriptions boilerplate, rtpmap/fmtp/control attribute
// handling) from the teacher's pkg/description/session.go and
// pkg/description/media.go.
package mediainfo

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Video describes the H.264 channel.
type Video struct {
	PayloadType uint8
	Timescale   int // RTP clock rate, conventionally 90000
	LengthSize  int // NAL length-prefix size in the source frames: 2 or 4
	SPS         []byte
	PPS         []byte
	Control     string
}

// Audio describes the AAC channel.
type Audio struct {
	PayloadType   uint8
	Timescale     int // sample rate
	Channels      int
	Config        []byte // AudioSpecificConfig, from fmtp "config="
	Control       string
}

// Session is the media descriptor cached on Session at DESCRIBE/ANNOUNCE
// time (spec.md §3 media_info).
type Session struct {
	Title string
	Video *Video
	Audio *Audio
}

// Marshal encodes the descriptor as a SDP message, video then audio,
// with per-stream options cleared (spec.md §4.3: "with their stream
// options cleared" — no a=recvonly/sendonly, no bwtype, no FEC group).
func (s *Session) Marshal() ([]byte, error) {
	title := s.Title
	if title == "" {
		title = " "
	}

	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: psdp.SessionName(title),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	if s.Video != nil {
		sd.MediaDescriptions = append(sd.MediaDescriptions, s.Video.marshal())
	}
	if s.Audio != nil {
		sd.MediaDescriptions = append(sd.MediaDescriptions, s.Audio.marshal())
	}

	return sd.Marshal()
}

// Unmarshal decodes a SDP body carried by DESCRIBE/ANNOUNCE into the
// video/audio channel descriptors this core understands. Media types
// other than video/audio, or unsupported codecs, are skipped rather
// than rejected, so a DESCRIBE that also lists e.g. application data
// still yields usable video/audio channels. The codec is read from the
// rtpmap encoding name; a media without an rtpmap is taken to be H.264
// (video) or AAC (audio).
func Unmarshal(raw []byte) (*Session, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("invalid SDP: %w", err)
	}

	out := &Session{Title: strings.TrimSpace(string(sd.SessionName))}

	for _, md := range sd.MediaDescriptions {
		switch md.MediaName.Media {
		case "video":
			v, err := unmarshalVideo(md)
			if err != nil {
				return nil, fmt.Errorf("invalid video media: %w", err)
			}
			if v != nil {
				out.Video = v
			}
		case "audio":
			a, err := unmarshalAudio(md)
			if err != nil {
				return nil, fmt.Errorf("invalid audio media: %w", err)
			}
			if a != nil {
				out.Audio = a
			}
		}
	}

	if out.Video == nil && out.Audio == nil {
		return nil, fmt.Errorf("no usable video or audio media found")
	}

	return out, nil
}

func attribute(attrs []psdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func formatAttribute(attrs []psdp.Attribute, pt uint8, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key != key {
			continue
		}
		parts := strings.SplitN(strings.TrimSpace(a.Value), " ", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.ParseUint(parts[0], 10, 8)
		if err == nil && uint8(n) == pt {
			return parts[1], true
		}
	}
	return "", false
}

func decodeFMTP(enc string) map[string]string {
	ret := make(map[string]string)
	for _, kv := range strings.Split(enc, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ret[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return ret
}

func (v *Video) marshal() *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  "video",
			Protos: []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(v.PayloadType))},
		},
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "rtpmap",
		Value: fmt.Sprintf("%d H264/%d", v.PayloadType, v.Timescale),
	})

	fmtpParts := []string{"packetization-mode=1"}
	if len(v.SPS) > 0 || len(v.PPS) > 0 {
		sets := make([]string, 0, 2)
		if len(v.SPS) > 0 {
			sets = append(sets, base64.StdEncoding.EncodeToString(v.SPS))
		}
		if len(v.PPS) > 0 {
			sets = append(sets, base64.StdEncoding.EncodeToString(v.PPS))
		}
		fmtpParts = append(fmtpParts, "sprop-parameter-sets="+strings.Join(sets, ","))
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "fmtp",
		Value: fmt.Sprintf("%d %s", v.PayloadType, strings.Join(fmtpParts, "; ")),
	})

	if v.Control != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "control", Value: v.Control})
	}

	return md
}

func unmarshalVideo(md *psdp.MediaDescription) (*Video, error) {
	if len(md.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("no formats")
	}
	n, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8)
	if err != nil {
		return nil, err
	}
	pt := uint8(n)

	v := &Video{PayloadType: pt, Timescale: 90000, LengthSize: 4}
	v.Control, _ = attribute(md.Attributes, "control")

	if rtpmap, ok := formatAttribute(md.Attributes, pt, "rtpmap"); ok {
		parts := strings.SplitN(rtpmap, "/", 2)
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "H264") {
			return nil, nil
		}
		if len(parts) == 2 {
			if ts, err := strconv.Atoi(parts[1]); err == nil {
				v.Timescale = ts
			}
		}
	}

	if fmtpRaw, ok := formatAttribute(md.Attributes, pt, "fmtp"); ok {
		fmtp := decodeFMTP(fmtpRaw)
		if sets, ok := fmtp["sprop-parameter-sets"]; ok {
			parts := strings.Split(sets, ",")
			if len(parts) >= 1 {
				if b, err := base64.StdEncoding.DecodeString(parts[0]); err == nil {
					v.SPS = b
				}
			}
			if len(parts) >= 2 {
				if b, err := base64.StdEncoding.DecodeString(parts[1]); err == nil {
					v.PPS = b
				}
			}
		}
	}

	return v, nil
}

func (a *Audio) marshal() *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "audio",
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(a.PayloadType))},
		},
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "rtpmap",
		Value: fmt.Sprintf("%d MPEG4-GENERIC/%d/%d", a.PayloadType, a.Timescale, a.Channels),
	})

	fmtp := map[string]string{
		"streamtype":     "5",
		"profile-level-id": "1",
		"mode":           "AAC-hbr",
		"sizelength":     "13",
		"indexlength":    "3",
		"indexdeltalength": "3",
	}
	if len(a.Config) > 0 {
		fmtp["config"] = fmt.Sprintf("%x", a.Config)
	}
	keys := make([]string, 0, len(fmtp))
	for k := range fmtp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fmtp[k]
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "fmtp",
		Value: fmt.Sprintf("%d %s", a.PayloadType, strings.Join(parts, "; ")),
	})

	if a.Control != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "control", Value: a.Control})
	}

	return md
}

func unmarshalAudio(md *psdp.MediaDescription) (*Audio, error) {
	if len(md.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("no formats")
	}
	n, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8)
	if err != nil {
		return nil, err
	}
	pt := uint8(n)

	a := &Audio{PayloadType: pt, Timescale: 44100, Channels: 2}
	a.Control, _ = attribute(md.Attributes, "control")

	if rtpmap, ok := formatAttribute(md.Attributes, pt, "rtpmap"); ok {
		parts := strings.Split(rtpmap, "/")
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "MPEG4-GENERIC") {
			return nil, nil
		}
		if len(parts) >= 2 {
			if ts, err := strconv.Atoi(parts[1]); err == nil {
				a.Timescale = ts
			}
		}
		if len(parts) >= 3 {
			if ch, err := strconv.Atoi(parts[2]); err == nil {
				a.Channels = ch
			}
		}
	}

	if fmtpRaw, ok := formatAttribute(md.Attributes, pt, "fmtp"); ok {
		fmtp := decodeFMTP(fmtpRaw)
		if cfg, ok := fmtp["config"]; ok {
			b := make([]byte, len(cfg)/2)
			for i := 0; i < len(b); i++ {
				v, err := strconv.ParseUint(cfg[i*2:i*2+2], 16, 8)
				if err == nil {
					b[i] = byte(v)
				}
			}
			a.Config = b
		}
	}

	return a, nil
}
