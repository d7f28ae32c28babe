// Package headers contains marshal/unmarshal logic for the RTSP
// headers this core reads or writes: RTP-Info, Transport, Session and
// the WWW-Authenticate/Authorization challenge headers.
//
// Grounded on the teacher's pkg/headers/rtpinfo.go, generalized with a
// shared keyValParse helper the teacher's sibling files (not present in
// the retrieval pack) would have provided.
package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ymn/rtspsession/pkg/base"
)

// RTPInfoEntry is one entry of a RTP-Info header.
type RTPInfoEntry struct {
	URL            string
	SequenceNumber *uint16
	Timestamp      *uint32
}

// RTPInfo is a RTP-Info header: one entry per media stream.
type RTPInfo []*RTPInfoEntry

// Unmarshal decodes a RTP-Info header, e.g.
//
//	url=rtsp://75.130.113.168:1025/11/trackID=0;seq=0;rtptime=3051549469
func (h *RTPInfo) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	for _, part := range strings.Split(v[0], ",") {
		e := &RTPInfoEntry{}
		part = strings.TrimSpace(part)

		kvs, err := keyValParse(part, ';')
		if err != nil {
			return err
		}

		for k, v := range kvs {
			switch k {
			case "url":
				e.URL = v

			case "seq":
				vi, err := strconv.ParseUint(v, 10, 16)
				if err != nil {
					return err
				}
				vi2 := uint16(vi)
				e.SequenceNumber = &vi2

			case "rtptime":
				vi, err := strconv.ParseUint(v, 10, 32)
				if err != nil {
					return err
				}
				vi2 := uint32(vi)
				e.Timestamp = &vi2
			}
		}

		if e.URL == "" {
			return fmt.Errorf("URL is missing")
		}

		*h = append(*h, e)
	}

	return nil
}

// Marshal encodes a RTP-Info header.
func (h RTPInfo) Marshal() base.HeaderValue {
	rets := make([]string, len(h))

	for i, e := range h {
		var tmp []string
		tmp = append(tmp, "url="+e.URL)

		if e.SequenceNumber != nil {
			tmp = append(tmp, "seq="+strconv.FormatUint(uint64(*e.SequenceNumber), 10))
		}
		if e.Timestamp != nil {
			tmp = append(tmp, "rtptime="+strconv.FormatUint(uint64(*e.Timestamp), 10))
		}

		rets[i] = strings.Join(tmp, ";")
	}

	return base.HeaderValue{strings.Join(rets, ",")}
}
