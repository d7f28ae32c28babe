package base

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ymn/rtspsession/pkg/liberrors"
)

// Item is one of *Request, *Response or *InterleavedFrame, the three
// shapes the control channel can carry (spec.md §4.2).
type Item interface{}

// errMore is a sentinel meaning "buffer more bytes before parsing
// again"; it is never exposed as an Item, only as Next's error.
type errMore struct{}

func (errMore) Error() string { return "need more bytes" }

// IsMore reports whether an error returned by Next means "need more
// bytes", not a protocol failure.
func IsMore(err error) bool {
	_, ok := err.(errMore)
	return ok
}

// Parser accumulates bytes fed via Feed and extracts complete items
// one at a time. It has no knowledge of the underlying transport: the
// Session actor owns when bytes are read and fed.
type Parser struct {
	buf []byte
}

// Feed appends newly-read bytes to the parser's internal buffer.
func (p *Parser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next attempts to extract one complete Item from the buffer. It
// returns (item, nil) on success, (nil, errMore{}) if more bytes are
// needed, or (nil, liberrors.ErrControlDesync{...}) on a fatal parse
// error (spec.md §4.2 / §7 "Malformed RTSP line / desync").
func (p *Parser) Next() (Item, error) {
	if len(p.buf) == 0 {
		return nil, errMore{}
	}

	if p.buf[0] == '$' {
		return p.nextInterleaved()
	}

	return p.nextTextMessage()
}

func (p *Parser) nextInterleaved() (Item, error) {
	if len(p.buf) < 4 {
		return nil, errMore{}
	}
	channel := int(p.buf[1])
	length := int(p.buf[2])<<8 | int(p.buf[3])
	if len(p.buf) < 4+length {
		return nil, errMore{}
	}

	payload := make([]byte, length)
	copy(payload, p.buf[4:4+length])
	p.buf = p.buf[4+length:]

	return &InterleavedFrame{Channel: channel, Payload: payload}, nil
}

func (p *Parser) nextTextMessage() (Item, error) {
	sepLen := len("\r\n\r\n")
	headerEnd := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		// tolerate bare \n\n used by some embedded cameras
		if alt := bytes.Index(p.buf, []byte("\n\n")); alt >= 0 {
			headerEnd = alt
			sepLen = len("\n\n")
		} else {
			if len(p.buf) > 64*1024 {
				return nil, liberrors.ErrControlDesync{Reason: "header block too large"}
			}
			return nil, errMore{}
		}
	}

	rawHeader := string(p.buf[:headerEnd])
	lines := splitLines(rawHeader)
	if len(lines) == 0 {
		return nil, liberrors.ErrControlDesync{Reason: "empty start line"}
	}

	firstLine := lines[0]
	header := Header{}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			return nil, liberrors.ErrControlDesync{Reason: "malformed header line: " + line}
		}
		key := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		header[key] = append(header[key], val)
	}

	bodyLen := 0
	if v, ok := header.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, liberrors.ErrControlDesync{Reason: "malformed Content-Length"}
		}
		bodyLen = n
	}

	bodyStart := headerEnd + sepLen

	if len(p.buf) < bodyStart+bodyLen {
		return nil, errMore{}
	}

	body := make([]byte, bodyLen)
	copy(body, p.buf[bodyStart:bodyStart+bodyLen])
	p.buf = p.buf[bodyStart+bodyLen:]

	if strings.HasPrefix(firstLine, "RTSP/") {
		code, err := ParseStatusLine(firstLine)
		if err != nil {
			return nil, liberrors.ErrControlDesync{Reason: err.Error()}
		}
		return &Response{StatusCode: code, Header: header, Body: body}, nil
	}

	method, u, err := ParseRequestLine(firstLine)
	if err != nil {
		return nil, liberrors.ErrControlDesync{Reason: err.Error()}
	}
	return &Request{Method: method, URL: u, Header: header, Body: body}, nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}
