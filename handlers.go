package rtspsession

import (
	"github.com/ymn/rtspsession/pkg/mediainfo"
)

// Frame is one unit of media flowing between the codec glue and a
// Source/Sink. A Source supplies a full H.264 access unit (one or more
// length-prefixed NALs) on the video channel; frames delivered to a
// Sink from inbound RTP carry one bare NAL each, without a length
// prefix. The audio channel carries one AAC access unit per Frame.
type Frame struct {
	Channel  int
	DTS, PTS float64
	Data     []byte

	// IsConfig marks metadata/codec-config frames (e.g. bare SPS/PPS
	// updates carried outside the bitstream), gated out of RTP output
	// per spec.md §4.6 ("ignore metadata and codec-config frames").
	IsConfig bool
}

// DescribeRequest is passed to ServerHandler.OnDescribe.
type DescribeRequest struct {
	URL    string
	Auth   AuthInfo
	Header map[string][]string
	Body   []byte
}

// PlayRequest is passed to ServerHandler.OnPlay.
type PlayRequest struct {
	URL       string
	Auth      AuthInfo
	ClientIP  string
	SessionID string
}

// AnnounceRequest is passed to ServerHandler.OnAnnounce.
type AnnounceRequest struct {
	URL       string
	Auth      AuthInfo
	MediaInfo *mediainfo.Session
}

// AuthInfo carries whatever credential material a handler needs to
// authorize a request (spec.md §6 collaborator contract: "describe(url,
// auth, headers, body)").
type AuthInfo struct {
	Authorization string // raw Authorization header value, if any
}

// ServerHandler implements the server-side external collaborators
// spec.md §6 names: describe/play/announce.
type ServerHandler interface {
	OnDescribe(req *DescribeRequest) (*mediainfo.Session, error)
	OnPlay(req *PlayRequest) (Source, error)
	OnAnnounce(req *AnnounceRequest) (Sink, error)
}

// SegmentLister optionally answers LIST_SEGMENTS/GET_SEGMENT
// (spec.md §6, marked optional).
type SegmentLister interface {
	ListSegments(path string) ([]byte, error)
	GetSegment(path, seg string) ([]byte, error)
}

// Source is the monitored handle to a media source subscribed by PLAY
// (spec.md §5 "the Session only holds a monitored handle and detects
// their death").
type Source interface {
	Frames() <-chan Frame
	Done() <-chan struct{}
	Close()
}

// Sink is the monitored handle to a consumer, obtained from
// ServerHandler.OnAnnounce.
type Sink interface {
	WriteFrame(Frame) error
	Done() <-chan struct{}
	Close()
}

// ErrNotFound signals a DESCRIBE/PLAY target that does not exist,
// mapped to RTSP 404 (spec.md §6: "{error, ... enoent}").
type ErrNotFound struct{ Path string }

func (e ErrNotFound) Error() string { return "not found: " + e.Path }

// ErrAuthRequired signals a DESCRIBE/PLAY/ANNOUNCE authorization
// failure, mapped to RTSP 401.
type ErrAuthRequired struct{ Realm string }

func (e ErrAuthRequired) Error() string { return "authorization required" }

// ErrNoMediaInfo signals a successful DESCRIBE whose source has no
// usable media descriptor yet, mapped to RTSP 404.
type ErrNoMediaInfo struct{}

func (ErrNoMediaInfo) Error() string { return "no media info available" }
