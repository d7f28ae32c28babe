package rtspsession

import (
	"net"
	"time"

	"github.com/ymn/rtspsession/pkg/headers"
)

// Role is which side of the RTSP conversation a Session plays.
type Role int

// Roles.
const (
	RoleServer Role = iota
	RoleClient
)

// State is the per-session protocol state machine, generalized from
// the teacher's ServerSessionState to also cover client-side
// connected/playing/recording states (spec.md §9: "fixed two-element
// channel table" applies to Channels; State itself is carried forward
// unchanged in meaning from spec.md §3's lifecycle description).
type State int

// States.
const (
	StateInitial State = iota
	StatePrePlay
	StatePlay
	StatePreRecord
	StateRecord
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePrePlay:
		return "pre_play"
	case StatePlay:
		return "play"
	case StatePreRecord:
		return "pre_record"
	case StateRecord:
		return "record"
	default:
		return "unknown"
	}
}

// FlowType affects PAUSE semantics (spec.md §3).
type FlowType int

// Flow types.
const (
	FlowStream FlowType = iota
	FlowFile
)

// AuthKind is the current client-side authentication upgrade state.
type AuthKind int

// Auth kinds.
const (
	AuthNone AuthKind = iota
	AuthBasicKind
	AuthDigestKind
)

// ChannelContent is which media type a Channel slot carries.
type ChannelContent int

// Contents.
const (
	ContentVideo ChannelContent = iota
	ContentAudio
)

func (c ChannelContent) String() string {
	if c == ContentAudio {
		return "audio"
	}
	return "video"
}

// Channel is one of the two fixed media-track slots a Session holds
// (spec.md §3, §9 "replace dynamic record access by index with a
// fixed two-element channel table").
type Channel struct {
	Index   int
	Content ChannelContent
	Codec   string
	Timescale int

	// opaque per-codec packetizer/depacketizer state (external
	// collaborator per spec.md §6); concretely *rtph264.Encoder/Decoder
	// or *rtpaac.Encoder/Decoder, assigned by the codec glue in rtp.go.
	Encoder interface{}
	Decoder interface{}

	SSRC          uint32
	LastSeq       uint16
	LastTimecode  uint32
	LastNTP       uint64
	LastWallClock int64
	LastSRAt      time.Time

	Transport headers.TransportProtocol
	Mode      headers.TransportMode

	// UDP transport state, present only when Transport == TransportProtocolUDP.
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn

	ServerRTPPort, ServerRTCPPort int
	ClientRTPPort, ClientRTCPPort int

	// TCP-interleaved transport state, present only when Transport == TransportProtocolTCP.
	InterleavedRTP, InterleavedRTCP int
}
