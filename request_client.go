package rtspsession

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ymn/rtspsession/pkg/auth"
	"github.com/ymn/rtspsession/pkg/base"
	"github.com/ymn/rtspsession/pkg/headers"
	"github.com/ymn/rtspsession/pkg/liberrors"
)

// Call issues a client-side request and blocks the caller (not the
// actor) for up to 10 s, per spec.md §4.4/§5.
func (s *Session) Call(method base.Method, path string, header base.Header, body []byte) (*base.Response, error) {
	req := &base.Request{Method: method, URL: s.requestURL(path), Header: header, Body: body}
	if req.Header == nil {
		req.Header = base.Header{}
	}

	pc := &pendingCall{req: req, ref: uuid.NewString(), method: method, result: make(chan callResult, 1)}
	return s.dispatch(pc)
}

// AddChannel issues client-side SETUP for one media track and, once
// the peer's Transport reply arrives, activates the channel: for UDP
// it binds a local port pair and then connects both sockets to the
// peer's advertised ports (spec.md §4.5 "UDP connect on channel
// activation"); for TCP-interleaved it just records the negotiated
// channel ids. The channel is installed into the Session's channel
// table by the actor itself (see pendingCall.channel), never by this
// caller goroutine, per the single-actor ownership rule.
func (s *Session) AddChannel(idx int, content ChannelContent, codec string, timescale int, trackPath string, protocol headers.TransportProtocol, mode headers.TransportMode) (*base.Response, error) {
	if idx < 0 || idx > 1 {
		return nil, fmt.Errorf("channel index %d out of range", idx)
	}

	ch := &Channel{Index: idx, Content: content, Codec: codec, Timescale: timescale, Transport: protocol, Mode: mode}
	s.initChannelCodec(ch)

	t := headers.Transport{Protocol: protocol, Unicast: true, Mode: &mode}
	header := base.Header{}

	switch protocol {
	case headers.TransportProtocolUDP:
		rtpConn, rtcpConn, rtpPort, rtcpPort, err := bindUDPPortPair()
		if err != nil {
			return nil, err
		}
		ch.RTPConn, ch.RTCPConn = rtpConn, rtcpConn
		ch.ClientRTPPort, ch.ClientRTCPPort = rtpPort, rtcpPort
		t.ClientPorts = &[2]int{rtpPort, rtcpPort}

	case headers.TransportProtocolTCP:
		ids := [2]int{idx * 2, idx*2 + 1}
		ch.InterleavedRTP, ch.InterleavedRTCP = ids[0], ids[1]
		t.InterleavedIDs = &ids
	}
	header["Transport"] = t.Marshal()

	req := &base.Request{Method: base.Setup, URL: s.requestURL(trackPath), Header: header}
	pc := &pendingCall{req: req, ref: uuid.NewString(), method: base.Setup, channel: ch, result: make(chan callResult, 1)}

	res, err := s.dispatch(pc)
	if err != nil || res.StatusCode != base.StatusOK {
		if ch.RTPConn != nil {
			ch.RTPConn.Close()
		}
		if ch.RTCPConn != nil {
			ch.RTCPConn.Close()
		}
	}
	return res, err
}

func (s *Session) dispatch(pc *pendingCall) (*base.Response, error) {
	select {
	case s.callCh <- pc:
	case <-s.doneCh:
		return nil, liberrors.ErrSessionTerminated{}
	}

	select {
	case r := <-pc.result:
		return r.resp, r.err
	case <-time.After(callTimeout):
		s.terminate(liberrors.ErrSessionTimedOut{Cause: "client call"})
		return nil, liberrors.ErrSessionTimedOut{Cause: "client call"}
	case <-s.doneCh:
		return nil, s.stopErr
	}
}

func (s *Session) requestURL(path string) string {
	if s.url == nil {
		return path
	}
	if path == "" {
		return s.url.String()
	}
	root := strings.TrimSuffix(s.url.String(), "/")
	return root + "/" + strings.TrimPrefix(path, "/")
}

// issueCall runs on the actor: it enforces the single in-flight slot,
// stamps CSeq/Authorization/Session, and writes the request.
func (s *Session) issueCall(pc *pendingCall) error {
	if s.lastRequest != nil {
		pc.result <- callResult{err: fmt.Errorf("a request is already in flight")}
		return nil
	}

	s.stampRequest(pc.req)
	s.lastRequest = pc

	if _, err := s.conn.WriteRequest(pc.req); err != nil {
		return err
	}
	return nil
}

func (s *Session) stampRequest(req *base.Request) {
	req.Header.Set("CSeq", fmt.Sprintf("%d", s.seq))
	s.seq++

	if s.sessionID != "" {
		req.Header["Session"] = headers.Session{Session: s.sessionID}.Marshal()
	}

	if s.authSender != nil {
		s.authSender.AddAuthorization(req)
	}
}

func (s *Session) sendKeepalive() {
	pc := &pendingCall{
		req:    &base.Request{Method: s.keepaliveMethod, URL: s.requestURL(""), Header: base.Header{}},
		ref:    uuid.NewString(),
		method: s.keepaliveMethod,
		result: make(chan callResult, 1),
	}
	if s.lastRequest != nil {
		return
	}
	s.stampRequest(pc.req)
	s.lastRequest = pc
	if _, err := s.conn.WriteRequest(pc.req); err != nil {
		s.terminate(err)
	}
}

func (s *Session) handleClientResponse(res *base.Response) {
	pc := s.lastRequest
	if pc == nil {
		return
	}

	if res.StatusCode == base.StatusUnauthorized && s.authState != AuthDigestKind {
		if wa, ok := res.Header["WWW-Authenticate"]; ok {
			sender, err := auth.NewSender(wa, s.credUser, s.credPass)
			if err == nil {
				s.authSender = sender
				s.authState = AuthDigestKind
				s.lastRequest = nil
				s.retryRequest(pc)
				return
			}
		}
	}

	if sess, ok := res.Header["Session"]; ok {
		var h headers.Session
		if h.Unmarshal(sess) == nil {
			s.sessionID = h.Session
		}
	}

	if pub, ok := res.Header.Get("Public"); ok {
		if strings.Contains(pub, "GET_PARAMETER") {
			s.keepaliveMethod = base.GetParameter
		} else {
			s.keepaliveMethod = base.Options
		}
	}

	if ri, ok := res.Header["RTP-Info"]; ok {
		var entries headers.RTPInfo
		if entries.Unmarshal(ri) == nil {
			s.applyRTPInfo(entries)
		}
	}

	if pc.method == base.Setup && pc.channel != nil && res.StatusCode == base.StatusOK {
		if err := s.finishChannelSetup(pc.channel, res); err != nil {
			s.lastRequest = nil
			pc.result <- callResult{err: err}
			return
		}
	}

	s.lastRequest = nil

	if pc.result != nil {
		pc.result <- callResult{resp: res}
	}
}

// finishChannelSetup runs on the actor once a client AddChannel's
// SETUP reply has arrived: it reads the peer's negotiated Transport,
// completes UDP connect_channel activation when applicable, and
// installs the channel into the table (spec.md §3 "Channels are
// created by SETUP (server) or add_channel (client)").
func (s *Session) finishChannelSetup(ch *Channel, res *base.Response) error {
	var ts headers.Transports
	if err := ts.Unmarshal(res.Header["Transport"]); err != nil || len(ts) == 0 {
		return fmt.Errorf("SETUP reply carries no usable Transport header")
	}
	t := ts[0]

	switch {
	case t.Protocol == headers.TransportProtocolUDP && t.ServerPorts != nil:
		host, _, err := net.SplitHostPort(s.nconn.RemoteAddr().String())
		if err != nil {
			return err
		}
		ch.ServerRTPPort, ch.ServerRTCPPort = t.ServerPorts[0], t.ServerPorts[1]
		if err := connectChannelUDP(ch, host, t.ServerPorts[0], t.ServerPorts[1]); err != nil {
			return err
		}
		s.startUDPReaders(ch.Index, ch)

	case t.Protocol == headers.TransportProtocolTCP && t.InterleavedIDs != nil:
		ch.InterleavedRTP, ch.InterleavedRTCP = t.InterleavedIDs[0], t.InterleavedIDs[1]

	default:
		return fmt.Errorf("SETUP reply transport does not match what was requested")
	}

	s.channels[ch.Index] = ch
	return nil
}

func (s *Session) retryRequest(pc *pendingCall) {
	delete(pc.req.Header, "CSeq")
	delete(pc.req.Header, "Authorization")

	if err := s.issueCall(pc); err != nil {
		s.terminate(err)
	}
}

func (s *Session) applyRTPInfo(entries headers.RTPInfo) {
	for _, e := range entries {
		idx := trackIndexFromURL(e.URL)
		if idx < 0 || idx > 1 || s.channels[idx] == nil {
			continue
		}
		var seq uint16
		var rtptime uint32
		if e.SequenceNumber != nil {
			seq = *e.SequenceNumber
		}
		if e.Timestamp != nil {
			rtptime = *e.Timestamp
		}
		switch dec := s.channels[idx].Decoder.(type) {
		case interface{ Sync(uint16, uint32) }:
			dec.Sync(seq, rtptime)
		}
	}
}

func trackIndexFromURL(u string) int {
	i := strings.LastIndex(u, "trackID=")
	if i < 0 {
		return -1
	}
	var n int
	_, err := fmt.Sscanf(u[i+len("trackID="):], "%d", &n)
	if err != nil {
		return -1
	}
	return n
}
