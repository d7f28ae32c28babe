package rtspsession

import (
	"strconv"
	"strings"
	"time"

	"github.com/ymn/rtspsession/pkg/base"
	"github.com/ymn/rtspsession/pkg/headers"
	"github.com/ymn/rtspsession/pkg/liberrors"
	"github.com/ymn/rtspsession/pkg/mediainfo"
	rtspurl "github.com/ymn/rtspsession/pkg/url"
)

// publicMethods is the Public header value answered to OPTIONS and
// GET_PARAMETER (spec.md §4.3).
const publicMethods = "SETUP, TEARDOWN, ANNOUNCE, RECORD, PLAY, OPTIONS, DESCRIBE, GET_PARAMETER, LIST_SEGMENTS, GET_SEGMENT"

func (s *Session) handleServerRequest(req *base.Request) {
	res := s.responseFor(req)

	switch req.Method {
	case base.Options, base.GetParameter:
		res.Header.Set("Public", publicMethods)
		s.writeResponse(res)

	case base.SetParameter:
		// no handler registered: 200, mirroring GET_PARAMETER's ping
		// behavior so a bare keep-alive-only peer still gets a valid
		// response instead of 405.
		s.writeResponse(res)

	case base.Describe:
		s.handleDescribe(req, res)

	case base.Setup:
		s.handleSetup(req, res)

	case base.Play:
		s.handlePlay(req, res)

	case base.Pause:
		s.handlePause(req, res)

	case base.Teardown:
		s.writeResponse(res)
		s.terminate(liberrors.ErrSessionTerminated{})

	case base.Announce:
		s.handleAnnounce(req, res)

	case base.Record:
		s.state = StateRecord
		s.writeResponse(res)

	case base.ListSegments:
		s.handleListSegments(req, res)

	case base.GetSegment:
		s.handleGetSegment(req, res)

	default:
		res.StatusCode = base.StatusMethodNotAllowed
		s.writeResponse(res)
	}
}

// responseFor builds a bare response carrying CSeq, Date, Server and,
// once a session id exists, Session (spec.md §4.3).
func (s *Session) responseFor(req *base.Request) *base.Response {
	res := &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{},
	}
	if cseq, ok := req.Header.Get("CSeq"); ok {
		res.Header.Set("CSeq", cseq)
	}
	res.Header.Set("Date", time.Now().UTC().Format(time.RFC1123))
	res.Header.Set("Server", "rtspsession")
	if s.sessionID != "" {
		res.Header["Session"] = headers.Session{Session: s.sessionID}.Marshal()
	}
	return res
}

func (s *Session) writeResponse(res *base.Response) {
	if _, err := s.conn.WriteResponse(res); err != nil {
		s.terminate(err)
	}
}

func trimContentBase(pathAndQuery string) string {
	return strings.TrimSuffix(pathAndQuery, "/")
}

func (s *Session) handleDescribe(req *base.Request, res *base.Response) {
	if s.handler == nil {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	auth, _ := req.Header.Get("Authorization")
	hdr := make(map[string][]string, len(req.Header))
	for k, v := range req.Header {
		hdr[k] = []string(v)
	}

	mi, err := s.handler.OnDescribe(&DescribeRequest{
		URL:    req.URL,
		Auth:   AuthInfo{Authorization: auth},
		Header: hdr,
		Body:   req.Body,
	})
	if err != nil {
		s.respondUpstreamError(res, err)
		return
	}

	s.mediaInfo = mi
	s.populateChannelsFromMediaInfo()
	s.sessionID = newSessionID()

	body, err := mi.Marshal()
	if err != nil {
		res.StatusCode = base.StatusInternalServerError
		s.writeResponse(res)
		return
	}

	u, err := rtspurl.Parse(req.URL)
	contentBase := req.URL
	if err == nil {
		contentBase = u.String()
	}
	if !strings.HasSuffix(contentBase, "/") {
		contentBase += "/"
	}
	s.contentBase = contentBase

	res.Body = body
	res.Header.Set("Content-Base", contentBase)
	res.Header["Session"] = headers.Session{Session: s.sessionID}.Marshal()
	s.writeResponse(res)
}

func (s *Session) respondUpstreamError(res *base.Response, err error) {
	switch e := err.(type) {
	case ErrAuthRequired:
		res.StatusCode = base.StatusUnauthorized
		res.Header.Set("WWW-Authenticate", `Basic realm="`+e.Realm+`"`)
	case ErrNotFound, ErrNoMediaInfo:
		res.StatusCode = base.StatusNotFound
	default:
		if up, ok := err.(liberrors.ErrUpstream); ok {
			res.StatusCode = base.StatusCode(up.StatusCode)
		} else {
			res.StatusCode = base.StatusInternalServerError
		}
	}
	s.writeResponse(res)
}

// populateChannelsFromMediaInfo fills the channel table from
// s.mediaInfo: video, when present, takes slot 0 and audio the next
// free slot. mediainfo.Session keeps Video and Audio as separate
// fields and does not record which one the SDP declared first, so an
// SDP that lists audio before video still gets video in slot 0.
func (s *Session) populateChannelsFromMediaInfo() {
	idx := 0
	if s.mediaInfo.Video != nil {
		ch := &Channel{Index: idx, Content: ContentVideo, Codec: "h264", Timescale: s.mediaInfo.Video.Timescale}
		s.initChannelCodec(ch)
		s.channels[idx] = ch
		idx++
	}
	if s.mediaInfo.Audio != nil {
		ch := &Channel{Index: idx, Content: ContentAudio, Codec: "aac", Timescale: s.mediaInfo.Audio.Timescale}
		s.initChannelCodec(ch)
		s.channels[idx] = ch
	}
}

func (s *Session) channelForPathAndQuery(pathAndQuery string) (*Channel, bool) {
	rest, trackID := rtspurl.SplitTrackID(trimContentBase(pathAndQuery))
	_ = rest
	idx, ok := rtspurl.TrackIDInt(trackID)
	if !ok || idx < 0 || idx > 1 {
		return nil, false
	}
	return s.channels[idx], s.channels[idx] != nil
}

// handleListSegments answers LIST_SEGMENTS through the handler's
// optional SegmentLister capability (spec.md §6 "list_segments(path)
// -> {ok, bytes} | error (optional)"), advertised in publicMethods
// alongside GET_SEGMENT.
func (s *Session) handleListSegments(req *base.Request, res *base.Response) {
	lister, ok := s.handler.(SegmentLister)
	if !ok {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	u, err := rtspurl.Parse(req.URL)
	if err != nil {
		res.StatusCode = base.StatusBadRequest
		s.writeResponse(res)
		return
	}
	pathAndQuery, _ := u.RTSPPathAndQuery()

	body, err := lister.ListSegments(trimContentBase(pathAndQuery))
	if err != nil {
		s.respondUpstreamError(res, err)
		return
	}
	res.Body = body
	s.writeResponse(res)
}

// handleGetSegment answers GET_SEGMENT the same way, splitting the
// request path into the mount path and the trailing segment name
// (spec.md §6 "get_segment(path, seg) -> {ok, bytes} | error
// (optional)").
func (s *Session) handleGetSegment(req *base.Request, res *base.Response) {
	lister, ok := s.handler.(SegmentLister)
	if !ok {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	u, err := rtspurl.Parse(req.URL)
	if err != nil {
		res.StatusCode = base.StatusBadRequest
		s.writeResponse(res)
		return
	}
	pathAndQuery, _ := u.RTSPPathAndQuery()
	path, seg := splitSegmentName(trimContentBase(pathAndQuery))

	body, err := lister.GetSegment(path, seg)
	if err != nil {
		s.respondUpstreamError(res, err)
		return
	}
	res.Body = body
	s.writeResponse(res)
}

// splitSegmentName separates a GET_SEGMENT path into its mount path
// and trailing segment name at the last slash.
func splitSegmentName(pathAndQuery string) (path, seg string) {
	i := strings.LastIndex(pathAndQuery, "/")
	if i < 0 {
		return "", pathAndQuery
	}
	return pathAndQuery[:i], pathAndQuery[i+1:]
}

func (s *Session) handleSetup(req *base.Request, res *base.Response) {
	u, err := rtspurl.Parse(req.URL)
	if err != nil {
		res.StatusCode = base.StatusBadRequest
		s.writeResponse(res)
		return
	}
	pathAndQuery, _ := u.RTSPPathAndQuery()

	ch, ok := s.channelForPathAndQuery(pathAndQuery)
	if !ok {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	var ts headers.Transports
	if err := ts.Unmarshal(req.Header["Transport"]); err != nil || len(ts) == 0 {
		res.StatusCode = base.StatusUnsupportedTransport
		s.writeResponse(res)
		return
	}
	t := ts[0]

	isRecord := t.Mode != nil && *t.Mode == headers.TransportModeRecord

	switch {
	case t.Protocol == headers.TransportProtocolUDP && t.Unicast && t.ClientPorts != nil:
		rtpConn, rtcpConn, rtpPort, rtcpPort, err := bindUDPPortPair()
		if err != nil {
			res.StatusCode = base.StatusInternalServerError
			s.writeResponse(res)
			return
		}
		ch.Transport = headers.TransportProtocolUDP
		ch.RTPConn = rtpConn
		ch.RTCPConn = rtcpConn
		ch.ServerRTPPort, ch.ServerRTCPPort = rtpPort, rtcpPort
		ch.ClientRTPPort, ch.ClientRTCPPort = t.ClientPorts[0], t.ClientPorts[1]

		if err := connectChannelUDP(ch, s.clientIP, t.ClientPorts[0], t.ClientPorts[1]); err != nil {
			if ch.RTPConn != nil {
				ch.RTPConn.Close()
			}
			if ch.RTCPConn != nil {
				ch.RTCPConn.Close()
			}
			res.StatusCode = base.StatusInternalServerError
			s.writeResponse(res)
			return
		}

		reply := headers.Transport{
			Protocol:    headers.TransportProtocolUDP,
			Unicast:     true,
			ClientPorts: t.ClientPorts,
			ServerPorts: &[2]int{rtpPort, rtcpPort},
		}
		if isRecord {
			mode := headers.TransportModeRecord
			reply.Mode = &mode
			ch.Mode = headers.TransportModeRecord
		}
		res.Header["Transport"] = reply.Marshal()
		s.startUDPReaders(ch.Index, ch)

	case t.Protocol == headers.TransportProtocolTCP && t.Unicast && t.InterleavedIDs != nil:
		if isRecord {
			res.StatusCode = base.StatusUnsupportedTransport
			s.writeResponse(res)
			return
		}
		ch.Transport = headers.TransportProtocolTCP
		ch.InterleavedRTP, ch.InterleavedRTCP = t.InterleavedIDs[0], t.InterleavedIDs[1]

		reply := headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			Unicast:        true,
			InterleavedIDs: t.InterleavedIDs,
		}
		res.Header["Transport"] = reply.Marshal()

	default:
		res.StatusCode = base.StatusUnsupportedTransport
		s.writeResponse(res)
		return
	}

	// GStreamer's rtspclientsink sends a User-Agent-identifiable SETUP
	// that drops the session id from the immediate next request unless
	// Session is set on every SETUP reply too, not just DESCRIBE's.
	if ua, ok := req.Header.Get("User-Agent"); ok && strings.Contains(ua, "GStreamer") {
		res.Header["Session"] = headers.Session{Session: s.sessionID}.Marshal()
	}

	if ch.Transport == headers.TransportProtocolUDP {
		timeout := uint(63)
		res.Header["Session"] = headers.Session{Session: s.sessionID, Timeout: &timeout}.Marshal()
	}

	if isRecord {
		s.state = StatePreRecord
	} else {
		s.state = StatePrePlay
	}

	s.writeResponse(res)
}

func (s *Session) handlePlay(req *base.Request, res *base.Response) {
	if s.paused && s.flowType == FlowStream {
		s.paused = false
		s.writeResponse(res)
		return
	}

	if s.handler == nil {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	auth, _ := req.Header.Get("Authorization")
	src, err := s.handler.OnPlay(&PlayRequest{
		URL:       req.URL,
		Auth:      AuthInfo{Authorization: auth},
		ClientIP:  s.clientIP,
		SessionID: s.sessionID,
	})
	if err != nil {
		s.respondUpstreamError(res, err)
		return
	}

	s.source = src
	s.state = StatePlay
	s.paused = false

	var entries headers.RTPInfo
	for i, ch := range s.channels {
		if ch == nil {
			continue
		}
		seq := uint16(0)
		rtptime := uint32(0)
		entries = append(entries, &headers.RTPInfoEntry{
			URL:            s.contentBase + "trackID=" + strconv.Itoa(i),
			SequenceNumber: &seq,
			Timestamp:      &rtptime,
		})
	}
	res.Header["RTP-Info"] = entries.Marshal()
	res.Header.Set("Range", "npt=0-")

	s.writeResponse(res)
	go s.monitorSource()
}

func (s *Session) monitorSource() {
	src := s.source
	if src == nil {
		return
	}
	select {
	case <-src.Done():
		select {
		case s.controlCh <- controlItem{err: liberrors.ErrConsumerDown{}}:
		case <-s.stopCh:
		}
	case <-s.stopCh:
	}
}

func (s *Session) handlePause(req *base.Request, res *base.Response) {
	if s.flowType != FlowStream {
		res.StatusCode = base.StatusMethodNotAllowed
		s.writeResponse(res)
		return
	}
	s.paused = true
	s.writeResponse(res)
}

func (s *Session) handleAnnounce(req *base.Request, res *base.Response) {
	ct, _ := req.Header.Get("Content-Type")
	if !strings.EqualFold(ct, "application/sdp") {
		res.StatusCode = base.StatusBadRequest
		s.writeResponse(res)
		return
	}

	mi, err := mediainfo.Unmarshal(req.Body)
	if err != nil {
		res.StatusCode = base.StatusBadRequest
		s.writeResponse(res)
		return
	}
	s.mediaInfo = mi
	s.populateChannelsFromMediaInfo()

	if s.handler == nil {
		res.StatusCode = base.StatusNotFound
		s.writeResponse(res)
		return
	}

	auth, _ := req.Header.Get("Authorization")
	sink, err := s.handler.OnAnnounce(&AnnounceRequest{
		URL:       req.URL,
		Auth:      AuthInfo{Authorization: auth},
		MediaInfo: mi,
	})
	if err != nil {
		s.respondUpstreamError(res, err)
		return
	}

	s.sink = sink
	s.sessionID = newSessionID()
	res.Header["Session"] = headers.Session{Session: s.sessionID}.Marshal()
	s.writeResponse(res)
	go s.monitorSink()
}

// monitorSink mirrors monitorSource for the consumer side: started from
// handleAnnounce, it detects the death of the sink the handler
// returned the moment sink.Done() closes, instead of waiting for the
// next WriteFrame to fail. Only handleAnnounce sets s.sink, so a
// client-role Session has no sink and no consumer is monitored there.
func (s *Session) monitorSink() {
	sink := s.sink
	if sink == nil {
		return
	}
	select {
	case <-sink.Done():
		select {
		case s.controlCh <- controlItem{err: liberrors.ErrConsumerDown{}}:
		case <-s.stopCh:
		}
	case <-s.stopCh:
	}
}
