// Package rtspsession implements the core of a RTSP 1.0 session
// endpoint: the per-connection protocol state machine, the RTP/RTCP
// media plane over TCP-interleaved or UDP transport, H.264/AAC
// packetization, and the RTCP timing exchange that reconciles NTP and
// RTP timebases.
//
// One Session owns one TCP control connection for its lifetime and
// runs as a single cooperative actor: all mutable state is touched
// only from the goroutine running Session.Run, matching the teacher's
// ServerConn/ServerSession split collapsed into a single entity
// (spec.md §9 "process-as-session model").
package rtspsession

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/ymn/rtspsession/pkg/auth"
	"github.com/ymn/rtspsession/pkg/base"
	"github.com/ymn/rtspsession/pkg/liberrors"
	"github.com/ymn/rtspsession/pkg/mediainfo"
	rtspurl "github.com/ymn/rtspsession/pkg/url"
)

const (
	idleTimeout     = 10 * time.Second
	callTimeout     = 10 * time.Second
	keepaliveEvery  = 9 * time.Second
	rrEvery         = 3 * time.Second
	rrEveryNoActive = 2 * time.Second
	driftThreshold  = 10000.0
	maxAudioShifts  = 6
)

// pendingCall is the single in-flight client request slot (spec.md §3
// "last_request", §5 "a single in-flight slot").
type pendingCall struct {
	req    *base.Request
	ref    string
	method base.Method
	result chan callResult

	// channel is non-nil only for a client-issued SETUP built by
	// AddChannel: handleClientResponse finishes activating it (parses
	// the peer's Transport reply, connects UDP sockets, installs it
	// into s.channels) on the actor goroutine before the caller's Call
	// unblocks, keeping all channel-table mutation on the single actor.
	channel *Channel
}

type callResult struct {
	resp *base.Response
	err  error
}

// controlItem tags an item read off the control socket so the actor
// can tell a read failure from a parsed message.
type controlItem struct {
	item base.Item
	err  error
}

// mediaDatagram is one inbound UDP RTP or RTCP packet, tagged with the
// channel it arrived on (spec.md §4.5 "UDP demultiplexing": "routed by
// source-socket identity to the correct channel's RTP or RTCP
// handler").
type mediaDatagram struct {
	channel int
	rtcp    bool
	payload []byte
}

// Session is one RTSP connection, server or client side.
type Session struct {
	nconn  net.Conn
	conn   *base.Conn
	role   Role
	state  State
	logger Logger

	seq int

	url         *rtspurl.URL
	contentBase string
	sessionID   string
	clientIP    string

	authState  AuthKind
	authSender *auth.Sender
	credUser   string
	credPass   string

	lastRequest *pendingCall

	keepaliveMethod base.Method
	paused          bool
	flowType        FlowType

	mediaInfo *mediainfo.Session
	channels  [2]*Channel

	firstDTS     float64
	haveFirstDTS bool

	audioDTSShift float64
	shiftCount    int
	lastVideoDTS  float64

	handler ServerHandler
	source  Source
	sink    Sink

	writeQueue chan func() error

	controlCh chan controlItem
	mediaCh   chan mediaDatagram
	callCh    chan *pendingCall
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   bool
	stopErr   error
}

// NewServerSession wraps an accepted TCP connection into a
// server-role Session. It does not start the actor; call Run.
func NewServerSession(nconn net.Conn, handler ServerHandler, logger Logger) *Session {
	if logger == nil {
		logger = StdLogger{}
	}

	host, _, _ := net.SplitHostPort(nconn.RemoteAddr().String())

	return &Session{
		nconn:           nconn,
		conn:            base.NewConn(nconn),
		role:            RoleServer,
		state:           StateInitial,
		logger:          logger,
		handler:         handler,
		clientIP:        host,
		keepaliveMethod: base.GetParameter,
		flowType:        FlowStream,
		writeQueue:      make(chan func() error, 256),
		controlCh:       make(chan controlItem, 32),
		mediaCh:         make(chan mediaDatagram, 64),
		callCh:          make(chan *pendingCall, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// NewClientSession creates a client-role Session not yet connected.
// Call Connect to dial, then Run to start the actor.
func NewClientSession(logger Logger) *Session {
	if logger == nil {
		logger = StdLogger{}
	}

	return &Session{
		role:            RoleClient,
		state:           StateInitial,
		logger:          logger,
		keepaliveMethod: base.GetParameter,
		flowType:        FlowStream,
		writeQueue:      make(chan func() error, 256),
		controlCh:       make(chan controlItem, 32),
		mediaCh:         make(chan mediaDatagram, 64),
		callCh:          make(chan *pendingCall, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Connect dials rawURL (client role), strips credentials for the
// canonical URL, and primes auth_state=basic if userinfo was present
// (spec.md §4.4).
func (s *Session) Connect(rawURL string, hostport string) error {
	u, err := rtspurl.Parse(rawURL)
	if err != nil {
		return err
	}

	addr := hostport
	if addr == "" {
		addr = u.Host
	}

	nconn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}

	s.nconn = nconn
	s.conn = base.NewConn(nconn)

	if user, pass, ok := u.Credentials(); ok {
		s.authState = AuthBasicKind
		s.credUser = user
		s.credPass = pass
	}
	s.url = u.CloneWithoutCredentials()

	return nil
}

// Close requests Session termination with the explicit-stop cause
// (spec.md §4.1 termination causes).
func (s *Session) Close() {
	s.terminate(liberrors.ErrSessionTerminated{})
}

// Done returns a channel closed once the Session's actor has exited.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Err returns the cause the Session terminated with, valid after Done
// is closed.
func (s *Session) Err() error { return s.stopErr }

// Run starts the control reader and the actor loop, blocking until
// termination. It is meant to be called from its own goroutine, for a
// server-accepted connection or right after Connect for a client
// (Call needs the actor running to be answered).
func (s *Session) Run() error {
	go s.readLoop()

	keepalive := time.NewTimer(keepaliveEvery)
	defer keepalive.Stop()
	rr := time.NewTimer(rrEveryNoActive)
	defer rr.Stop()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	haveFirstMessage := false

	for {
		select {
		case ci := <-s.controlCh:
			if ci.err != nil {
				s.terminate(ci.err)
				goto done
			}
			if !haveFirstMessage {
				haveFirstMessage = true
				idle.Stop()
			}
			s.handleItem(ci.item)

		case dg := <-s.mediaCh:
			s.handleMediaDatagram(dg)

		case frame, ok := <-s.sourceFrames():
			if ok {
				s.handleOutboundFrame(frame)
			}

		case pc := <-s.callCh:
			if err := s.issueCall(pc); err != nil {
				s.terminate(err)
				goto done
			}

		case <-keepalive.C:
			if s.role == RoleClient && s.lastRequest == nil {
				s.sendKeepalive()
			}
			keepalive.Reset(keepaliveEvery)

		case <-rr.C:
			s.emitReceiverReports()
			if s.anyChannelActive() {
				rr.Reset(rrEvery)
			} else {
				rr.Reset(rrEveryNoActive)
			}

		case <-idle.C:
			s.terminate(liberrors.ErrSessionTimedOut{Cause: "no activity before first message"})
			goto done

		case <-s.stopCh:
			goto done
		}
	}

done:
	s.cleanup()
	close(s.doneCh)
	return s.stopErr
}

func (s *Session) terminate(err error) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.stopErr = err
	close(s.stopCh)
}

func (s *Session) cleanup() {
	for _, ch := range s.channels {
		if ch == nil {
			continue
		}
		if ch.RTPConn != nil {
			ch.RTPConn.Close()
		}
		if ch.RTCPConn != nil {
			ch.RTCPConn.Close()
		}
	}
	if s.nconn != nil {
		s.nconn.Close()
	}
	if s.source != nil {
		s.source.Close()
	}
	if s.sink != nil {
		s.sink.Close()
	}
}

func (s *Session) readLoop() {
	for {
		item, err := s.conn.ReadMessage()
		select {
		case s.controlCh <- controlItem{item: item, err: err}:
		case <-s.stopCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// sourceFrames returns the active Source's frame channel, or nil
// (which blocks forever in a select) when no source is subscribed.
func (s *Session) sourceFrames() <-chan Frame {
	if s.source == nil {
		return nil
	}
	return s.source.Frames()
}

func (s *Session) anyChannelActive() bool {
	for _, ch := range s.channels {
		if ch != nil && ch.SSRC != 0 {
			return true
		}
	}
	return false
}

func (s *Session) handleItem(item base.Item) {
	switch v := item.(type) {
	case *base.Request:
		s.handleServerRequest(v)

	case *base.Response:
		s.handleClientResponse(v)

	case *base.InterleavedFrame:
		s.handleInterleavedFrame(v)
	}
}

// newSessionID mints a session identifier, recommended by spec.md §4.3
// as "epoch-microseconds"; a uuid is appended for uniqueness within
// the same microsecond under concurrent accepts, grounded on the
// teacher's own use of google/uuid for session identifiers.
func newSessionID() string {
	return fmt.Sprintf("%d%s", time.Now().UnixMicro(), uuid.NewString()[:8])
}
