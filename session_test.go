package rtspsession

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ymn/rtspsession/pkg/base"
)

// fakeServer accepts one connection and answers every request with
// 200 OK, echoing CSeq and, from the second response on, a fixed
// Session token, recording each request it receives.
type fakeServer struct {
	ln       net.Listener
	requests chan *base.Request
}

func newFakeServer(t *testing.T) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	fs := &fakeServer{ln: ln, requests: make(chan *base.Request, 16)}

	go func() {
		nconn, err := ln.Accept()
		if err != nil {
			return
		}
		conn := base.NewConn(nconn)
		n := 0
		for {
			item, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, ok := item.(*base.Request)
			if !ok {
				continue
			}
			fs.requests <- req

			res := &base.Response{StatusCode: base.StatusOK, Header: base.Header{}}
			if cseq, ok := req.Header.Get("CSeq"); ok {
				res.Header.Set("CSeq", cseq)
			}
			if n > 0 {
				res.Header.Set("Session", "fixedsession123")
			}
			n++
			conn.WriteResponse(res)
		}
	}()

	return fs
}

// TestCSeqMonotonicityAndSessionBinding covers spec.md §8's "CSeq
// monotonicity" and "Session binding" properties together: CSeq
// strictly increases by 1 across outbound requests, and once a
// response carries Session, every later request carries that exact
// token.
func TestCSeqMonotonicityAndSessionBinding(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.ln.Close()

	s := NewClientSession(NopLogger{})
	if err := s.Connect("rtsp://"+fs.ln.Addr().String()+"/stream", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	go s.Run()
	defer s.Close()

	for i := 0; i < 3; i++ {
		if _, err := s.Call(base.Options, "", nil, nil); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}

	var cseqs []int
	var sessions []string
	for i := 0; i < 3; i++ {
		select {
		case req := <-fs.requests:
			v, _ := req.Header.Get("CSeq")
			n, err := strconv.Atoi(v)
			if err != nil {
				t.Fatalf("bad CSeq %q: %v", v, err)
			}
			cseqs = append(cseqs, n)
			sess, _ := req.Header.Get("Session")
			sessions = append(sessions, sess)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for request %d", i)
		}
	}

	for i := 1; i < len(cseqs); i++ {
		if cseqs[i] != cseqs[i-1]+1 {
			t.Errorf("CSeq sequence %v not strictly increasing by 1", cseqs)
		}
	}

	if sessions[2] != "fixedsession123" {
		t.Errorf("third request Session = %q, want fixedsession123 (learned from second response)", sessions[2])
	}
}
