package rtspsession

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/ymn/rtspsession/pkg/liberrors"
)

// udpPortRangeStart/End bound the search spec.md §4.5 describes: "pick
// a random even start port in [10000, 20000); ... retry up to 60000."
const (
	udpPortRangeStart = 10000
	udpPortRangeEnd   = 20000
	udpPortSearchCap  = 60000
)

// bindUDPPortPair implements the Transport Manager's UDP port-pair
// binder: RTP at P, RTCP at P+1, P even. Grounded on the teacher's
// server_stream.go port-allocation loop, generalized into a
// standalone function the Session's SETUP handler calls directly
// rather than through a shared server-wide port manager (the teacher
// tracks allocations across ServerStreams; this core's Session is the
// only owner of its own port pair, per spec.md §5 "UDP port pairs are
// exclusively owned by one Session for its lifetime").
func bindUDPPortPair() (rtpConn, rtcpConn *net.UDPConn, rtpPort, rtcpPort int, err error) {
	start := randomEvenPort()

	for p := start; p < udpPortSearchCap; p += 2 {
		rc, err1 := net.ListenUDP("udp", &net.UDPAddr{Port: p})
		if err1 != nil {
			continue
		}
		cc, err2 := net.ListenUDP("udp", &net.UDPAddr{Port: p + 1})
		if err2 != nil {
			rc.Close()
			continue
		}
		return rc, cc, p, p + 1, nil
	}

	return nil, nil, 0, 0, liberrors.ErrNoPorts{}
}

// randomEvenPort returns a random even port in [10000, 20000).
func randomEvenPort() int {
	span := (udpPortRangeEnd - udpPortRangeStart) / 2
	var b [2]byte
	_, err := rand.Read(b[:])
	n := 0
	if err == nil {
		n = int(binary.BigEndian.Uint16(b[:])) % span
	}
	return udpPortRangeStart + n*2
}

// connectUDP closes an unconnected UDP socket bound by bindUDPPortPair
// and reopens it pinned to the same local port but connected to the
// now-known peer address, per spec.md §4.5 "UDP connect on channel
// activation": connecting lets later RTP/RTCP writes omit the
// destination, and lets ch.RTPConn/RTCPConn.Write be used uniformly
// with the interleaved-TCP write path in rtp.go.
func connectUDP(conn *net.UDPConn, remote *net.UDPAddr) (*net.UDPConn, error) {
	local := conn.LocalAddr().(*net.UDPAddr)
	if err := conn.Close(); err != nil {
		return nil, err
	}
	return net.DialUDP("udp", &net.UDPAddr{Port: local.Port}, remote)
}

// connectChannelUDP connects both sockets of a channel to remoteHost,
// using the peer's RTP/RTCP ports.
func connectChannelUDP(ch *Channel, remoteHost string, remoteRTPPort, remoteRTCPPort int) error {
	rtpAddr := &net.UDPAddr{IP: net.ParseIP(remoteHost), Port: remoteRTPPort}
	rtcpAddr := &net.UDPAddr{IP: net.ParseIP(remoteHost), Port: remoteRTCPPort}

	if rtpAddr.IP == nil || rtcpAddr.IP == nil {
		ips, err := net.LookupIP(remoteHost)
		if err != nil {
			return fmt.Errorf("resolve peer host %q: %w", remoteHost, err)
		}
		if len(ips) == 0 {
			return fmt.Errorf("resolve peer host %q: no addresses", remoteHost)
		}
		rtpAddr.IP = ips[0]
		rtcpAddr.IP = ips[0]
	}

	rc, err := connectUDP(ch.RTPConn, rtpAddr)
	if err != nil {
		return err
	}
	ch.RTPConn = rc

	cc, err := connectUDP(ch.RTCPConn, rtcpAddr)
	if err != nil {
		return err
	}
	ch.RTCPConn = cc

	return nil
}

// writeInterleaved frames payload as an interleaved TCP block on the
// given channel id and writes it to the control connection (spec.md
// §4.5: "$" + interleaved_id + length(u16 big-endian) + payload).
func (s *Session) writeInterleaved(channelID int, payload []byte) error {
	out := make([]byte, 4+len(payload))
	out[0] = '$'
	out[1] = byte(channelID)
	out[2] = byte(len(payload) >> 8)
	out[3] = byte(len(payload))
	copy(out[4:], payload)

	_, err := s.nconn.Write(out)
	return err
}
