package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ymn/rtspsession/pkg/base"
)

// keyValParse parses a ';'- or ','-delimited list of key=value (or bare
// flag) tokens, as used by RTP-Info and Authenticate.
// Values may be quoted with double quotes.
func keyValParse(s string, sep byte) (map[string]string, error) {
	ret := make(map[string]string)

	for _, kv := range strings.Split(s, string(sep)) {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}

		if i := strings.Index(kv, "="); i >= 0 {
			key := strings.ToLower(strings.TrimSpace(kv[:i]))
			val := strings.TrimSpace(kv[i+1:])
			val = strings.Trim(val, `"`)
			ret[key] = val
		} else {
			ret[strings.ToLower(kv)] = ""
		}
	}

	return ret, nil
}

// TransportProtocol is the transport protocol negotiated in SETUP.
type TransportProtocol int

// Protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportMode is the Transport header "mode" parameter.
type TransportMode int

// Modes.
const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// Transport is one Transport header alternative, as sent by a client
// in SETUP (one or more, in order of preference) or echoed by a
// server in the SETUP response.
type Transport struct {
	Protocol       TransportProtocol
	Unicast        bool
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	InterleavedIDs *[2]int
	Mode           *TransportMode
	SSRC           *uint32
}

// Transports is a list of Transport alternatives, as carried in one
// SETUP request header (comma-separated).
type Transports []Transport

// Unmarshal decodes a Transport header value.
func (ts *Transports) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	for _, raw := range strings.Split(strings.Join(v, ","), ",") {
		var t Transport
		t.Protocol = TransportProtocolUDP

		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			switch {
			case part == "":
				continue
			case part == "RTP/AVP" || part == "RTP/AVP/UDP":
				t.Protocol = TransportProtocolUDP
			case part == "RTP/AVP/TCP":
				t.Protocol = TransportProtocolTCP
			case part == "unicast":
				t.Unicast = true
			case part == "multicast":
				t.Unicast = false
			case strings.HasPrefix(part, "client_port="):
				p, err := parsePortRange(strings.TrimPrefix(part, "client_port="))
				if err != nil {
					return err
				}
				t.ClientPorts = p
			case strings.HasPrefix(part, "server_port="):
				p, err := parsePortRange(strings.TrimPrefix(part, "server_port="))
				if err != nil {
					return err
				}
				t.ServerPorts = p
			case strings.HasPrefix(part, "interleaved="):
				p, err := parsePortRange(strings.TrimPrefix(part, "interleaved="))
				if err != nil {
					return err
				}
				t.InterleavedIDs = p
			case strings.HasPrefix(part, "mode="):
				mode := strings.ToLower(strings.Trim(strings.TrimPrefix(part, "mode="), `"`))
				m := TransportModePlay
				if mode == "record" || mode == "receive" {
					m = TransportModeRecord
				}
				t.Mode = &m
			case strings.HasPrefix(part, "ssrc="):
				n, err := strconv.ParseUint(strings.TrimPrefix(part, "ssrc="), 16, 32)
				if err == nil {
					v := uint32(n)
					t.SSRC = &v
				}
			}
		}

		*ts = append(*ts, t)
	}

	return nil
}

func parsePortRange(s string) (*[2]int, error) {
	parts := strings.SplitN(s, "-", 2)
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid port range %q", s)
	}
	if len(parts) == 1 {
		return &[2]int{a, a + 1}, nil
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid port range %q", s)
	}
	return &[2]int{a, b}, nil
}

// Marshal encodes one SETUP-response Transport header.
func (t Transport) Marshal() base.HeaderValue {
	var sb strings.Builder
	if t.Protocol == TransportProtocolTCP {
		sb.WriteString("RTP/AVP/TCP")
	} else {
		sb.WriteString("RTP/AVP")
	}
	sb.WriteString(";unicast")

	if t.ClientPorts != nil {
		fmt.Fprintf(&sb, ";client_port=%d-%d", t.ClientPorts[0], t.ClientPorts[1])
	}
	if t.ServerPorts != nil {
		fmt.Fprintf(&sb, ";server_port=%d-%d", t.ServerPorts[0], t.ServerPorts[1])
	}
	if t.InterleavedIDs != nil {
		fmt.Fprintf(&sb, ";interleaved=%d-%d", t.InterleavedIDs[0], t.InterleavedIDs[1])
	}
	if t.SSRC != nil {
		fmt.Fprintf(&sb, ";ssrc=%08X", *t.SSRC)
	}
	if t.Mode != nil && *t.Mode == TransportModeRecord {
		// spec.md §4.3: preserve ";mode=receive" bytewise for UDP record SETUP replies.
		sb.WriteString(";mode=receive")
	}

	return base.HeaderValue{sb.String()}
}

// AuthMethod is Basic or Digest.
type AuthMethod int

// Methods.
const (
	AuthBasic AuthMethod = iota
	AuthDigest
)

// Authenticate represents a WWW-Authenticate challenge or an
// Authorization header's Digest values.
type Authenticate struct {
	Method   AuthMethod
	Realm    *string
	Nonce    *string
	Qop      *string
	Stale    *string
	Username *string
	URI      *string
	Response *string
}

// Unmarshal decodes a WWW-Authenticate or Authorization header value,
// e.g. `Digest realm="X", nonce="Y", stale=FALSE`.
func (a *Authenticate) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	s := v[0]

	switch {
	case strings.HasPrefix(s, "Digest"):
		a.Method = AuthDigest
		s = strings.TrimSpace(strings.TrimPrefix(s, "Digest"))
	case strings.HasPrefix(s, "Basic"):
		a.Method = AuthBasic
		s = strings.TrimSpace(strings.TrimPrefix(s, "Basic"))
	default:
		return fmt.Errorf("unsupported auth method: %q", s)
	}

	kvs, err := keyValParse(s, ',')
	if err != nil {
		return err
	}

	assign := func(key string) *string {
		if v, ok := kvs[key]; ok {
			return &v
		}
		return nil
	}

	a.Realm = assign("realm")
	a.Nonce = assign("nonce")
	a.Qop = assign("qop")
	a.Stale = assign("stale")
	a.Username = assign("username")
	a.URI = assign("uri")
	a.Response = assign("response")

	return nil
}

// Marshal encodes an Authorization header from computed credentials.
func (a Authenticate) Marshal() base.HeaderValue {
	if a.Method == AuthBasic {
		return base.HeaderValue{"Basic"}
	}

	var sb strings.Builder
	sb.WriteString("Digest ")
	parts := []string{}
	if a.Username != nil {
		parts = append(parts, fmt.Sprintf(`username="%s"`, *a.Username))
	}
	if a.Realm != nil {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, *a.Realm))
	}
	if a.Nonce != nil {
		parts = append(parts, fmt.Sprintf(`nonce="%s"`, *a.Nonce))
	}
	if a.URI != nil {
		parts = append(parts, fmt.Sprintf(`uri="%s"`, *a.URI))
	}
	if a.Response != nil {
		parts = append(parts, fmt.Sprintf(`response="%s"`, *a.Response))
	}
	sb.WriteString(strings.Join(parts, ", "))

	return base.HeaderValue{sb.String()}
}

// Session is the RTSP Session header.
type Session struct {
	Session string
	Timeout *uint
}

// Unmarshal decodes a Session header, keeping only the id token before
// any ";timeout=" suffix (spec.md §4.4: "learn Session header (first
// semicolon-delimited token)").
func (s *Session) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	parts := strings.SplitN(v[0], ";", 2)
	s.Session = strings.TrimSpace(parts[0])
	return nil
}

// Marshal encodes a Session header.
func (s Session) Marshal() base.HeaderValue {
	v := s.Session
	if s.Timeout != nil {
		v += fmt.Sprintf(";timeout=%d", *s.Timeout)
	}
	return base.HeaderValue{v}
}
