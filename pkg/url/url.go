// Package url contains a RTSP URL wrapper that tracks userinfo
// (needed for Basic/Digest auth) separately from the canonical URL used
// on the wire and in logs.
//
// Grounded on the teacher's pkg/url/path.go; the URL type itself is
// inferred from its usage across server_conn.go and server_session.go
// (RTSPPathAndQuery, CloneWithoutCredentials).
package url

import (
	"net/url"
	"strconv"
	"strings"
)

// URL is a RTSP URL.
type URL struct {
	Scheme   string
	User     *url.Userinfo
	Host     string
	Path     string
	RawQuery string
}

// Parse parses a raw RTSP URL.
func Parse(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	return &URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     u.Path,
		RawQuery: u.RawQuery,
	}, nil
}

// String reassembles the URL, including userinfo when present.
func (u *URL) String() string {
	out := &url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     u.Path,
		RawQuery: u.RawQuery,
	}
	return out.String()
}

// CloneWithoutCredentials returns a copy of the URL with userinfo
// stripped, the canonical presentation URL per spec.md §3.
func (u *URL) CloneWithoutCredentials() *URL {
	cp := *u
	cp.User = nil
	return &cp
}

// Credentials returns the userinfo embedded in the URL, if any.
func (u *URL) Credentials() (user, pass string, ok bool) {
	if u.User == nil {
		return "", "", false
	}
	pass, _ = u.User.Password()
	return u.User.Username(), pass, true
}

// RTSPPathAndQuery returns the path+query portion used to match SETUP
// tracks and ANNOUNCE media control attributes.
func (u *URL) RTSPPathAndQuery() (string, bool) {
	if u.Path == "" {
		return "", false
	}
	pathAndQuery := u.Path
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}
	return strings.TrimPrefix(pathAndQuery, "/"), true
}

// PathSplitQuery splits a path from a query, ground truth kept from
// the teacher's pkg/url/path.go.
func PathSplitQuery(pathAndQuery string) (string, string) {
	i := strings.Index(pathAndQuery, "?")
	if i >= 0 {
		return pathAndQuery[:i], pathAndQuery[i+1:]
	}
	return pathAndQuery, ""
}

// SplitTrackID extracts a "/trackID=N" suffix from a path+query, as
// used by SETUP (spec.md §4.3). It returns the remaining path+query
// and the track id string (empty if absent); the id is not validated
// here, TrackIDInt reports malformed digits.
func SplitTrackID(pathAndQuery string) (rest string, trackID string) {
	const marker = "/trackID="
	i := strings.LastIndex(pathAndQuery, marker)
	if i < 0 {
		return pathAndQuery, ""
	}
	return pathAndQuery[:i], pathAndQuery[i+len(marker):]
}

// TrackIDInt parses a trackID string into an integer track index.
// An empty string means "first track" (index 0).
func TrackIDInt(trackID string) (int, bool) {
	if trackID == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(trackID, 10, 16)
	if err != nil {
		return 0, false
	}
	return int(n), true
}
