package archiver

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ThreadRef identifies a thread by where it lives.
type ThreadRef struct {
	Domain   string
	Board    string
	ThreadID int64
}

// ParseThreadURL splits a thread URL into domain, board and thread id. Empty
// and "thread" path segments are dropped; exactly a board and a numeric id
// must remain. A URL without a scheme gets the one implied by useSSL.
func ParseThreadURL(rawURL string, useSSL bool) (ThreadRef, error) {
	raw := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if raw == "" {
		return ThreadRef{}, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = Options{UseSSL: useSSL}.Scheme() + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ThreadRef{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ThreadRef{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return ThreadRef{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	segments := make([]string, 0, 2)
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || seg == "thread" {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) != 2 {
		return ThreadRef{}, fmt.Errorf("%w: want /<board>/thread/<id>, got %q", ErrInvalidURL, u.Path)
	}
	id, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil || id <= 0 || !isDigits(segments[1]) {
		return ThreadRef{}, fmt.Errorf("%w: thread id %q is not numeric", ErrInvalidURL, segments[1])
	}
	return ThreadRef{
		Domain:   strings.ToLower(u.Host),
		Board:    segments[0],
		ThreadID: id,
	}, nil
}

// ThreadPageURL builds the HTML page URL of a thread.
func ThreadPageURL(scheme, domain, board string, threadID int64) string {
	return fmt.Sprintf("%s://%s/%s/thread/%d", scheme, domain, board, threadID)
}

// FileName is the last path segment of a file URL, query and fragment
// excluded. It falls back to the raw base name when rawURL does not parse.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
